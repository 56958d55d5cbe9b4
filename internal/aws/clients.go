package aws

import (
	"context"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients are the service clients the api and the worker talk to. The
// worker never publishes, so it leaves SQS unused.
type Clients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// NewClients resolves region, credentials and endpoint once from s.
func NewClients(ctx context.Context, s Settings) (*Clients, error) {
	cfg, err := LoadAWSConfig(ctx, s)
	if err != nil {
		return nil, err
	}
	return ClientsFromConfig(cfg), nil
}

// ClientsFromConfig builds every client from an already resolved config.
func ClientsFromConfig(cfg sdkaws.Config) *Clients {
	return &Clients{
		DynamoDB:   dynamodb.NewFromConfig(cfg),
		SQS:        sqs.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}
}
