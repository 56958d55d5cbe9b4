package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/storefront-checkout/internal/aws"
	"github.com/imrishuroy/storefront-checkout/internal/config"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logging.Init("worker", cfg.LogLevel)

	clients, err := aws.NewClients(context.Background(), aws.Settings{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		slog.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	var metrics *aws.Metrics
	if cfg.Metrics.Enabled {
		metrics = aws.NewMetrics(clients.CloudWatch, cfg.Metrics.Namespace, "worker")
	}
	p := NewProcessor(orders.NewStore(clients.DynamoDB, cfg.Tables.Orders, cfg.Tables.OrderItems), metrics)

	// RUN_LOCAL=true processes a single message taken from LOCAL_SQS_BODY.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"type":"payment.succeeded","order_id":"local-order-1","transaction_id":"local-tx-1"}`
		}
		resp, _ := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if len(resp.BatchItemFailures) > 0 {
			slog.Error("local message failed")
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
