package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-checkout/internal/aws"
)

// ErrSessionExists is returned by Create when the transaction id is taken.
var ErrSessionExists = errors.New("payment session already exists")

// ErrStatusMismatch is returned by Transition when the session is missing or
// not in the expected status.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// Store encapsulates operations on the payment_sessions table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new payment session Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Create writes a new session. It never overwrites an existing one.
func (s *Store) Create(ctx context.Context, sess Session) error {
	now := s.nowFunc().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = sess.CreatedAt

	item, err := attributevalue.MarshalMap(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(transaction_id)"),
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return ErrSessionExists
		}
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Get fetches a session by transaction id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, transactionID string) (*Session, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"transaction_id": &types.AttributeValueMemberS{Value: transactionID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var sess Session
	if err := attributevalue.UnmarshalMap(out.Item, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Transition moves a session from expected to next and records the gateway's
// transaction reference. Returns ErrStatusMismatch if the condition failed.
func (s *Store) Transition(ctx context.Context, transactionID, expected, next, gatewayTrxID string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"transaction_id": &types.AttributeValueMemberS{Value: transactionID},
		},
		UpdateExpression:         awsString("SET #s = :next, gateway_trx_id = :trx, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(transaction_id) AND #s = :expected"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":     &types.AttributeValueMemberS{Value: next},
			":expected": &types.AttributeValueMemberS{Value: expected},
			":trx":      &types.AttributeValueMemberS{Value: gatewayTrxID},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
