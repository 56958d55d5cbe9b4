package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/storefront-checkout/internal/aws"
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long a key is remembered
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// ErrConditionFailed indicates a conditional write failed, e.g. the record
// was not in the status the caller expected.
var ErrConditionFailed = errors.New("conditional check failed")

// HashRequest fingerprints a request body so a key reused for a different
// request can be told apart from a retry.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CreateIfNotExists creates an IN_PROGRESS record for key.
// Returns (true, nil) if created, (false, nil) if the key already exists
// (the caller should Begin instead to inspect it), (false, err) on other errors.
func (s *Store) CreateIfNotExists(ctx context.Context, key, requestHash string) (bool, error) {
	now := s.nowFunc().UTC()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		RequestHash:    requestHash,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// get reads a record by key, expired or not. A missing key is (nil, nil).
func (s *Store) get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// Decision tells the caller of Begin what to do with a request.
type Decision int

const (
	// Proceed: the caller owns the key and must finish with MarkDone or
	// MarkFailed.
	Proceed Decision = iota
	// Replay: the key finished; answer with the stored response.
	Replay
	// InFlight: another attempt holds the key.
	InFlight
	// Mismatch: the key was used for a different request body.
	Mismatch
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Replay:
		return "replay"
	case InFlight:
		return "in_flight"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Begin claims key for a request hashing to requestHash. Expired and FAILED
// records are reclaimed. The returned record is set for Replay and Mismatch.
func (s *Store) Begin(ctx context.Context, key, requestHash string) (Decision, *Record, error) {
	created, err := s.CreateIfNotExists(ctx, key, requestHash)
	if err != nil {
		return 0, nil, err
	}
	if created {
		return Proceed, nil, nil
	}

	rec, err := s.get(ctx, key)
	if err != nil {
		return 0, nil, err
	}
	if rec == nil {
		// deleted by TTL between the put and the read
		return InFlight, nil, nil
	}

	switch {
	case rec.Expired(s.nowFunc()):
	case rec.RequestHash != requestHash:
		return Mismatch, rec, nil
	case rec.Status == StatusDone:
		return Replay, rec, nil
	case rec.Status == StatusInProgress:
		return InFlight, rec, nil
	}

	if err := s.Reclaim(ctx, key, rec.Status, requestHash); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return InFlight, nil, nil
		}
		return 0, nil, err
	}
	return Proceed, nil, nil
}

// Reclaim moves a FAILED or expired record back to IN_PROGRESS for a new
// attempt with requestHash, refreshing its TTL. Returns ErrConditionFailed
// if another caller reclaimed it first.
func (s *Store) Reclaim(ctx context.Context, key, expectedStatus, requestHash string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    awsString("SET #s = :inprogress, request_hash = :rh, expires_at = :exp, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(idempotency_key) AND #s = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":expected":   &types.AttributeValueMemberS{Value: expectedStatus},
			":rh":         &types.AttributeValueMemberS{Value: requestHash},
			":exp":        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttlWindow).Unix(), 10)},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item (reclaim): %w", err)
	}
	return nil
}

// MarkDone stores the response of a finished IN_PROGRESS attempt so retries
// can replay it.
func (s *Store) MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    awsString("SET #s = :done, order_id = :oid, response_body = :rb, response_status = :rs, updated_at = :ua"),
		ConditionExpression: awsString("#s = :inprogress"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":       &types.AttributeValueMemberS{Value: StatusDone},
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":oid":        &types.AttributeValueMemberS{Value: orderID},
			":rb":         &types.AttributeValueMemberS{Value: responseBody},
			":rs":         &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks an IN_PROGRESS record FAILED with a note, so the next
// retry may reclaim it.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ConditionExpression: awsString("#s = :inprogress"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":     &types.AttributeValueMemberS{Value: StatusFailed},
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":n":          &types.AttributeValueMemberS{Value: note},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
