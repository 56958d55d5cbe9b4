package orders

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

// MaxItems is the most lines one order can carry: the order row and its items
// share a single TransactWriteItems call, which is capped at 100 actions.
const MaxItems = 99

// Store encapsulates operations on the orders and order_items tables.
type Store struct {
	client     aws.DynamoDBAPI
	tableName  string
	itemsTable string
	nowFunc    func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName, itemsTable string) *Store {
	return &Store{
		client:     client,
		tableName:  tableName,
		itemsTable: itemsTable,
		nowFunc:    time.Now,
	}
}

// CreateWithItems atomically writes the order row and one row per item.
// order.OrderID must be set by the caller; line numbers are assigned here in
// slice order starting at 1. Either everything is written or nothing is.
func (s *Store) CreateWithItems(ctx context.Context, order Order, items []Item) error {
	if len(items) > MaxItems {
		return fmt.Errorf("order has %d items, at most %d fit in one transaction", len(items), MaxItems)
	}

	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.ItemCount = len(items)

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := make([]types.TransactWriteItem, 0, len(items)+1)
	transactItems = append(transactItems, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                orderMap,
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		},
	})
	for i, it := range items {
		it.OrderID = order.OrderID
		it.LineNo = i + 1
		itemMap, err := attributevalue.MarshalMap(it)
		if err != nil {
			return fmt.Errorf("marshal order line %d: %w", it.LineNo, err)
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName: &s.itemsTable,
				Item:      itemMap,
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled (order id %s may already exist): %w", order.OrderID, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key,
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Items returns the lines of an order ordered by line number.
func (s *Store) Items(ctx context.Context, orderID string) ([]Item, error) {
	var (
		items []Item
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.itemsTable,
			KeyConditionExpression: awsString("order_id = :oid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":oid": &types.AttributeValueMemberS{Value: orderID},
			},
			ExclusiveStartKey: start,
			ConsistentRead:    awsBool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("query order items: %w", err)
		}
		var page []Item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

// ErrStatusMismatch is returned by UpdateStatus when the order is missing or
// not in the expected status.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(order_id) AND #s = :expected"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
