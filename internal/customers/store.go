package customers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-checkout/internal/aws"
)

// ErrEmailTaken is returned by Create when another customer already owns
// the email.
var ErrEmailTaken = errors.New("customer email already registered")

// Store encapsulates operations on the customers and customer_emails tables.
type Store struct {
	client      aws.DynamoDBAPI
	tableName   string
	emailsTable string
	nowFunc     func() time.Time
	newID       func() string
}

// NewStore creates a new customers Store.
func NewStore(client aws.DynamoDBAPI, tableName, emailsTable string) *Store {
	return &Store{
		client:      client,
		tableName:   tableName,
		emailsTable: emailsTable,
		nowFunc:     time.Now,
		newID:       uuid.NewString,
	}
}

// Get fetches a customer by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, customerID string) (*Customer, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"customer_id": &types.AttributeValueMemberS{Value: customerID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var c Customer
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	return &c, nil
}

// GetByEmail resolves the email index and fetches the customer.
// Returns (nil, nil) if no customer owns the email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Customer, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.emailsTable,
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: NormalizeEmail(email)},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get email index: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var idx emailIndex
	if err := attributevalue.UnmarshalMap(out.Item, &idx); err != nil {
		return nil, fmt.Errorf("unmarshal email index: %w", err)
	}
	c, err := s.Get(ctx, idx.CustomerID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("email index %q points at missing customer %s", idx.Email, idx.CustomerID)
	}
	return c, nil
}

// Create inserts the customer and its email index row in one transaction.
// The customer id and creation time are assigned here. Returns ErrEmailTaken
// when the email row already exists.
func (s *Store) Create(ctx context.Context, c Customer) (*Customer, error) {
	c.CustomerID = s.newID()
	c.CreatedAt = s.nowFunc().UTC()

	custMap, err := attributevalue.MarshalMap(c)
	if err != nil {
		return nil, fmt.Errorf("marshal customer: %w", err)
	}
	idxMap, err := attributevalue.MarshalMap(emailIndex{Email: NormalizeEmail(c.Email), CustomerID: c.CustomerID})
	if err != nil {
		return nil, fmt.Errorf("marshal email index: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.emailsTable,
					Item:                idxMap,
					ConditionExpression: awsString("attribute_not_exists(email)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                custMap,
					ConditionExpression: awsString("attribute_not_exists(customer_id)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && conditionFailedAt(tce, 0) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("transact write customer: %w", err)
	}
	return &c, nil
}

// FindOrCreate returns the customer owning c.Email, creating it from c when
// absent. An existing customer is returned unmodified. created reports
// whether this call inserted the row. A concurrent creation of the same email
// is resolved by re-reading the winner.
func (s *Store) FindOrCreate(ctx context.Context, c Customer) (cust *Customer, created bool, err error) {
	existing, err := s.GetByEmail(ctx, c.Email)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	newCust, err := s.Create(ctx, c)
	if err == nil {
		return newCust, true, nil
	}
	if !errors.Is(err, ErrEmailTaken) {
		return nil, false, err
	}

	winner, err := s.GetByEmail(ctx, c.Email)
	if err != nil {
		return nil, false, err
	}
	if winner == nil {
		return nil, false, fmt.Errorf("email %q reported taken but not readable: %w", c.Email, ErrEmailTaken)
	}
	return winner, false, nil
}

func conditionFailedAt(tce *types.TransactionCanceledException, i int) bool {
	if i >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[i].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
