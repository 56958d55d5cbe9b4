package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/imrishuroy/storefront-checkout/internal/aws/awstest"
	"github.com/imrishuroy/storefront-checkout/internal/money"
)

func newTestStore() (*Store, *awstest.Dynamo) {
	mock := awstest.NewDynamo()
	mock.DefineTable("orders", "order_id")
	mock.DefineTable("order_items", "order_id", "line_no")
	return NewStore(mock, "orders", "order_items"), mock
}

func TestCreateWithItems_Success(t *testing.T) {
	store, mock := newTestStore()
	ctx := context.Background()

	order := Order{
		OrderID:       "order-1",
		CustomerID:    "cust-1",
		Status:        StatusPending,
		PaymentMethod: PaymentCashOnDelivery,
		TotalAmount:   money.MustParse("123.45"),
	}
	items := []Item{
		{ProductID: "1", Quantity: 2, Price: money.MustParse("10")},
		{ProductID: "2", Quantity: 1, Price: money.MustParse("99.99")},
	}

	if err := store.CreateWithItems(ctx, order, items); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	got, err := store.Get(ctx, "order-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if !got.TotalAmount.Equal(money.MustParse("123.45")) || got.ItemCount != 2 || got.Status != StatusPending {
		t.Fatalf("unexpected stored order %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set")
	}

	lines, err := store.Items(ctx, "order-1")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(lines) != 2 || mock.Count("order_items") != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].LineNo != 1 || lines[0].ProductID != "1" || lines[0].Quantity != 2 || !lines[0].Price.Equal(money.MustParse("10")) {
		t.Fatalf("unexpected first line %+v", lines[0])
	}
	if lines[1].OrderID != "order-1" || !lines[1].Price.Equal(money.MustParse("99.99")) {
		t.Fatalf("unexpected second line %+v", lines[1])
	}
}

func TestCreateWithItems_DuplicateOrderWritesNothing(t *testing.T) {
	store, mock := newTestStore()
	ctx := context.Background()

	existing, _ := attributevalue.MarshalMap(Order{OrderID: "order-2", Status: StatusPaid})
	mock.Seed("orders", existing)

	err := store.CreateWithItems(ctx, Order{OrderID: "order-2", Status: StatusPending}, []Item{{ProductID: "1", Quantity: 1, Price: money.MustParse("1")}})
	if err == nil {
		t.Fatalf("expected transaction canceled error, got nil")
	}
	if mock.Count("order_items") != 0 {
		t.Fatalf("items written despite canceled transaction")
	}
	got, _ := store.Get(ctx, "order-2")
	if got.Status != StatusPaid {
		t.Fatalf("existing order was overwritten")
	}
}

func TestCreateWithItems_StorageFailureLeavesNoPartialOrder(t *testing.T) {
	store, mock := newTestStore()
	mock.FailOn("TransactWriteItems", errors.New("ProvisionedThroughputExceededException"))

	err := store.CreateWithItems(context.Background(), Order{OrderID: "order-3"}, []Item{{ProductID: "1", Quantity: 1, Price: money.MustParse("1")}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if mock.Count("orders") != 0 || mock.Count("order_items") != 0 {
		t.Fatalf("partial state written")
	}
}

func TestCreateWithItems_TooManyItems(t *testing.T) {
	store, mock := newTestStore()
	items := make([]Item, MaxItems+1)
	if err := store.CreateWithItems(context.Background(), Order{OrderID: "big"}, items); err == nil {
		t.Fatalf("expected error for oversized order")
	}
	if mock.Calls("TransactWriteItems") != 0 {
		t.Fatalf("oversized order should not reach DynamoDB")
	}
}

func TestUpdateStatus_Condition_SuccessAndFail(t *testing.T) {
	store, mock := newTestStore()
	now := time.Now()
	item, _ := attributevalue.MarshalMap(Order{
		OrderID:    "order-10",
		CustomerID: "c10",
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	mock.Seed("orders", item)

	// success: pending -> paid
	if err := store.UpdateStatus(context.Background(), "order-10", StatusPending, StatusPaid); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	// failure: pending -> payment_failed (but current is paid)
	err := store.UpdateStatus(context.Background(), "order-10", StatusPending, StatusPaymentFailed)
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}

	// missing order never gets created by an update
	err = store.UpdateStatus(context.Background(), "ghost", StatusPending, StatusPaid)
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch for missing order, got %v", err)
	}
	if mock.Count("orders") != 1 {
		t.Fatalf("update created a phantom order")
	}
}
