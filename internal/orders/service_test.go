package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/aws/awstest"
	"github.com/imrishuroy/storefront-checkout/internal/customers"
	"github.com/imrishuroy/storefront-checkout/internal/money"
	"github.com/imrishuroy/storefront-checkout/internal/validation"
)

type recorder struct{ names []string }

func (r *recorder) Incr(_ context.Context, name string) { r.names = append(r.names, name) }

func (r *recorder) count(name string) int {
	n := 0
	for _, got := range r.names {
		if got == name {
			n++
		}
	}
	return n
}

type fixture struct {
	svc     *Service
	mock    *awstest.Dynamo
	metrics *recorder
}

func newFixture(verifyTotal bool) fixture {
	mock := awstest.NewDynamo()
	mock.DefineTable("customers", "customer_id")
	mock.DefineTable("customer_emails", "email")
	mock.DefineTable("orders", "order_id")
	mock.DefineTable("order_items", "order_id", "line_no")
	metrics := &recorder{}
	svc := NewService(
		customers.NewStore(mock, "customers", "customer_emails"),
		NewStore(mock, "orders", "order_items"),
		validation.New(validation.Options{TaxRate: 0.05, VerifyTotal: verifyTotal}),
		metrics,
	)
	return fixture{svc: svc, mock: mock, metrics: metrics}
}

func exampleRequest() validation.PlaceOrderRequest {
	return validation.PlaceOrderRequest{
		Email:   "a@b.com",
		Name:    "A",
		Address: "X",
		Phone:   "01712345678",
		CartItems: []validation.CartItem{
			{ProductID: "1", Quantity: 2, Price: money.MustParse("10")},
		},
		Total: money.MustParse("21"),
	}
}

func TestPlaceOrder_Example(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	p, err := f.svc.PlaceOrder(ctx, exampleRequest())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if p.Order.OrderID == "" || !p.CustomerCreated {
		t.Fatalf("unexpected placement %+v", p)
	}
	if p.Customer.Email != "a@b.com" {
		t.Fatalf("unexpected customer %+v", p.Customer)
	}

	got, err := f.svc.GetOrder(ctx, p.Order.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if !got.TotalAmount.Equal(money.MustParse("21")) || got.Status != StatusPending {
		t.Fatalf("unexpected order %+v", got.Order)
	}
	if got.PaymentMethod != PaymentCashOnDelivery {
		t.Fatalf("omitted payment method should default to cash_on_delivery, got %q", got.PaymentMethod)
	}
	if len(got.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got.Items))
	}
	it := got.Items[0]
	if it.ProductID != "1" || it.Quantity != 2 || !it.Price.Equal(money.MustParse("10")) {
		t.Fatalf("unexpected item %+v", it)
	}
	if f.metrics.count("OrdersPlaced") != 1 || f.metrics.count("CustomersCreated") != 1 {
		t.Fatalf("unexpected metrics %v", f.metrics.names)
	}
}

func TestPlaceOrder_SecondOrderReusesCustomer(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	first, err := f.svc.PlaceOrder(ctx, exampleRequest())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	req := exampleRequest()
	req.Name = "Renamed"
	req.PaymentMethod = PaymentInstant
	req.CartItems = []validation.CartItem{
		{ProductID: "1", Quantity: 1, Price: money.MustParse("10")},
		{ProductID: "2", Quantity: 3, Price: money.MustParse("5")},
		{ProductID: "3", Quantity: 1, Price: money.MustParse("0.5")},
	}
	req.Total = money.MustParse("26.78") // 25.5 * 1.05 = 26.775
	second, err := f.svc.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if second.CustomerCreated || second.Customer.CustomerID != first.Customer.CustomerID {
		t.Fatalf("customer was not reused")
	}
	if second.Customer.Name != "A" {
		t.Fatalf("existing customer must not be updated, got name %q", second.Customer.Name)
	}
	if f.mock.Count("customers") != 1 {
		t.Fatalf("expected 1 customer, got %d", f.mock.Count("customers"))
	}
	if f.mock.Count("orders") != 2 || f.mock.Count("order_items") != 4 {
		t.Fatalf("expected 2 orders / 4 items, got %d / %d", f.mock.Count("orders"), f.mock.Count("order_items"))
	}
	if second.Order.PaymentMethod != PaymentInstant || len(second.Items) != 3 {
		t.Fatalf("unexpected second order %+v", second.Order)
	}
}

func TestPlaceOrder_ValidationWritesNothing(t *testing.T) {
	f := newFixture(true)
	cases := map[string]func(r *validation.PlaceOrderRequest){
		"empty cart":     func(r *validation.PlaceOrderRequest) { r.CartItems = nil },
		"bad email":      func(r *validation.PlaceOrderRequest) { r.Email = "nope" },
		"bad phone":      func(r *validation.PlaceOrderRequest) { r.Phone = "12" },
		"zero quantity":  func(r *validation.PlaceOrderRequest) { r.CartItems[0].Quantity = 0 },
		"total mismatch": func(r *validation.PlaceOrderRequest) { r.Total = money.MustParse("20") },
	}
	for name, mutate := range cases {
		req := exampleRequest()
		mutate(&req)
		_, err := f.svc.PlaceOrder(context.Background(), req)
		if !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
	if f.mock.Count("customers") != 0 || f.mock.Count("orders") != 0 {
		t.Fatalf("validation failures must not write")
	}
}

func TestPlaceOrder_TrustedTotalWhenVerificationOff(t *testing.T) {
	f := newFixture(false)
	req := exampleRequest()
	req.Total = money.MustParse("20.00")
	p, err := f.svc.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !p.Order.TotalAmount.Equal(money.MustParse("20")) {
		t.Fatalf("total not stored as supplied: %s", p.Order.TotalAmount)
	}
}

func TestPlaceOrder_OrderWriteFailure(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	// customer is created by its own transaction; fail only the order write
	if _, _, err := customers.NewStore(f.mock, "customers", "customer_emails").FindOrCreate(ctx, customers.Customer{Email: "a@b.com"}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	f.mock.FailOn("TransactWriteItems", errors.New("connection lost"))

	_, err := f.svc.PlaceOrder(ctx, exampleRequest())
	if !apperr.Is(err, apperr.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if f.mock.Count("orders") != 0 || f.mock.Count("order_items") != 0 {
		t.Fatalf("partial order persisted")
	}
	if f.metrics.count("OrdersPlaced") != 0 {
		t.Fatalf("failed placement counted")
	}
}

func TestPlaceOrder_CustomerLookupFailure(t *testing.T) {
	f := newFixture(true)
	f.mock.FailOn("GetItem", errors.New("timeout"))
	_, err := f.svc.PlaceOrder(context.Background(), exampleRequest())
	if !apperr.Is(err, apperr.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestGetOrderAndCustomerForOrder(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	if _, err := f.svc.GetOrder(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.CustomerForOrder(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	p, err := f.svc.PlaceOrder(ctx, exampleRequest())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	c, err := f.svc.CustomerForOrder(ctx, p.Order.OrderID)
	if err != nil {
		t.Fatalf("CustomerForOrder: %v", err)
	}
	if c.CustomerID != p.Customer.CustomerID || c.Phone != "01712345678" {
		t.Fatalf("unexpected customer %+v", c)
	}
}
