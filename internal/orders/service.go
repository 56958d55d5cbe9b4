package orders

import (
	"context"
	"errors"
	"log/slog"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/customers"
	"github.com/imrishuroy/storefront-checkout/internal/validation"
)

// CustomerStore is what placement needs from the customers store.
type CustomerStore interface {
	FindOrCreate(ctx context.Context, c customers.Customer) (*customers.Customer, bool, error)
	Get(ctx context.Context, customerID string) (*customers.Customer, error)
}

// Repository is what placement needs from the orders store.
type Repository interface {
	CreateWithItems(ctx context.Context, order Order, items []Item) error
	Get(ctx context.Context, orderID string) (*Order, error)
	Items(ctx context.Context, orderID string) ([]Item, error)
}

// Counter records business metrics.
type Counter interface {
	Incr(ctx context.Context, name string)
}

// Service places orders.
type Service struct {
	customers CustomerStore
	orders    Repository
	validate  *validatorv10.Validate
	metrics   Counter
	newID     func() string
	nowFunc   func() time.Time
}

func NewService(cs CustomerStore, repo Repository, v *validatorv10.Validate, metrics Counter) *Service {
	return &Service{
		customers: cs,
		orders:    repo,
		validate:  v,
		metrics:   metrics,
		newID:     uuid.NewString,
		nowFunc:   time.Now,
	}
}

// Placement is the result of a successful PlaceOrder.
type Placement struct {
	Order           Order
	Items           []Item
	Customer        customers.Customer
	CustomerCreated bool
}

// PlaceOrder validates the request, finds or creates the customer by email,
// then writes the order and its lines in one transaction. The supplied total
// is stored as given.
func (s *Service) PlaceOrder(ctx context.Context, req validation.PlaceOrderRequest) (*Placement, error) {
	const op = "orders.PlaceOrder"

	if err := validation.Check(s.validate, op, req); err != nil {
		return nil, err
	}

	cust, created, err := s.customers.FindOrCreate(ctx, customers.Customer{
		Email:   req.Email,
		Name:    req.Name,
		Address: req.Address,
		Phone:   req.Phone,
	})
	if err != nil {
		if errors.Is(err, customers.ErrEmailTaken) {
			return nil, apperr.Conflict(op, err, "customer %s is being created concurrently, retry", req.Email)
		}
		return nil, apperr.Storage(op, err, "find or create customer")
	}
	if created {
		slog.InfoContext(ctx, "created new customer", "customer_id", cust.CustomerID)
		s.incr(ctx, "CustomersCreated")
	} else {
		slog.InfoContext(ctx, "found existing customer", "customer_id", cust.CustomerID)
	}

	method := req.PaymentMethod
	if method == "" {
		method = PaymentCashOnDelivery
	}

	order := Order{
		OrderID:       s.newID(),
		CustomerID:    cust.CustomerID,
		TotalAmount:   req.Total,
		PaymentMethod: method,
		Status:        StatusPending,
		CreatedAt:     s.nowFunc().UTC(),
	}
	items := make([]Item, 0, len(req.CartItems))
	for i, ci := range req.CartItems {
		items = append(items, Item{
			OrderID:   order.OrderID,
			LineNo:    i + 1,
			ProductID: string(ci.ProductID),
			Quantity:  ci.Quantity,
			Price:     ci.Price,
		})
	}

	if err := s.orders.CreateWithItems(ctx, order, items); err != nil {
		return nil, apperr.Storage(op, err, "create order")
	}
	order.ItemCount = len(items)

	slog.InfoContext(ctx, "created order",
		"order_id", order.OrderID,
		"customer_id", cust.CustomerID,
		"items", len(items),
		"total", order.TotalAmount.String(),
		"payment_method", method)
	s.incr(ctx, "OrdersPlaced")

	return &Placement{Order: order, Items: items, Customer: *cust, CustomerCreated: created}, nil
}

// GetOrder returns the order with its lines.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderWithItems, error) {
	const op = "orders.GetOrder"

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, apperr.Storage(op, err, "get order")
	}
	if o == nil {
		return nil, apperr.NotFound(op, "order %s not found", orderID)
	}
	items, err := s.orders.Items(ctx, orderID)
	if err != nil {
		return nil, apperr.Storage(op, err, "list order items")
	}
	return &OrderWithItems{Order: *o, Items: items}, nil
}

// CustomerForOrder returns the customer that placed the order.
func (s *Service) CustomerForOrder(ctx context.Context, orderID string) (*customers.Customer, error) {
	const op = "orders.CustomerForOrder"

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, apperr.Storage(op, err, "get order")
	}
	if o == nil {
		return nil, apperr.NotFound(op, "order %s not found", orderID)
	}
	c, err := s.customers.Get(ctx, o.CustomerID)
	if err != nil {
		return nil, apperr.Storage(op, err, "get customer")
	}
	if c == nil {
		return nil, apperr.NotFound(op, "customer not found for order %s", orderID)
	}
	return c, nil
}

func (s *Service) incr(ctx context.Context, name string) {
	if s.metrics != nil {
		s.metrics.Incr(ctx, name)
	}
}
