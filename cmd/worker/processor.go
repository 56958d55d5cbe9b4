package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/storefront-checkout/internal/logging"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/payments"
)

// OrderStore is what the worker needs from the orders table.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error
}

// Counter records business metrics.
type Counter interface {
	Incr(ctx context.Context, name string)
}

// Processor applies payment status events to orders.
type Processor struct {
	orders  OrderStore
	metrics Counter
}

// NewProcessor creates a worker processor.
func NewProcessor(store OrderStore, metrics Counter) *Processor {
	return &Processor{orders: store, metrics: metrics}
}

// Handle processes an SQS batch. Failed messages are reported individually
// so only they are redelivered (and eventually dead-lettered).
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			slog.ErrorContext(ctx, "worker error", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg payments.StatusEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.OrderID == "" {
		return fmt.Errorf("message %s has no order_id", rec.MessageId)
	}
	if msg.CorrelationID != "" {
		ctx = logging.WithRequestID(ctx, msg.CorrelationID)
	}

	slog.InfoContext(ctx, "received payment event",
		"type", msg.Type, "order_id", msg.OrderID, "transaction_id", msg.TransactionID)

	switch msg.Type {
	case payments.EventPaymentSucceeded:
		return p.markPaid(ctx, msg.OrderID)
	case payments.EventPaymentFailed:
		return p.markPaymentFailed(ctx, msg.OrderID)
	default:
		// Redelivery cannot fix an unknown type.
		slog.WarnContext(ctx, "dropping unknown event type", "type", msg.Type, "order_id", msg.OrderID)
		return nil
	}
}

func (p *Processor) current(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	if o == nil {
		return nil, fmt.Errorf("order not found: %s", orderID)
	}
	return o, nil
}

// markPaid moves pending or payment_failed to paid.
func (p *Processor) markPaid(ctx context.Context, orderID string) error {
	o, err := p.current(ctx, orderID)
	if err != nil {
		return err
	}
	switch o.Status {
	case orders.StatusPaid:
		slog.InfoContext(ctx, "order already paid", "order_id", orderID)
		return nil
	case orders.StatusPending, orders.StatusPaymentFailed:
	default:
		return fmt.Errorf("unexpected status for order=%s: %s", orderID, o.Status)
	}

	if err := p.transition(ctx, orderID, o.Status, orders.StatusPaid); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.Incr(ctx, "OrdersPaid")
	}
	return nil
}

// markPaymentFailed moves pending to payment_failed. A paid order is never
// downgraded.
func (p *Processor) markPaymentFailed(ctx context.Context, orderID string) error {
	o, err := p.current(ctx, orderID)
	if err != nil {
		return err
	}
	switch o.Status {
	case orders.StatusPaid, orders.StatusPaymentFailed:
		slog.InfoContext(ctx, "ignoring payment failure", "order_id", orderID, "status", o.Status)
		return nil
	case orders.StatusPending:
		return p.transition(ctx, orderID, orders.StatusPending, orders.StatusPaymentFailed)
	default:
		return fmt.Errorf("unexpected status for order=%s: %s", orderID, o.Status)
	}
}

func (p *Processor) transition(ctx context.Context, orderID, from, to string) error {
	err := p.orders.UpdateStatus(ctx, orderID, from, to)
	if errors.Is(err, orders.ErrStatusMismatch) {
		// Changed since we read it; the redelivery re-evaluates.
		return fmt.Errorf("order=%s left %s concurrently: %w", orderID, from, err)
	}
	if err != nil {
		return fmt.Errorf("failed to update status to %s: %w", to, err)
	}
	slog.InfoContext(ctx, "order status updated", "order_id", orderID, "from", from, "to", to)
	return nil
}
