package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/customers"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
	"github.com/imrishuroy/storefront-checkout/internal/money"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/validation"
)

// CustomerReader looks customers up by id.
type CustomerReader interface {
	Get(ctx context.Context, customerID string) (*customers.Customer, error)
}

// OrderReader looks orders up by id.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// Repository persists payment sessions.
type Repository interface {
	Create(ctx context.Context, sess Session) error
	Get(ctx context.Context, transactionID string) (*Session, error)
	Transition(ctx context.Context, transactionID, expected, next, gatewayTrxID string) error
}

// Gateway starts hosted payments and reports how they ended.
type Gateway interface {
	InitiatePayment(ctx context.Context, req GatewayRequest) (*GatewayResponse, []byte, error)
	TransactionStatus(ctx context.Context, merchantID, invoiceNumber string) (*StatusResponse, []byte, error)
}

// EventPublisher sends payment status events to the order worker.
type EventPublisher interface {
	PublishJSON(ctx context.Context, payload any, attributes map[string]string) error
}

// Counter records business metrics.
type Counter interface {
	Incr(ctx context.Context, name string)
}

// Settings are the merchant details sent with every initiation.
type Settings struct {
	MerchantID    string
	Password      string
	Currency      string
	Vendor        string
	ConfirmPath   string
	PayWithCharge bool
}

// Deps groups the collaborators of a Service. Orders, Events and Metrics are
// optional.
type Deps struct {
	Customers CustomerReader
	Orders    OrderReader
	Sessions  Repository
	Gateway   Gateway
	Events    EventPublisher
	Metrics   Counter
	Validate  *validatorv10.Validate
}

// Service initiates and confirms gateway payments.
type Service struct {
	Deps
	settings Settings
	newID    func() string
	nowFunc  func() time.Time
}

func NewService(d Deps, settings Settings) *Service {
	return &Service{
		Deps:     d,
		settings: settings,
		newID:    uuid.NewString,
		nowFunc:  time.Now,
	}
}

// Origin is where the gateway should send the shopper back to.
type Origin struct {
	Host     string
	Protocol string // "https" or "https:"
}

// Initiation is the result of a successful Initiate.
type Initiation struct {
	PaymentURL    string
	TransactionID string
}

// Initiate starts a hosted payment for an existing customer. The customer is
// resolved before the gateway is called; a session is persisted only after
// the gateway accepts.
func (s *Service) Initiate(ctx context.Context, req validation.InitiatePaymentRequest, origin Origin) (*Initiation, error) {
	const op = "payments.Initiate"

	if err := validation.Check(s.Validate, op, req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(origin.Host) == "" {
		return nil, apperr.Validation(op, "invalid request: request host is unknown")
	}

	cust, err := s.Customers.Get(ctx, req.CustomerID)
	if err != nil {
		return nil, apperr.Storage(op, err, "get customer")
	}
	if cust == nil {
		return nil, apperr.NotFound(op, "customer %s not found", req.CustomerID)
	}

	if req.OrderID != "" && s.Orders != nil {
		o, err := s.Orders.Get(ctx, req.OrderID)
		if err != nil {
			return nil, apperr.Storage(op, err, "get order")
		}
		if o == nil {
			return nil, apperr.NotFound(op, "order %s not found", req.OrderID)
		}
		if o.CustomerID != cust.CustomerID {
			return nil, apperr.Validation(op, "invalid request: order %s does not belong to customer %s", req.OrderID, cust.CustomerID)
		}
		if o.PaymentMethod != orders.PaymentInstant {
			return nil, apperr.Validation(op, "invalid request: order %s is not payable online (payment method %s)", req.OrderID, o.PaymentMethod)
		}
		if !req.Amount.Equal(o.TotalAmount) {
			return nil, apperr.Validation(op, "invalid request: amount %s does not match order total %s", req.Amount, o.TotalAmount)
		}
	}

	txID := s.newID()
	payWithCharge := 0
	if s.settings.PayWithCharge {
		payWithCharge = 1
	}
	gwReq := GatewayRequest{
		MerchantID:    s.settings.MerchantID,
		Password:      s.settings.Password,
		InvoiceNumber: txID,
		PaymentAmount: req.Amount,
		Currency:      s.settings.Currency,
		CustName:      cust.Name,
		CustPhone:     cust.Phone,
		CustEmail:     cust.Email,
		CustAddress:   cust.Address,
		CallbackURL:   CallbackURL(origin, s.settings.ConfirmPath, cust.CustomerID),
		PayWithCharge: payWithCharge,
	}

	resp, raw, err := s.Gateway.InitiatePayment(ctx, gwReq)
	if err != nil {
		s.incr(ctx, "GatewayFailures")
		slog.ErrorContext(ctx, "initiate-payment call failed", "transaction_id", txID, "error", err, "body", string(raw))
		return nil, apperr.Gateway(op, err, "payment gateway unavailable%s", bodySuffix(raw))
	}
	if !resp.OK() {
		s.incr(ctx, "GatewayFailures")
		slog.WarnContext(ctx, "gateway rejected payment", "transaction_id", txID, "status", resp.Status, "status_code", string(resp.StatusCode), "body", string(raw))
		return nil, apperr.Gateway(op, nil, "payment gateway rejected the request: %s", strings.TrimSpace(string(raw)))
	}
	if resp.InvoiceNumber != "" && resp.InvoiceNumber != txID {
		s.incr(ctx, "GatewayFailures")
		return nil, apperr.Gateway(op, nil, "gateway answered for invoice %s, expected %s", resp.InvoiceNumber, txID)
	}

	sess := Session{
		TransactionID: txID,
		CustomerID:    cust.CustomerID,
		OrderID:       req.OrderID,
		Status:        StatusInitiated,
		Data: SessionData{
			Vendor:        s.settings.Vendor,
			Amount:        req.Amount,
			InvoiceNumber: txID,
			PaymentAmount: string(resp.PaymentAmount),
			PaymentURL:    resp.PaymentURL,
		},
		CreatedAt: s.nowFunc().UTC(),
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		// The gateway already holds this invoice; keep enough to reconcile by hand.
		slog.ErrorContext(ctx, "payment session not persisted",
			"transaction_id", txID, "customer_id", cust.CustomerID, "payment_url", resp.PaymentURL, "error", err)
		return nil, apperr.Storage(op, err, "save payment session")
	}

	slog.InfoContext(ctx, "payment initiated",
		"transaction_id", txID,
		"customer_id", cust.CustomerID,
		"order_id", req.OrderID,
		"amount", req.Amount.String())
	s.incr(ctx, "PaymentsInitiated")

	return &Initiation{PaymentURL: resp.PaymentURL, TransactionID: txID}, nil
}

// CallbackURL builds {protocol}//{host}{path}?customer_id=<id>.
func CallbackURL(origin Origin, path, customerID string) string {
	u := url.URL{
		Scheme:   strings.TrimSuffix(strings.TrimSpace(origin.Protocol), ":"),
		Host:     origin.Host,
		Path:     path,
		RawQuery: url.Values{"customer_id": {customerID}}.Encode(),
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.String()
}

// Confirmation is the outcome the gateway reports on the callback.
type Confirmation struct {
	InvoiceNumber string
	CustomerID    string
	Status        string
	GatewayTrxID  string
}

// Succeeded reports whether the gateway status means the payment went through.
func (c Confirmation) Succeeded() bool {
	st := strings.ToLower(strings.TrimSpace(c.Status))
	return st == "successful" || st == "success"
}

// Confirm records the gateway outcome on the session. An initiated session
// is settled from the gateway's own transaction status, not from the
// callback query. Repeating the same outcome is a no-op; a contradicting one
// is a conflict. When the session is
// tied to an order, a StatusEvent is published so the worker can advance it.
func (s *Service) Confirm(ctx context.Context, c Confirmation) (*Session, error) {
	const op = "payments.Confirm"

	if c.InvoiceNumber == "" {
		return nil, apperr.Validation(op, "invalid request: invoice_number is required")
	}
	sess, err := s.Sessions.Get(ctx, c.InvoiceNumber)
	if err != nil {
		return nil, apperr.Storage(op, err, "get payment session")
	}
	if sess == nil {
		return nil, apperr.NotFound(op, "payment session %s not found", c.InvoiceNumber)
	}
	if c.CustomerID != "" && c.CustomerID != sess.CustomerID {
		return nil, apperr.Validation(op, "invalid request: session %s does not belong to customer %s", sess.TransactionID, c.CustomerID)
	}

	claimed := StatusFailed
	if c.Succeeded() {
		claimed = StatusSucceeded
	}

	fresh := false
	switch sess.Status {
	case StatusInitiated:
		target, trxID, err := s.verify(ctx, sess, claimed, c.GatewayTrxID)
		if err != nil {
			return nil, err
		}
		err = s.Sessions.Transition(ctx, sess.TransactionID, StatusInitiated, target, trxID)
		switch {
		case err == nil:
			fresh = true
			sess.Status = target
			sess.GatewayTrxID = trxID
			sess.UpdatedAt = s.nowFunc().UTC()
		case errors.Is(err, ErrStatusMismatch):
			// A concurrent callback got there first.
			cur, gerr := s.Sessions.Get(ctx, sess.TransactionID)
			if gerr != nil {
				return nil, apperr.Storage(op, gerr, "reread payment session")
			}
			if cur == nil || cur.Status != target {
				return nil, apperr.Conflict(op, err, "payment session %s was already settled differently", sess.TransactionID)
			}
			sess = cur
		default:
			return nil, apperr.Storage(op, err, "update payment session")
		}
	case claimed:
	default:
		return nil, apperr.Conflict(op, nil, "payment session %s is already %s", sess.TransactionID, sess.Status)
	}

	if fresh {
		slog.InfoContext(ctx, "payment confirmed", "transaction_id", sess.TransactionID, "status", sess.Status, "gateway_trx_id", sess.GatewayTrxID)
		if sess.Status == StatusSucceeded {
			s.incr(ctx, "PaymentsConfirmed")
		}
	} else {
		slog.InfoContext(ctx, "duplicate payment callback", "transaction_id", sess.TransactionID, "status", sess.Status)
	}

	// Re-sent on duplicates too, so a lost publish heals on the gateway's retry.
	if sess.OrderID != "" && s.Events != nil {
		if err := s.publish(ctx, sess); err != nil {
			return nil, apperr.Storage(op, err, "enqueue payment event")
		}
	}
	return sess, nil
}

// verify asks the gateway how the session's payment ended, since the
// callback itself is unauthenticated. It returns the status to record and
// the gateway transaction id. A success for less than the session amount is
// refused.
func (s *Service) verify(ctx context.Context, sess *Session, claimed, trxID string) (string, string, error) {
	const op = "payments.Confirm"

	st, raw, err := s.Gateway.TransactionStatus(ctx, s.settings.MerchantID, sess.TransactionID)
	if err != nil {
		s.incr(ctx, "GatewayFailures")
		slog.ErrorContext(ctx, "transaction-status call failed", "transaction_id", sess.TransactionID, "error", err, "body", string(raw))
		return "", "", apperr.Gateway(op, err, "payment status unavailable%s", bodySuffix(raw))
	}
	if !st.OK() || (st.Data.InvoiceNumber != "" && st.Data.InvoiceNumber != sess.TransactionID) {
		s.incr(ctx, "GatewayFailures")
		return "", "", apperr.Gateway(op, nil, "payment status lookup rejected: %s", strings.TrimSpace(string(raw)))
	}

	outcome := st.Data.Outcome()
	if outcome == "" {
		return "", "", apperr.Conflict(op, nil, "payment %s is still %q at the gateway", sess.TransactionID, st.Data.TrxStatus)
	}
	if outcome != claimed {
		slog.WarnContext(ctx, "callback status disagrees with gateway",
			"transaction_id", sess.TransactionID, "callback_status", claimed, "gateway_status", outcome)
	}
	if st.Data.TrxID != "" {
		trxID = st.Data.TrxID
	}

	if outcome == StatusSucceeded {
		paid, err := money.Parse(strings.TrimSpace(string(st.Data.PaymentAmount)))
		if err != nil || paid.LessThan(sess.Data.Amount.Decimal) {
			slog.ErrorContext(ctx, "gateway settled a different amount",
				"transaction_id", sess.TransactionID, "expected", sess.Data.Amount.String(), "paid", string(st.Data.PaymentAmount))
			return "", "", apperr.Conflict(op, err, "payment %s settled %q, expected %s", sess.TransactionID, string(st.Data.PaymentAmount), sess.Data.Amount)
		}
	}
	return outcome, trxID, nil
}

// bodySuffix renders a gateway reply for an error message.
func bodySuffix(raw []byte) string {
	if b := strings.TrimSpace(string(raw)); b != "" {
		return ": " + b
	}
	return ""
}

func (s *Service) publish(ctx context.Context, sess *Session) error {
	ev := StatusEvent{
		Type:          EventPaymentFailed,
		OrderID:       sess.OrderID,
		TransactionID: sess.TransactionID,
		CustomerID:    sess.CustomerID,
		CorrelationID: logging.RequestID(ctx),
	}
	if sess.Status == StatusSucceeded {
		ev.Type = EventPaymentSucceeded
	}
	err := s.Events.PublishJSON(ctx, ev, map[string]string{
		"event_type":     ev.Type,
		"order_id":       ev.OrderID,
		"correlation_id": ev.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("publish %s for order %s: %w", ev.Type, ev.OrderID, err)
	}
	return nil
}

func (s *Service) incr(ctx context.Context, name string) {
	if s.Metrics != nil {
		s.Metrics.Incr(ctx, name)
	}
}
