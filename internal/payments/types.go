package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/imrishuroy/storefront-checkout/internal/money"
)

// Session statuses
const (
	StatusInitiated = "initiated"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Session records one initiate-payment handshake. TransactionID is the
// invoice number sent to the gateway.
type Session struct {
	TransactionID string      `dynamodbav:"transaction_id" json:"transactionId"` // PK
	CustomerID    string      `dynamodbav:"customer_id" json:"customerId"`
	OrderID       string      `dynamodbav:"order_id,omitempty" json:"orderId,omitempty"`
	Status        string      `dynamodbav:"status" json:"status"` // initiated | succeeded | failed
	GatewayTrxID  string      `dynamodbav:"gateway_trx_id,omitempty" json:"gatewayTrxId,omitempty"`
	Data          SessionData `dynamodbav:"data" json:"data"`
	CreatedAt     time.Time   `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt     time.Time   `dynamodbav:"updated_at" json:"updatedAt"`
}

// SessionData is the vendor-specific snapshot of the handshake.
type SessionData struct {
	Vendor        string       `dynamodbav:"vendor" json:"vendor"`
	Amount        money.Amount `dynamodbav:"amount" json:"amount"`
	InvoiceNumber string       `dynamodbav:"invoice_number" json:"invoiceNumber"`
	PaymentAmount string       `dynamodbav:"payment_amount" json:"paymentAmount"` // as confirmed by the gateway
	PaymentURL    string       `dynamodbav:"payment_url" json:"paymentUrl"`
}

// GatewayRequest is the body of POST {base}/initiate-payment.
type GatewayRequest struct {
	MerchantID    string       `json:"merchantId"`
	Password      string       `json:"password"`
	InvoiceNumber string       `json:"invoice_number"`
	PaymentAmount money.Amount `json:"payment_amount"`
	Currency      string       `json:"currency"`
	CustName      string       `json:"cust_name"`
	CustPhone     string       `json:"cust_phone"`
	CustEmail     string       `json:"cust_email"`
	CustAddress   string       `json:"cust_address"`
	CallbackURL   string       `json:"callback_url"`
	PayWithCharge int          `json:"pay_with_charge"`
}

// GatewayResponse is the initiate-payment reply.
type GatewayResponse struct {
	Status        string     `json:"status"`
	StatusCode    FlexString `json:"status_code"`
	InvoiceNumber string     `json:"invoice_number"`
	PaymentURL    string     `json:"payment_url"`
	PaymentAmount FlexString `json:"payment_amount"`
	Message       string     `json:"message,omitempty"`
}

// OK reports whether the gateway accepted the payment.
func (r *GatewayResponse) OK() bool {
	return r.Status == "success" && string(r.StatusCode) == "200" && r.PaymentURL != ""
}

// StatusResponse is the transaction-status reply.
type StatusResponse struct {
	Status     string     `json:"status"`
	StatusCode FlexString `json:"status_code"`
	Message    string     `json:"message,omitempty"`
	Data       StatusData `json:"data"`
}

// StatusData describes one gateway transaction.
type StatusData struct {
	InvoiceNumber string     `json:"invoice_number"`
	TrxStatus     string     `json:"trx_status"` // success | failed | cancelled | processing ...
	TrxID         string     `json:"trx_id"`
	PaymentAmount FlexString `json:"payment_amount"`
}

// OK reports whether the lookup itself succeeded.
func (r *StatusResponse) OK() bool {
	return r.Status == "success" && string(r.StatusCode) == "200"
}

// Outcome maps the gateway's transaction status to a session status, or ""
// while the payment is still open.
func (d StatusData) Outcome() string {
	switch strings.ToLower(strings.TrimSpace(d.TrxStatus)) {
	case "success", "successful", "completed":
		return StatusSucceeded
	case "failed", "failure", "cancelled", "canceled", "expired":
		return StatusFailed
	default:
		return ""
	}
}

// FlexString decodes a JSON string or number into its textual form; the
// gateway is not consistent about which it sends.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case string(b) == "null":
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected string or number: %w", err)
		}
		*f = FlexString(n.String())
	}
	return nil
}

// Event types published after a confirmation.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// StatusEvent is the SQS message the worker consumes to advance an order.
type StatusEvent struct {
	Type          string `json:"type"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	CustomerID    string `json:"customer_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
