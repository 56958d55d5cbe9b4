package validation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/storefront-checkout/internal/money"
)

// ProductID is an opaque catalog reference. The storefront sends numeric ids;
// strings are accepted too.
type ProductID string

func (p *ProductID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ProductID(s)
		return nil
	}
	if string(b) == "null" {
		*p = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("product id must be a string or number: %w", err)
	}
	*p = ProductID(n.String())
	return nil
}

// CartItem is one cart entry as submitted at checkout.
type CartItem struct {
	ProductID ProductID    `json:"id" validate:"required"`
	Quantity  int          `json:"quantity" validate:"min=1"`
	Price     money.Amount `json:"price" validate:"gt=0"` // unit price at time of purchase
}

// PlaceOrderRequest is the payload for POST /orders.
type PlaceOrderRequest struct {
	Email         string       `json:"email" validate:"required,checkout_email"`
	Name          string       `json:"name" validate:"required"`
	Address       string       `json:"address" validate:"required"`
	Phone         string       `json:"phone" validate:"required,checkout_phone"`
	PaymentMethod string       `json:"paymentMethod,omitempty" validate:"omitempty,oneof=cash_on_delivery instant_payment"`
	CartItems     []CartItem   `json:"cartItems" validate:"required,min=1,max=99,dive"`
	Total         money.Amount `json:"total" validate:"gt=0"`
}

// InitiatePaymentRequest is the payload for POST /payments.
type InitiatePaymentRequest struct {
	CustomerID string       `json:"customerId" validate:"required"`
	OrderID    string       `json:"orderId,omitempty"`
	Amount     money.Amount `json:"amount" validate:"gt=0"`
}

// PaymentCallback is the query string the gateway appends to the callback URL.
type PaymentCallback struct {
	CustomerID    string `form:"customer_id"`
	InvoiceNumber string `form:"invoice_number" validate:"required"`
	Status        string `form:"status" validate:"required"`
	TrxID         string `form:"trx_id"`
}
