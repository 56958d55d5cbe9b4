package orders

import (
	"time"

	"github.com/imrishuroy/storefront-checkout/internal/money"
)

// Order statuses
const (
	StatusPending       = "pending"
	StatusPaid          = "paid"
	StatusPaymentFailed = "payment_failed"
)

// Payment methods
const (
	PaymentCashOnDelivery = "cash_on_delivery"
	PaymentInstant        = "instant_payment"
)

// Order represents the item stored in the orders table.
type Order struct {
	OrderID       string       `dynamodbav:"order_id" json:"id"` // PK
	CustomerID    string       `dynamodbav:"customer_id" json:"customerId"`
	TotalAmount   money.Amount `dynamodbav:"total_amount" json:"totalAmount"`
	PaymentMethod string       `dynamodbav:"payment_method" json:"paymentMethod"` // cash_on_delivery | instant_payment
	Status        string       `dynamodbav:"status" json:"status"`                // pending | paid | payment_failed
	ItemCount     int          `dynamodbav:"item_count" json:"itemCount"`
	CreatedAt     time.Time    `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt     time.Time    `dynamodbav:"updated_at" json:"updatedAt"`
}

// Item is one line of an order, stored in the order_items table.
// Price is the unit price snapshotted at purchase time.
type Item struct {
	OrderID   string       `dynamodbav:"order_id" json:"-"`     // PK
	LineNo    int          `dynamodbav:"line_no" json:"lineNo"` // SK
	ProductID string       `dynamodbav:"product_id" json:"productId"`
	Quantity  int          `dynamodbav:"quantity" json:"quantity"`
	Price     money.Amount `dynamodbav:"price" json:"price"`
}

// OrderWithItems is an order together with its lines.
type OrderWithItems struct {
	Order
	Items []Item `json:"items"`
}
