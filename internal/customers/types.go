package customers

import (
	"strings"
	"time"
)

// Customer is stored in the customers table. Email is the natural key; the
// customer_emails table guards its uniqueness.
type Customer struct {
	CustomerID string    `dynamodbav:"customer_id" json:"id"` // PK
	Email      string    `dynamodbav:"email" json:"email"`
	Name       string    `dynamodbav:"name" json:"name"`
	Address    string    `dynamodbav:"address" json:"address"`
	Phone      string    `dynamodbav:"phone" json:"phone"`
	CreatedAt  time.Time `dynamodbav:"created_at" json:"createdAt"`
}

// emailIndex is a row of the customer_emails table.
type emailIndex struct {
	Email      string `dynamodbav:"email"` // PK, normalized
	CustomerID string `dynamodbav:"customer_id"`
}

// NormalizeEmail is the form used as the uniqueness key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
