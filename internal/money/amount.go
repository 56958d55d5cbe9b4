// Package money holds the currency-precise amount type used for totals and
// unit prices.
package money

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Amount is a decimal money value. It encodes as a bare JSON number and as a
// DynamoDB N attribute, so no precision is lost in either direction.
type Amount struct {
	decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{decimal.Zero}

func New(d decimal.Decimal) Amount { return Amount{d} }

// Parse reads an amount from its decimal string form.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{d}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) Amount { return Amount{a.Decimal.Add(b.Decimal)} }

func (a Amount) MulInt(n int) Amount { return Amount{a.Decimal.Mul(decimal.NewFromInt(int64(n)))} }

func (a Amount) Equal(b Amount) bool { return a.Decimal.Equal(b.Decimal) }

// Cents rounds to two decimal places (banker's rounding is not used; half
// rounds away from zero).
func (a Amount) Cents() Amount { return Amount{a.Decimal.Round(2)} }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

// UnmarshalJSON accepts both 12.5 and "12.5".
func (a *Amount) UnmarshalJSON(b []byte) error {
	return a.Decimal.UnmarshalJSON(b)
}

func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: a.Decimal.String()}, nil
}

func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		a.Decimal = decimal.Zero
		return nil
	default:
		return fmt.Errorf("amount: unsupported attribute type %T", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	a.Decimal = d
	return nil
}
