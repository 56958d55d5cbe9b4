package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/money"
)

var (
	emailPattern    = regexp.MustCompile(`\S+@\S+\.\S+`)
	phoneSeparators = regexp.MustCompile(`[\s\-\(\)]`)
	phonePattern    = regexp.MustCompile(`^\d{10,15}$`)
)

// Options tunes the order total check.
type Options struct {
	// TaxRate is applied to the cart subtotal, e.g. 0.05.
	TaxRate float64
	// VerifyTotal rejects orders whose total differs from
	// round(subtotal * (1 + TaxRate), 2) by more than one cent.
	VerifyTotal bool
}

// New returns a validator with the checkout rules registered.
func New(opts Options) *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if a, ok := field.Interface().(money.Amount); ok {
			return a.InexactFloat64()
		}
		return nil
	}, money.Amount{})

	_ = v.RegisterValidation("checkout_email", func(fl validatorv10.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("checkout_phone", func(fl validatorv10.FieldLevel) bool {
		return phonePattern.MatchString(phoneSeparators.ReplaceAllString(fl.Field().String(), ""))
	})

	if opts.VerifyTotal {
		rate := decimal.NewFromFloat(opts.TaxRate)
		v.RegisterStructValidation(func(sl validatorv10.StructLevel) {
			placeOrderTotalValidation(sl, rate)
		}, PlaceOrderRequest{})
	}

	return v
}

// ExpectedTotal is the cart subtotal plus tax, rounded to cents.
func ExpectedTotal(items []CartItem, taxRate decimal.Decimal) money.Amount {
	subtotal := money.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Price.MulInt(it.Quantity))
	}
	return money.New(subtotal.Decimal.Mul(decimal.NewFromInt(1).Add(taxRate))).Cents()
}

var oneCent = decimal.New(1, -2)

func placeOrderTotalValidation(sl validatorv10.StructLevel, rate decimal.Decimal) {
	req := sl.Current().Interface().(PlaceOrderRequest)
	if len(req.CartItems) == 0 {
		return
	}
	expected := ExpectedTotal(req.CartItems, rate)
	diff := req.Total.Cents().Decimal.Sub(expected.Decimal).Abs()
	if diff.GreaterThan(oneCent) {
		sl.ReportError(req.Total, "total", "Total", "total_matches_cart", expected.String())
	}
}

// Check validates req and converts failures into an apperr validation
// error listing every offending field.
func Check(v *validatorv10.Validate, op string, req interface{}) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	fields := Fields(err)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+fields[k])
	}
	return apperr.Validation(op, "invalid request: %s", strings.Join(parts, "; "))
}

// Fields maps each failing field (JSON path) to a short description.
func Fields(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["request"] = err.Error()
		return out
	}
	for _, fe := range ve {
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		out[ns] = describe(fe)
	}
	return out
}

func describe(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "checkout_email":
		return "must be a valid email address"
	case "checkout_phone":
		return "must contain 10-15 digits"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s entries", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at most %s entries", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "total_matches_cart":
		return "does not match cart subtotal plus tax (expected " + fe.Param() + ")"
	default:
		return "failed " + fe.Tag()
	}
}
