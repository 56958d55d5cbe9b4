package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-checkout/internal/payments"
	"github.com/imrishuroy/storefront-checkout/internal/validation"
)

const initiatePaymentFailure = "Failed to initiate payment. Error: "

// PaymentService starts and confirms gateway payments.
type PaymentService interface {
	Initiate(ctx context.Context, req validation.InitiatePaymentRequest, origin payments.Origin) (*payments.Initiation, error)
	Confirm(ctx context.Context, c payments.Confirmation) (*payments.Session, error)
}

// PaymentsHandler serves the payment routes. ConfirmPath is where the
// gateway sends the shopper back; it defaults to /payments/callback.
type PaymentsHandler struct {
	Payments    PaymentService
	ConfirmPath string
}

// RegisterPaymentsRoutes registers routes for payment API.
func RegisterPaymentsRoutes(r gin.IRouter, h *PaymentsHandler) {
	path := h.ConfirmPath
	if path == "" {
		path = "/payments/callback"
	}
	r.POST("/payments", h.initiate)
	r.GET(path, h.callback)
}

func (h *PaymentsHandler) initiate(c *gin.Context) {
	var req validation.InitiatePaymentRequest
	if err := validation.BindJSON(c, "handlers.initiatePayment", &req); err != nil {
		writeError(c, initiatePaymentFailure, err)
		return
	}

	res, err := h.Payments.Initiate(c.Request.Context(), req, requestOrigin(c.Request))
	if err != nil {
		writeError(c, initiatePaymentFailure, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"paymentUrl":    res.PaymentURL,
		"transactionId": res.TransactionID,
	})
}

func (h *PaymentsHandler) callback(c *gin.Context) {
	var q validation.PaymentCallback
	if err := validation.BindQuery(c, "handlers.paymentCallback", &q); err != nil {
		writeError(c, "", err)
		return
	}

	sess, err := h.Payments.Confirm(c.Request.Context(), payments.Confirmation{
		InvoiceNumber: q.InvoiceNumber,
		CustomerID:    q.CustomerID,
		Status:        q.Status,
		GatewayTrxID:  q.TrxID,
	})
	if err != nil {
		writeError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"transactionId": sess.TransactionID,
		"orderId":       sess.OrderID,
		"status":        sess.Status,
	})
}

// requestOrigin derives the public host and protocol of the request, honoring
// proxy headers.
func requestOrigin(r *http.Request) payments.Origin {
	host := firstValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	proto := firstValue(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	return payments.Origin{Host: host, Protocol: proto + ":"}
}

func firstValue(h string) string {
	if i := strings.IndexByte(h, ','); i >= 0 {
		h = h[:i]
	}
	return strings.TrimSpace(h)
}
