package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/customers"
	"github.com/imrishuroy/storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/validation"
)

const placeOrderFailure = "Failed to place order. Please try again. Error: "

// OrderService is the checkout side of the orders package.
type OrderService interface {
	PlaceOrder(ctx context.Context, req validation.PlaceOrderRequest) (*orders.Placement, error)
	GetOrder(ctx context.Context, orderID string) (*orders.OrderWithItems, error)
	CustomerForOrder(ctx context.Context, orderID string) (*customers.Customer, error)
}

// IdempotencyStore guards POST /orders against duplicate submissions.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, requestHash string) (idempotency.Decision, *idempotency.Record, error)
	MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// OrdersHandler serves the order routes. Idempotency is optional.
type OrdersHandler struct {
	Orders      OrderService
	Idempotency IdempotencyStore
}

type placeOrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r gin.IRouter, h *OrdersHandler) {
	r.POST("/orders", h.placeOrder)
	r.GET("/orders/:id", h.getOrder)
	r.GET("/orders/:id/customer", h.getOrderCustomer)
}

func (h *OrdersHandler) placeOrder(c *gin.Context) {
	const op = "handlers.placeOrder"
	ctx := c.Request.Context()

	raw, err := c.GetRawData()
	if err != nil {
		writeError(c, placeOrderFailure, apperr.Validation(op, "unreadable request body"))
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	var req validation.PlaceOrderRequest
	if err := validation.BindJSON(c, op, &req); err != nil {
		writeError(c, placeOrderFailure, err)
		return
	}

	key := c.GetHeader("Idempotency-Key")
	if key != "" && h.Idempotency != nil {
		decision, rec, err := h.Idempotency.Begin(ctx, key, idempotency.HashRequest(raw))
		if err != nil {
			writeError(c, placeOrderFailure, apperr.Storage(op, err, "idempotency check"))
			return
		}
		slog.DebugContext(ctx, "idempotency check", "idempotency_key", key, "decision", decision.String())
		switch decision {
		case idempotency.Replay:
			slog.InfoContext(ctx, "replaying stored response", "idempotency_key", key, "order_id", rec.OrderID)
			c.Header("Idempotent-Replayed", "true")
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		case idempotency.InFlight:
			c.JSON(http.StatusAccepted, gin.H{"success": false, "message": "request already in progress"})
			return
		case idempotency.Mismatch:
			writeError(c, placeOrderFailure, apperr.Conflict(op, nil, "Idempotency-Key %s was used for a different request", key))
			return
		}
	} else {
		key = ""
	}

	placement, err := h.Orders.PlaceOrder(ctx, req)
	if err != nil {
		if key != "" {
			h.settleFailure(ctx, key, err)
		}
		writeError(c, placeOrderFailure, err)
		return
	}

	body, err := json.Marshal(placeOrderResponse{
		Success: true,
		OrderID: placement.Order.OrderID,
		Message: "Order placed successfully!",
	})
	if err != nil {
		writeError(c, placeOrderFailure, err)
		return
	}
	if key != "" {
		if err := h.Idempotency.MarkDone(ctx, key, placement.Order.OrderID, string(body), http.StatusOK); err != nil {
			slog.WarnContext(ctx, "mark idempotency done", "idempotency_key", key, "error", err)
		}
	}

	c.Header("Location", "/orders/"+placement.Order.OrderID)
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// settleFailure records a failed placement under key. A rejected body fails
// the same way every time, so its 400 is stored for replay; anything else
// leaves the key open for a retry.
func (h *OrdersHandler) settleFailure(ctx context.Context, key string, err error) {
	if apperr.Is(err, apperr.KindValidation) {
		status, body := errorResponse(placeOrderFailure, err)
		raw, merr := json.Marshal(body)
		if merr == nil {
			merr = h.Idempotency.MarkDone(ctx, key, "", string(raw), status)
		}
		if merr != nil {
			slog.WarnContext(ctx, "mark idempotency done", "idempotency_key", key, "error", merr)
		}
		return
	}
	if merr := h.Idempotency.MarkFailed(ctx, key, err.Error()); merr != nil {
		slog.WarnContext(ctx, "mark idempotency failed", "idempotency_key", key, "error", merr)
	}
}

func (h *OrdersHandler) getOrder(c *gin.Context) {
	o, err := h.Orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": o})
}

func (h *OrdersHandler) getOrderCustomer(c *gin.Context) {
	cust, err := h.Orders.CustomerForOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "customer": cust})
}
