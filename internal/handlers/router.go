package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the API engine. A nil handler leaves its routes out.
func NewRouter(orders *OrdersHandler, payments *PaymentsHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if orders != nil {
		RegisterOrdersRoutes(r, orders)
	}
	if payments != nil {
		RegisterPaymentsRoutes(r, payments)
	}
	return r
}
