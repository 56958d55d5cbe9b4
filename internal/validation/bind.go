package validation

import (
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
)

// BindJSON decodes the JSON body into out. A malformed body is a validation
// error for the handler to report.
func BindJSON(c *gin.Context, op string, out interface{}) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return apperr.Validation(op, "invalid request body: %v", err)
	}
	return nil
}

// BindQuery decodes query parameters into out.
func BindQuery(c *gin.Context, op string, out interface{}) error {
	if err := c.ShouldBindQuery(out); err != nil {
		return apperr.Validation(op, "invalid query: %v", err)
	}
	return nil
}
