package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Keoroanthony/go-checkout/internal/errs"
	"github.com/Keoroanthony/go-checkout/internal/obs"
)

const retryAfterSeconds = "1"

// writeError maps service errors onto HTTP responses. Anything outside the
// error taxonomy is logged and reported as a bare 500.
func writeError(c *gin.Context, err error) {
	var (
		ve *errs.ValidationError
		ec *errs.EmptyCartError
		pu *errs.ProductUnavailableError
		is *errs.InsufficientStockError
		nf *errs.NotFoundError
		it *errs.InvalidTransitionError
		te *errs.TransientError
		ir *errs.IdempotencyKeyReuseError
	)

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &ec):
		c.JSON(http.StatusBadRequest, gin.H{"error": ec.Error()})
	case errors.As(err, &pu):
		c.JSON(http.StatusConflict, gin.H{"error": pu.Error(), "product": pu.ProductName})
	case errors.As(err, &is):
		c.JSON(http.StatusConflict, gin.H{"error": is.Error(), "product": is.ProductName, "available": is.Available})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
	case errors.As(err, &it):
		c.JSON(http.StatusConflict, gin.H{"error": it.Error()})
	case errors.As(err, &ir):
		c.JSON(http.StatusConflict, gin.H{"error": ir.Error()})
	case errors.As(err, &te):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": te.Error()})
	default:
		obs.Logger.Error("request_failed",
			"path", c.FullPath(),
			"request_id", c.GetString(ctxRequestID),
			"error", err,
			"cause", errors.Unwrap(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
