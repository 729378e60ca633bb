package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Keoroanthony/go-checkout/internal/auth"
	"github.com/Keoroanthony/go-checkout/internal/checkout"
	"github.com/Keoroanthony/go-checkout/internal/metrics"
	"github.com/Keoroanthony/go-checkout/internal/orders"
	"github.com/Keoroanthony/go-checkout/internal/pricing"
	"github.com/Keoroanthony/go-checkout/internal/settings"
)

type PolicyCache interface {
	Policy(ctx context.Context) (pricing.Policy, error)
	Invalidate()
}

// API holds the services the HTTP handlers call into.
type API struct {
	Engine   *checkout.Engine
	Orders   *orders.Service
	Settings *settings.Store
	Policy   PolicyCache
	Metrics  *metrics.Registry
}

// POST /api/checkout
func (a *API) Checkout(c *gin.Context) {
	var req checkout.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	req.CustomerID = auth.CustomerIDFrom(c)
	req.SessionID = auth.SessionIDFrom(c)
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	res, err := a.Engine.Commit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	if res.Replayed {
		c.Header("Idempotent-Replayed", "true")
		c.JSON(http.StatusOK, res.Order)
		return
	}
	c.JSON(http.StatusCreated, res.Order)
}
