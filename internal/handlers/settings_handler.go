package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Keoroanthony/go-checkout/internal/db"
	"github.com/Keoroanthony/go-checkout/internal/pricing"
)

type PricingPolicyRequest struct {
	TaxRate               string `json:"tax_rate" binding:"required"`
	FreeShippingThreshold string `json:"free_shipping_threshold" binding:"required"`
	ShippingFee           string `json:"shipping_fee" binding:"required"`
}

func policyJSON(p pricing.Policy) gin.H {
	return gin.H{
		"tax_rate":                p.TaxRate.String(),
		"free_shipping_threshold": p.FreeShippingThreshold.StringFixed(2),
		"shipping_fee":            p.ShippingFee.StringFixed(2),
	}
}

// GET /admin/settings/pricing
func (a *API) GetPricingPolicy(c *gin.Context) {
	p, err := a.Settings.LoadPricingPolicy(c.Request.Context())
	if err != nil {
		writeError(c, db.Translate(err, "load pricing policy"))
		return
	}
	c.JSON(http.StatusOK, policyJSON(p))
}

// PUT /admin/settings/pricing
//
// The cache is invalidated after the write so the next checkout prices with
// the new policy.
func (a *API) UpdatePricingPolicy(c *gin.Context) {
	var req PricingPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	p, err := pricing.ParsePolicy(req.TaxRate, req.FreeShippingThreshold, req.ShippingFee)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := a.Settings.SavePricingPolicy(c.Request.Context(), p); err != nil {
		writeError(c, db.Translate(err, "save pricing policy"))
		return
	}
	a.Policy.Invalidate()

	c.JSON(http.StatusOK, policyJSON(p))
}
