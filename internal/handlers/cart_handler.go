package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Keoroanthony/go-checkout/internal/auth"
	"github.com/Keoroanthony/go-checkout/internal/db"
	"github.com/Keoroanthony/go-checkout/internal/errs"
	"github.com/Keoroanthony/go-checkout/internal/models"
	"github.com/Keoroanthony/go-checkout/internal/pricing"
)

type AddCartItemRequest struct {
	ProductID uint `json:"product_id" binding:"required"`
	Quantity  int  `json:"quantity" binding:"required,gt=0,lte=10000"`
}

// cartScope keeps customers and guests apart: a guest only ever sees rows
// with a null customer id for their own session.
func cartScope(c *gin.Context) func(*gorm.DB) *gorm.DB {
	customerID := auth.CustomerIDFrom(c)
	sessionID := auth.SessionIDFrom(c)
	return func(q *gorm.DB) *gorm.DB {
		if customerID != nil {
			return q.Where("customer_id = ?", *customerID)
		}
		return q.Where("customer_id IS NULL AND session_id = ?", sessionID)
	}
}

// POST /api/cart/items
func (a *API) AddCartItem(c *gin.Context) {
	var req AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	var product models.Product
	if err := db.DB.WithContext(ctx).First(&product, req.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(c, &errs.NotFoundError{Resource: "product", ID: fmt.Sprint(req.ProductID)})
			return
		}
		writeError(c, db.Translate(err, "add cart item"))
		return
	}
	if product.Status != models.ProductStatusActive {
		writeError(c, &errs.ProductUnavailableError{ProductName: product.Name})
		return
	}

	var item models.CartItem
	err := db.DB.WithContext(ctx).Scopes(cartScope(c)).Where("product_id = ?", product.ID).First(&item).Error
	switch {
	case err == nil:
		item.Quantity += req.Quantity
		item.UnitPrice = product.Price
		err = db.DB.WithContext(ctx).Model(&item).Updates(map[string]any{"quantity": item.Quantity, "unit_price": item.UnitPrice}).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		item = models.CartItem{
			CustomerID: auth.CustomerIDFrom(c),
			ProductID:  product.ID,
			Quantity:   req.Quantity,
			UnitPrice:  product.Price,
		}
		if item.CustomerID == nil {
			item.SessionID = auth.SessionIDFrom(c)
		}
		err = db.DB.WithContext(ctx).Omit("Product").Create(&item).Error
	}
	if err != nil {
		writeError(c, db.Translate(err, "add cart item"))
		return
	}

	item.Product = product
	c.JSON(http.StatusCreated, item)
}

type CartView struct {
	Items          []models.CartItem `json:"items"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	TaxAmount      decimal.Decimal   `json:"tax_amount"`
	ShippingAmount decimal.Decimal   `json:"shipping_amount"`
	Total          decimal.Decimal   `json:"total"`
}

// GET /api/cart
//
// The totals are a preview at current prices. Checkout prices again.
func (a *API) GetCart(c *gin.Context) {
	ctx := c.Request.Context()

	items := []models.CartItem{}
	if err := db.DB.WithContext(ctx).Scopes(cartScope(c)).Preload("Product").Order("id").Find(&items).Error; err != nil {
		writeError(c, db.Translate(err, "get cart"))
		return
	}

	policy, err := a.Policy.Policy(ctx)
	if err != nil {
		writeError(c, db.Translate(err, "get cart"))
		return
	}

	lines := make([]pricing.Line, len(items))
	for i, it := range items {
		lines[i] = pricing.Line{Quantity: it.Quantity, UnitPrice: it.Product.Price}
	}
	b := pricing.Price(lines, policy)

	c.JSON(http.StatusOK, CartView{
		Items:          items,
		Subtotal:       b.Subtotal,
		TaxAmount:      b.TaxAmount,
		ShippingAmount: b.ShippingAmount,
		Total:          b.Total,
	})
}

// DELETE /api/cart/items/:id
func (a *API) RemoveCartItem(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	res := db.DB.WithContext(c.Request.Context()).Scopes(cartScope(c)).Where("id = ?", id).Delete(&models.CartItem{})
	if res.Error != nil {
		writeError(c, db.Translate(res.Error, "remove cart item"))
		return
	}
	if res.RowsAffected == 0 {
		writeError(c, &errs.NotFoundError{Resource: "cart item", ID: fmt.Sprint(id)})
		return
	}
	c.Status(http.StatusNoContent)
}
