package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Keoroanthony/go-checkout/internal/db"
	"github.com/Keoroanthony/go-checkout/internal/errs"
	"github.com/Keoroanthony/go-checkout/internal/models"
	"github.com/Keoroanthony/go-checkout/internal/pricing"
)

type CreateProductRequest struct {
	Name   string               `json:"name" binding:"required,max=255"`
	Price  decimal.Decimal      `json:"price"`
	Stock  int                  `json:"stock" binding:"gte=0"`
	Status models.ProductStatus `json:"status"`
}

// POST /admin/products
func CreateProduct(c *gin.Context) {
	var req CreateProductRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be greater than 0"})
		return
	}
	if req.Status == "" {
		req.Status = models.ProductStatusActive
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown product status"})
		return
	}

	product := models.Product{
		Name:   req.Name,
		Price:  pricing.Round2(req.Price),
		Stock:  req.Stock,
		Status: req.Status,
	}

	if err := db.DB.WithContext(c.Request.Context()).Create(&product).Error; err != nil {
		writeError(c, db.Translate(err, "create product"))
		return
	}

	c.JSON(http.StatusCreated, product)
}

type UpdateProductRequest struct {
	Name   *string               `json:"name" binding:"omitempty,min=1,max=255"`
	Price  *decimal.Decimal      `json:"price"`
	Stock  *int                  `json:"stock" binding:"omitempty,gte=0"`
	Status *models.ProductStatus `json:"status"`
}

// PATCH /admin/products/:id
//
// Price and name changes never touch existing orders; their items are
// snapshots.
func UpdateProduct(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must be greater than 0"})
			return
		}
		updates["price"] = pricing.Round2(*req.Price)
	}
	if req.Stock != nil {
		updates["stock"] = *req.Stock
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown product status"})
			return
		}
		updates["status"] = *req.Status
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	ctx := c.Request.Context()
	var product models.Product
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&product, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&product).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&product, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(c, &errs.NotFoundError{Resource: "product", ID: fmt.Sprint(id)})
		return
	}
	if err != nil {
		writeError(c, db.Translate(err, "update product"))
		return
	}

	c.JSON(http.StatusOK, product)
}
