package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Keoroanthony/go-checkout/internal/auth"
	"github.com/Keoroanthony/go-checkout/internal/errs"
	"github.com/Keoroanthony/go-checkout/internal/models"
	"github.com/Keoroanthony/go-checkout/internal/orders"
)

// GET /api/orders
func (a *API) ListMyOrders(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	f.CustomerID = auth.CustomerIDFrom(c)

	page, err := a.Orders.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GET /api/orders/:number
//
// Customers see their own orders. Guests prove ownership with ?email=
// matching the order's contact email; a mismatch looks like a missing order.
func (a *API) GetMyOrder(c *gin.Context) {
	number := c.Param("number")
	order, err := a.Orders.GetByNumber(c.Request.Context(), number)
	if err != nil {
		writeError(c, err)
		return
	}

	if !ownsOrder(c, order) {
		writeError(c, &errs.NotFoundError{Resource: "order", ID: number})
		return
	}
	c.JSON(http.StatusOK, order)
}

func ownsOrder(c *gin.Context, order *models.Order) bool {
	if id := auth.CustomerIDFrom(c); id != nil && order.CustomerID != nil && *id == *order.CustomerID {
		return true
	}
	email := strings.TrimSpace(c.Query("email"))
	return email != "" && strings.EqualFold(email, order.ContactEmail)
}

// GET /admin/orders
func (a *API) ListOrders(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	if raw := c.Query("customer_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid customer_id")
			return
		}
		cid := uint(id)
		f.CustomerID = &cid
	}

	page, err := a.Orders.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GET /admin/orders/:id
func (a *API) GetOrder(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	order, err := a.Orders.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type UpdateStatusRequest struct {
	Status         models.OrderStatus `json:"status" binding:"required"`
	TrackingNumber *string            `json:"tracking_number" binding:"omitempty,max=64"`
	Notes          *string            `json:"notes" binding:"omitempty,max=1000"`
	Force          bool               `json:"force"`
}

// PATCH /admin/orders/:id/status
func (a *API) UpdateOrderStatus(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	order, err := a.Orders.UpdateStatus(c.Request.Context(), orders.StatusUpdate{
		OrderID:        id,
		Status:         req.Status,
		TrackingNumber: req.TrackingNumber,
		Notes:          req.Notes,
		Force:          req.Force,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type UpdatePaymentStatusRequest struct {
	PaymentStatus models.PaymentStatus `json:"payment_status" binding:"required"`
}

// PATCH /admin/orders/:id/payment-status
func (a *API) UpdatePaymentStatus(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	order, err := a.Orders.UpdatePaymentStatus(c.Request.Context(), id, req.PaymentStatus)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func bindFilter(c *gin.Context) (orders.Filter, bool) {
	f := orders.Filter{
		Status:        models.OrderStatus(c.Query("status")),
		PaymentStatus: models.PaymentStatus(c.Query("payment_status")),
		Search:        c.Query("q"),
		Sort:          c.Query("sort"),
		Desc:          c.DefaultQuery("order", "desc") == "desc",
	}
	var err error
	if f.Page, err = queryInt(c, "page"); err != nil {
		badRequest(c, "invalid page")
		return f, false
	}
	if f.PageSize, err = queryInt(c, "page_size"); err != nil {
		badRequest(c, "invalid page_size")
		return f, false
	}
	return f, true
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}
