package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/Keoroanthony/go-checkout/internal/auth"
	"github.com/Keoroanthony/go-checkout/internal/db"
)

type RouterConfig struct {
	SessionSecret string
	AdminEmails   []string
}

func NewRouter(a *API, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger())
	if a.Metrics != nil {
		r.Use(Metrics(a.Metrics.Server))
	}

	// ── session store ──
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{Path: "/", MaxAge: 30 * 24 * 3600, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(auth.SessionName, store))

	// ── public endpoints ──
	r.GET("/health", Health)
	if a.Metrics != nil {
		r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))
	}
	r.GET("/auth/login", auth.Login)
	r.GET("/auth/callback", auth.Callback)
	r.POST("/auth/logout", auth.Logout)

	// ── shopper API: customers and guests ──
	api := r.Group("/api")
	api.Use(auth.Identify())
	{
		api.GET("/cart", a.GetCart)
		api.POST("/cart/items", a.AddCartItem)
		api.DELETE("/cart/items/:id", a.RemoveCartItem)
		api.POST("/checkout", a.Checkout)
		api.GET("/orders", auth.RequireAuth(), a.ListMyOrders)
		api.GET("/orders/:number", a.GetMyOrder)
	}

	// ── back office ──
	admin := r.Group("/admin")
	admin.Use(auth.RequireAuth(), auth.RequireAdmin(cfg.AdminEmails))
	{
		admin.POST("/products", CreateProduct)
		admin.PATCH("/products/:id", UpdateProduct)
		admin.GET("/orders", a.ListOrders)
		admin.GET("/orders/:id", a.GetOrder)
		admin.PATCH("/orders/:id/status", a.UpdateOrderStatus)
		admin.PATCH("/orders/:id/payment-status", a.UpdatePaymentStatus)
		admin.GET("/settings/pricing", a.GetPricingPolicy)
		admin.PUT("/settings/pricing", a.UpdatePricingPolicy)
	}

	return r
}

// GET /health
func Health(c *gin.Context) {
	sqlDB, err := db.DB.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
