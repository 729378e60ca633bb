package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	config "github.com/Keoroanthony/go-checkout/configs"
	"github.com/Keoroanthony/go-checkout/internal/db"
	"github.com/Keoroanthony/go-checkout/internal/models"
	"github.com/Keoroanthony/go-checkout/internal/obs"
)

var (
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
)

const (
	SessionName = "gosess"

	sessionCustomerID = "customer_id"
	sessionGuestID    = "guest_id"
	sessionState      = "oidc_state"

	ctxCustomer  = "customer"
	ctxSessionID = "session_id"
)

// Init discovers the OIDC provider. Without an issuer login is disabled and
// the API serves guests only.
func Init(ctx context.Context, cfg config.OIDCConfig) error {
	if cfg.Issuer == "" {
		obs.Logger.Warn("oidc_disabled", "reason", "OIDC_ISSUER not set")
		return nil
	}

	var err error
	provider, err = oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return fmt.Errorf("oidc provider init: %w", err)
	}

	verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	oauth2Config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email", "phone"},
	}
	return nil
}

func Enabled() bool {
	return oauth2Config != nil
}

// GET /auth/login
func Login(c *gin.Context) {
	if !Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "login is not configured"})
		return
	}
	state := uuid.NewString()
	sess := sessions.Default(c)
	sess.Set(sessionState, state)
	if err := sess.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
		return
	}
	c.Redirect(http.StatusFound, oauth2Config.AuthCodeURL(state))
}

// GET /auth/callback
func Callback(c *gin.Context) {
	if !Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "login is not configured"})
		return
	}

	sess := sessions.Default(c)
	expected, _ := sess.Get(sessionState).(string)
	if expected == "" || c.Query("state") != expected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
		return
	}
	sess.Delete(sessionState)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code missing"})
		return
	}

	ctx := c.Request.Context()
	oauth2Token, err := oauth2Config.Exchange(ctx, code)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token exchange failed"})
		return
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no id_token in token response"})
		return
	}

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token verification failed"})
		return
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claims parse error"})
		return
	}

	cust, err := UpsertCustomer(ctx, db.DB, claims)
	if err != nil {
		obs.Logger.Error("customer_upsert_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store customer"})
		return
	}

	sess.Set(sessionCustomerID, cust.ID)
	if err := sess.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged in", "customer": cust})
}

// POST /auth/logout
func Logout(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	_ = sess.Save()
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

type Claims struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone_number"`
}

// UpsertCustomer finds the customer by OIDC subject, then by email, and
// creates one when neither matches.
func UpsertCustomer(ctx context.Context, conn *gorm.DB, claims Claims) (*models.Customer, error) {
	if claims.Sub == "" {
		return nil, errors.New("id token has no subject")
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	sub := claims.Sub

	var cust models.Customer
	err := conn.WithContext(ctx).Where("oidc_subject = ?", sub).First(&cust).Error
	if err == nil {
		return &cust, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if email != "" {
		err = conn.WithContext(ctx).Where("email = ?", email).First(&cust).Error
		if err == nil {
			cust.OIDCID = &sub
			return &cust, conn.WithContext(ctx).Model(&cust).Update("oidc_subject", sub).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	cust = models.Customer{
		OIDCID: &sub,
		Name:   claims.Name,
		Email:  email,
		Phone:  claims.Phone,
	}
	if err := conn.WithContext(ctx).Create(&cust).Error; err != nil {
		return nil, err
	}
	return &cust, nil
}

// Identify resolves who is calling without requiring a login. A logged-in
// customer is put on the context; everyone gets a stable guest session id
// that keys their cart until they log in.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)

		if custID, ok := sess.Get(sessionCustomerID).(uint); ok && custID != 0 {
			var cust models.Customer
			if err := db.DB.WithContext(c.Request.Context()).First(&cust, custID).Error; err == nil {
				c.Set(ctxCustomer, &cust)
			}
		}

		guestID, _ := sess.Get(sessionGuestID).(string)
		if guestID == "" {
			guestID = uuid.NewString()
			sess.Set(sessionGuestID, guestID)
			if err := sess.Save(); err != nil {
				obs.Logger.Warn("session_save_failed", "error", err)
			}
		}
		c.Set(ctxSessionID, guestID)
		c.Next()
	}
}

// Middleware: ensures user is logged in and injects *models.Customer into context.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CustomerFrom(c); ok {
			c.Next()
			return
		}

		sess := sessions.Default(c)
		custID, ok := sess.Get(sessionCustomerID).(uint)
		if !ok || custID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var cust models.Customer
		if err := db.DB.WithContext(c.Request.Context()).First(&cust, custID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.Set(ctxCustomer, &cust)
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(adminEmails []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		allowed[strings.ToLower(e)] = struct{}{}
	}
	return func(c *gin.Context) {
		cust, ok := CustomerFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if _, ok := allowed[strings.ToLower(cust.Email)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

func CustomerFrom(c *gin.Context) (*models.Customer, bool) {
	v, ok := c.Get(ctxCustomer)
	if !ok {
		return nil, false
	}
	cust, ok := v.(*models.Customer)
	return cust, ok && cust != nil
}

func CustomerIDFrom(c *gin.Context) *uint {
	if cust, ok := CustomerFrom(c); ok {
		id := cust.ID
		return &id
	}
	return nil
}

func SessionIDFrom(c *gin.Context) string {
	return c.GetString(ctxSessionID)
}

// SetSessionCustomer logs a customer into the current session.
func SetSessionCustomer(c *gin.Context, customerID uint) error {
	sess := sessions.Default(c)
	sess.Set(sessionCustomerID, customerID)
	return sess.Save()
}
