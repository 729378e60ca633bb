package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Keoroanthony/go-checkout/internal/auth"
	"github.com/Keoroanthony/go-checkout/internal/checkout"
	"github.com/Keoroanthony/go-checkout/internal/db"
	"github.com/Keoroanthony/go-checkout/internal/handlers"
	"github.com/Keoroanthony/go-checkout/internal/metrics"
	"github.com/Keoroanthony/go-checkout/internal/models"
	"github.com/Keoroanthony/go-checkout/internal/orders"
	"github.com/Keoroanthony/go-checkout/internal/pricing"
	"github.com/Keoroanthony/go-checkout/internal/settings"
)

const adminEmail = "admin@example.com"

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	api    *handlers.API
	admin  models.Customer
}

func setupTestRouter(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)

	testDB, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), db.NewConfig("silent"))
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(testDB))

	originalDB := db.DB
	db.SetTestDB(testDB)
	t.Cleanup(func() { db.SetTestDB(originalDB) })

	store := settings.NewStore(testDB, pricing.DefaultPolicy())
	cache := settings.NewCache(store.LoadPricingPolicy, time.Minute)
	reg := metrics.New()

	api := &handlers.API{
		Engine:   checkout.NewEngine(testDB, cache, checkout.Options{}, checkout.WithMetrics(reg.Checkout)),
		Orders:   orders.NewService(testDB, orders.Options{RestockOnCancel: true}, orders.WithMetrics(reg.Checkout)),
		Settings: store,
		Policy:   cache,
		Metrics:  reg,
	}
	r := handlers.NewRouter(api, handlers.RouterConfig{SessionSecret: "test-secret-key", AdminEmails: []string{adminEmail}})

	// stands in for the OIDC callback
	r.GET("/test/login/:id", func(c *gin.Context) {
		id, _ := strconv.Atoi(c.Param("id"))
		require.NoError(t, auth.SetSessionCustomer(c, uint(id)))
		c.Status(http.StatusNoContent)
	})

	admin := models.Customer{Name: "Admin", Email: adminEmail}
	require.NoError(t, testDB.Create(&admin).Error)

	return &testEnv{router: r, db: testDB, api: api, admin: admin}
}

// client carries session cookies between requests like a browser would.
type client struct {
	env     *testEnv
	cookies map[string]*http.Cookie
}

func (e *testEnv) newClient() *client {
	return &client{env: e, cookies: map[string]*http.Cookie{}}
}

func (e *testEnv) loggedIn(t *testing.T, customerID uint) *client {
	cl := e.newClient()
	w := cl.do(http.MethodGet, "/test/login/"+strconv.Itoa(int(customerID)), nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	return cl
}

func (cl *client) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody []byte
	if body != nil {
		reqBody, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewBuffer(reqBody))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, ck := range cl.cookies {
		req.AddCookie(ck)
	}

	recorder := httptest.NewRecorder()
	cl.env.router.ServeHTTP(recorder, req)
	for _, ck := range recorder.Result().Cookies() {
		cl.cookies[ck.Name] = ck
	}
	return recorder
}

func (e *testEnv) seedProduct(t *testing.T, name, price string, stock int) models.Product {
	p := models.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock, Status: models.ProductStatusActive}
	require.NoError(t, e.db.Create(&p).Error)
	return p
}

func checkoutBody() map[string]any {
	address := map[string]any{
		"full_name":   "Amina Hassan",
		"line1":       "14 Moi Avenue",
		"city":        "Mombasa",
		"state":       "Mombasa County",
		"postal_code": "80100",
		"country":     "KE",
	}
	return map[string]any{
		"contact_email":    "amina@example.com",
		"contact_phone":    "+254 700 000 111",
		"payment_method":   "card",
		"billing_address":  address,
		"shipping_address": address,
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
