package notifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/Keoroanthony/go-checkout/configs"
	"github.com/Keoroanthony/go-checkout/internal/models"
)

func testOrder() *models.Order {
	phone := "+254700000001"
	return &models.Order{
		OrderNumber:    "ORD-000001123",
		ContactEmail:   "buyer@example.com",
		ContactPhone:   &phone,
		BillingAddress: models.Address{FullName: "Ada <Lovelace>"},
		Subtotal:       decimal.RequireFromString("25"),
		TaxAmount:      decimal.RequireFromString("2"),
		ShippingAmount: decimal.RequireFromString("9.99"),
		Total:          decimal.RequireFromString("36.99"),
		Items: []models.OrderItem{
			{ProductName: "Mug", Quantity: 2, LineTotal: decimal.RequireFromString("20")},
		},
	}
}

func TestOrderConfirmationEmail(t *testing.T) {
	subject, bodyHTML, bodyText := orderConfirmationEmail(testOrder())

	assert.Contains(t, subject, "ORD-000001123")
	assert.Contains(t, bodyHTML, "Ada &lt;Lovelace&gt;")
	assert.Contains(t, bodyHTML, "<li>2 x Mug - 20.00</li>")
	assert.Contains(t, bodyText, "Total: 36.99")
	assert.Contains(t, bodyText, "Shipping: 9.99")
}

func TestSMSSenderSendOrderConfirmation(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got, _ = url.ParseQuery(string(body))
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"SMSMessageData":{"Message":"Sent to 1/1"}}`))
	}))
	defer srv.Close()

	sender := NewSMSSender(config.AfricaTalkingConfig{Username: "sandbox", APIKey: "secret", SMSURL: srv.URL, SenderID: "SHOP"})
	require.True(t, sender.Enabled())

	require.NoError(t, sender.SendOrderConfirmation(context.Background(), testOrder()))
	assert.Equal(t, "+254700000001", got.Get("to"))
	assert.Contains(t, got.Get("message"), "ORD-000001123")
	assert.Contains(t, got.Get("message"), "36.99")
}

func TestSMSSenderReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"SMSMessageData":{"Message":"bad key"}}`))
	}))
	defer srv.Close()

	sender := NewSMSSender(config.AfricaTalkingConfig{Username: "sandbox", APIKey: "nope", SMSURL: srv.URL})
	err := sender.Send(context.Background(), "+254700000001", "hi")
	assert.ErrorContains(t, err, "bad key")
}

func TestOrderNotifierSkipsUnconfiguredChannels(t *testing.T) {
	n := New(nil, NewSMSSender(config.AfricaTalkingConfig{}))
	assert.NoError(t, n.OrderPlaced(context.Background(), testOrder()))
}
