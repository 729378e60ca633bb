// Package events publishes order lifecycle events and the payment-initiation
// request that follows a committed checkout.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Keoroanthony/go-checkout/internal/models"
)

const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
	TypePaymentRequested   = "payment.requested"
)

type Event struct {
	EventID     string         `json:"event_id"`
	Type        string         `json:"type"`
	OrderID     uint           `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	CreatedAt   time.Time      `json:"created_at"`
	Payload     map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, evt Event) error
	Close() error
}

func New(eventType string, order *models.Order, payload map[string]any) Event {
	return Event{
		EventID:     uuid.NewString(),
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CreatedAt:   time.Now().UTC(),
		Payload:     payload,
	}
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, topic string, evt Event) error {
	slog.Debug("event_dropped", "topic", topic, "type", evt.Type, "order_number", evt.OrderNumber)
	return nil
}

func (NopPublisher) Close() error { return nil }

// OrderEvents emits order lifecycle events to a single topic.
type OrderEvents struct {
	pub   Publisher
	topic string
}

func NewOrderEvents(pub Publisher, topic string) *OrderEvents {
	return &OrderEvents{pub: pub, topic: topic}
}

func (o *OrderEvents) OrderCreated(ctx context.Context, order *models.Order) error {
	return o.pub.Publish(ctx, o.topic, New(TypeOrderCreated, order, map[string]any{
		"customer_id": order.CustomerID,
		"total":       order.Total.StringFixed(2),
		"items":       len(order.Items),
	}))
}

func (o *OrderEvents) StatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	return o.pub.Publish(ctx, o.topic, New(TypeOrderStatusChanged, order, map[string]any{
		"from":           from,
		"to":             order.Status,
		"payment_status": order.PaymentStatus,
	}))
}

// PaymentRequester hands a committed order to the external payment flow. The
// payment service consumes the request and reports back through the payment
// status webhook.
type PaymentRequester struct {
	pub   Publisher
	topic string
}

func NewPaymentRequester(pub Publisher, topic string) *PaymentRequester {
	return &PaymentRequester{pub: pub, topic: topic}
}

func (p *PaymentRequester) InitiatePayment(ctx context.Context, order *models.Order) error {
	return p.pub.Publish(ctx, p.topic, New(TypePaymentRequested, order, map[string]any{
		"amount":         order.Total.StringFixed(2),
		"payment_method": order.PaymentMethod,
		"contact_email":  order.ContactEmail,
	}))
}
