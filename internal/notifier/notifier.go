// Package notifier sends order confirmations once a checkout has committed.
package notifier

import (
	"context"
	"errors"

	"github.com/Keoroanthony/go-checkout/internal/models"
)

// OrderNotifier fans a confirmation out to every configured channel. A nil
// channel is skipped.
type OrderNotifier struct {
	email *EmailSender
	sms   *SMSSender
}

func New(email *EmailSender, sms *SMSSender) *OrderNotifier {
	if sms != nil && !sms.Enabled() {
		sms = nil
	}
	return &OrderNotifier{email: email, sms: sms}
}

func (n *OrderNotifier) OrderPlaced(ctx context.Context, order *models.Order) error {
	var errEmail, errSMS error
	if n.email != nil {
		errEmail = n.email.SendOrderConfirmation(ctx, order)
	}
	if n.sms != nil {
		errSMS = n.sms.SendOrderConfirmation(ctx, order)
	}
	return errors.Join(errEmail, errSMS)
}
