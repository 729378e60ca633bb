package notifier

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	config "github.com/Keoroanthony/go-checkout/configs"
	"github.com/Keoroanthony/go-checkout/internal/models"
)

type EmailSender struct {
	sender string
	client *ses.Client
}

func NewEmailSender(ctx context.Context, cfg config.EmailConfig) (*EmailSender, error) {
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("sender email address is not configured in environment variables")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	return &EmailSender{sender: cfg.SenderEmail, client: ses.NewFromConfig(awsCfg)}, nil
}

func (s *EmailSender) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	if order.ContactEmail == "" {
		return fmt.Errorf("recipient email address is empty")
	}

	subject, bodyHTML, bodyText := orderConfirmationEmail(order)

	input := &ses.SendEmailInput{
		Source: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: []string{order.ContactEmail},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Charset: aws.String("UTF-8"),
				Data:    aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Charset: aws.String("UTF-8"),
					Data:    aws.String(bodyHTML),
				},
				Text: &types.Content{
					Charset: aws.String("UTF-8"),
					Data:    aws.String(bodyText),
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Info("order_email_sent", "order_number", order.OrderNumber, "to", order.ContactEmail)
	return nil
}

func orderConfirmationEmail(order *models.Order) (subject, bodyHTML, bodyText string) {
	name := order.BillingAddress.FullName
	subject = fmt.Sprintf("Order %s Confirmation - Thank You for Your Purchase!", order.OrderNumber)

	var rowsHTML, rowsText strings.Builder
	for _, it := range order.Items {
		fmt.Fprintf(&rowsHTML, "<li>%d x %s - %s</li>", it.Quantity, html.EscapeString(it.ProductName), it.LineTotal.StringFixed(2))
		fmt.Fprintf(&rowsText, "%d x %s - %s\n", it.Quantity, it.ProductName, it.LineTotal.StringFixed(2))
	}

	bodyHTML = fmt.Sprintf(`
        <html>
        <body>
            <p>Dear %s,</p>
            <p>Thank you for your order! Your order %s has been successfully placed.</p>
            <p><strong>Order Details:</strong></p>
            <ul>%s</ul>
            <p>Subtotal: %s<br>Tax: %s<br>Shipping: %s<br><strong>Total: %s</strong></p>
            <p>We'll send you another email when your order ships.</p>
            <p>Best regards,</p>
            <p>Your E-commerce Team</p>
        </body>
        </html>`,
		html.EscapeString(name), order.OrderNumber, rowsHTML.String(),
		order.Subtotal.StringFixed(2), order.TaxAmount.StringFixed(2),
		order.ShippingAmount.StringFixed(2), order.Total.StringFixed(2))

	bodyText = fmt.Sprintf(
		"Dear %s,\n\nThank you for your order! Your order %s has been successfully placed.\n\n"+
			"Order Details:\n%s\nSubtotal: %s\nTax: %s\nShipping: %s\nTotal: %s\n\n"+
			"We'll send you another email when your order ships.\n\nBest regards,\nYour E-commerce Team",
		name, order.OrderNumber, rowsText.String(),
		order.Subtotal.StringFixed(2), order.TaxAmount.StringFixed(2),
		order.ShippingAmount.StringFixed(2), order.Total.StringFixed(2))

	return subject, bodyHTML, bodyText
}
