package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/refund"
	"github.com/stripe/stripe-go/v74/webhook"
)

// Gateway is the payment collaborator surface the order core depends on.
type Gateway interface {
	// Hold creates a manual-capture charge for the order and returns its ref.
	Hold(ctx context.Context, amount int64, currency, orderID string) (string, error)
	// Capture finalizes a previously-held charge.
	Capture(ctx context.Context, chargeRef string) error
	// Refund returns captured funds; amount 0 refunds the full charge.
	Refund(ctx context.Context, chargeRef string, amount int64) (string, error)
	// VoidHold releases an uncaptured hold.
	VoidHold(ctx context.Context, chargeRef string) error
	// VerifySignature authenticates a webhook payload.
	VerifySignature(payload []byte, signature string) bool
}

// StripeClient is a thin wrapper around stripe-go for PaymentIntent
// hold/capture/refund flows and webhook verification.
type StripeClient struct {
	webhookSecret string
}

// NewStripeClient initializes the stripe client from STRIPE_API_KEY and
// STRIPE_WEBHOOK_SECRET env vars.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET")}
}

func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, orderID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("order_id", orderID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeClient) Capture(ctx context.Context, chargeRef string) error {
	_, err := paymentintent.Capture(chargeRef, nil)
	return err
}

func (s *StripeClient) Refund(ctx context.Context, chargeRef string, amount int64) (string, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(chargeRef)}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	r, err := refund.New(params)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *StripeClient) VoidHold(ctx context.Context, chargeRef string) error {
	_, err := paymentintent.Cancel(chargeRef, nil)
	return err
}

func (s *StripeClient) VerifySignature(payload []byte, signature string) bool {
	_, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	return err == nil
}
