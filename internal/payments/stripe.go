// internal/payments/stripe.go
package payments

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// StripeProvider uses Checkout Sessions. The session id is the provider
// reference stored on the payment.
type StripeProvider struct {
	api *client.API
	cfg config.PaymentConfig
}

// NewStripeProvider builds a client bound to the configured secret key.
// backends may be nil to use the Stripe API.
func NewStripeProvider(cfg config.PaymentConfig, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{api: client.New(cfg.StripeSecretKey, backends), cfg: cfg}
}

func (p *StripeProvider) Code() string { return "stripe" }

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func withOrderQuery(base, orderID, redeemToken string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("order_id", orderID)
	if redeemToken != "" {
		q.Set("t", redeemToken)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *StripeProvider) CreatePayment(ctx context.Context, in CreateInput) (*CreateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withOrderQuery(p.cfg.SuccessURL, in.OrderID, in.RedeemToken)),
		CancelURL:         stripe.String(withOrderQuery(p.cfg.FailURL, in.OrderID, in.RedeemToken)),
		ClientReferenceID: stripe.String(in.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(in.Currency)),
					UnitAmount: stripe.Int64(toMinorUnits(in.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(in.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}
	params.Context = ctx
	params.AddMetadata("order_id", in.OrderID)
	for k, v := range in.Metadata {
		if v != nil {
			params.AddMetadata(k, fmt.Sprint(v))
		}
	}

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, utils.Upstream(err, "failed to create checkout session")
	}

	return &CreateResult{
		Provider:    p.Code(),
		PaymentID:   session.ID,
		CheckoutURL: session.URL,
		Status:      StatusProcessing,
	}, nil
}

func (p *StripeProvider) RefundPayment(ctx context.Context, paymentRef string, amount float64) (*RefundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
	defer cancel()

	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	session, err := p.api.CheckoutSessions.Get(paymentRef, getParams)
	if err != nil {
		return nil, utils.Upstream(err, "failed to load checkout session")
	}
	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		return &RefundResult{OK: false}, nil
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(session.PaymentIntent.ID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(toMinorUnits(amount))
	}
	params.Context = ctx

	refund, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, utils.Upstream(err, "failed to process refund")
	}
	return &RefundResult{OK: refund.Status != stripe.RefundStatusFailed, ProviderRef: refund.ID}, nil
}

func (p *StripeProvider) VerifyInvoice(ctx context.Context, paymentRef string) (*InvoiceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.VerifyTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := p.api.CheckoutSessions.Get(paymentRef, params)
	if err != nil {
		return nil, utils.Upstream(err, "Payment provider verification failed")
	}

	return &InvoiceInfo{
		InvoiceID: session.ID,
		OrderID:   session.ClientReferenceID,
		Status:    string(session.PaymentStatus),
		Amount:    float64(session.AmountTotal) / 100,
		HasAmount: true,
		Currency:  strings.ToUpper(string(session.Currency)),
	}, nil
}
