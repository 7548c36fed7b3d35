// Package payments adapts payment providers behind one interface. Providers
// are resolved through a Registry built once at startup.
package payments

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

type CreateInput struct {
	OrderID     string
	Amount      float64
	Currency    string
	Description string
	Email       string
	// RedeemToken is appended to the return URLs and never sent as metadata.
	RedeemToken string
	Metadata    map[string]interface{}
}

type CreateResult struct {
	Provider    string `json:"provider"`
	PaymentID   string `json:"payment_id"`
	CheckoutURL string `json:"checkout_url"`
	Status      Status `json:"status"`
}

type RefundResult struct {
	OK          bool   `json:"ok"`
	ProviderRef string `json:"provider_ref,omitempty"`
}

// InvoiceInfo is what the provider itself reports about a payment.
type InvoiceInfo struct {
	InvoiceID string
	OrderID   string
	ShopID    string
	Status    string
	Amount    float64
	HasAmount bool
	Currency  string
}

// Confirmed reports whether the provider considers the invoice paid.
func (i *InvoiceInfo) Confirmed() bool {
	switch strings.ToLower(i.Status) {
	case "success", "succeeded", "paid":
		return true
	}
	return false
}

type Provider interface {
	Code() string
	CreatePayment(ctx context.Context, in CreateInput) (*CreateResult, error)
	RefundPayment(ctx context.Context, paymentRef string, amount float64) (*RefundResult, error)
	VerifyInvoice(ctx context.Context, paymentRef string) (*InvoiceInfo, error)
}

// flexString decodes ids that some providers send as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexAmount decodes amounts sent either as numbers or numeric strings.
type flexAmount struct {
	Value float64
	Set   bool
}

func (f *flexAmount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return nil
	}
	f.Value, f.Set = v, true
	return nil
}

func firstNonEmpty(values ...flexString) string {
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}
