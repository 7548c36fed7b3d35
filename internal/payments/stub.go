// internal/payments/stub.go
package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// StubProvider settles every payment immediately. It remembers what it
// created so invoice lookups can be answered.
type StubProvider struct {
	successURL string

	mu       sync.RWMutex
	invoices map[string]InvoiceInfo
}

func NewStubProvider(successURL string) *StubProvider {
	return &StubProvider{successURL: successURL, invoices: make(map[string]InvoiceInfo)}
}

func (p *StubProvider) Code() string { return "stub" }

func (p *StubProvider) CreatePayment(ctx context.Context, in CreateInput) (*CreateResult, error) {
	paymentID := fmt.Sprintf("stub_%s_%d", in.OrderID, time.Now().UnixNano())

	checkout := p.successURL
	if u, err := url.Parse(p.successURL); err == nil {
		q := u.Query()
		q.Set("order_id", in.OrderID)
		q.Set("mock", "1")
		if in.RedeemToken != "" {
			q.Set("t", in.RedeemToken)
		}
		u.RawQuery = q.Encode()
		checkout = u.String()
	}

	p.mu.Lock()
	p.invoices[paymentID] = InvoiceInfo{
		InvoiceID: paymentID,
		OrderID:   in.OrderID,
		Status:    "success",
		Amount:    in.Amount,
		HasAmount: true,
		Currency:  strings.ToUpper(in.Currency),
	}
	p.mu.Unlock()

	return &CreateResult{
		Provider:    p.Code(),
		PaymentID:   paymentID,
		CheckoutURL: checkout,
		Status:      StatusSuccess,
	}, nil
}

func (p *StubProvider) RefundPayment(ctx context.Context, paymentRef string, amount float64) (*RefundResult, error) {
	return &RefundResult{OK: true, ProviderRef: "refund_" + paymentRef}, nil
}

func (p *StubProvider) VerifyInvoice(ctx context.Context, paymentRef string) (*InvoiceInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.invoices[paymentRef]
	if !ok {
		return &InvoiceInfo{InvoiceID: paymentRef, Status: "unknown"}, nil
	}
	return &info, nil
}
