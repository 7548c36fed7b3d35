// internal/payments/gateway.go
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// GatewayProvider talks to the invoice-style payment gateway over HTTP.
type GatewayProvider struct {
	client *resty.Client
	cfg    config.PaymentConfig
}

func NewGatewayProvider(cfg config.PaymentConfig) *GatewayProvider {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIBaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", cfg.APIKey)

	return &GatewayProvider{client: client, cfg: cfg}
}

func (p *GatewayProvider) Code() string { return "gateway" }

type gatewayCreateResponse struct {
	StatusCheck *bool `json:"status_check"`
	Data        struct {
		ID          flexString `json:"id"`
		InvoiceID   flexString `json:"invoice_id"`
		PaymentID   flexString `json:"payment_id"`
		URL         flexString `json:"url"`
		CheckoutURL flexString `json:"checkout_url"`
		PaymentURL  flexString `json:"payment_url"`
		Status      flexString `json:"status"`
	} `json:"data"`
	PaymentIDCamel   flexString `json:"paymentId"`
	PaymentIDSnake   flexString `json:"payment_id"`
	ID               flexString `json:"id"`
	InvoiceID        flexString `json:"invoice_id"`
	CheckoutURLCamel flexString `json:"checkoutUrl"`
	CheckoutURLSnake flexString `json:"checkout_url"`
	PaymentURLCamel  flexString `json:"paymentUrl"`
	PaymentURLSnake  flexString `json:"payment_url"`
	Status           flexString `json:"status"`
}

type gatewayRefundResponse struct {
	StatusCheck *bool `json:"status_check"`
	Data        struct {
		ID       flexString `json:"id"`
		RefundID flexString `json:"refund_id"`
	} `json:"data"`
	RefundIDCamel flexString `json:"refundId"`
	RefundIDSnake flexString `json:"refund_id"`
	ID            flexString `json:"id"`
}

type gatewayInvoiceResponse struct {
	StatusCheck bool `json:"status_check"`
	Data        *struct {
		InvoiceID     flexString `json:"invoice_id"`
		OrderID       flexString `json:"order_id"`
		ShopID        flexString `json:"shop_id"`
		Status        flexString `json:"status"`
		InvoiceAmount flexAmount `json:"invoice_amount"`
		Amount        flexAmount `json:"amount"`
		Currency      flexString `json:"currency"`
	} `json:"data"`
}

func (p *GatewayProvider) configured() error {
	if p.cfg.APIKey == "" || p.cfg.ShopID == "" {
		return utils.Internal(nil, "Payment gateway is not configured")
	}
	return nil
}

func (p *GatewayProvider) returnURL(base, orderID, redeemToken string) string {
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

func (p *GatewayProvider) CreatePayment(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
	defer cancel()

	payload := map[string]interface{}{
		"shop_id":       p.cfg.ShopID,
		"order_id":      in.OrderID,
		"amount":        utils.RoundMoney(in.Amount),
		"currency":      strings.ToUpper(in.Currency),
		"custom_fields": in.Metadata,
		"success_url":   p.returnURL(p.cfg.SuccessURL, in.OrderID, in.RedeemToken),
		"fail_url":      p.returnURL(p.cfg.FailURL, in.OrderID, in.RedeemToken),
		"hook_url":      p.cfg.WebhookURL,
		"description":   in.Description,
	}
	if email := strings.TrimSpace(in.Email); email != "" {
		payload["email"] = email
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(p.cfg.CreatePath)
	if err != nil {
		return nil, utils.Upstream(err, "Payment create request failed")
	}
	if resp.IsError() {
		return nil, utils.Upstream(fmt.Errorf("status %d", resp.StatusCode()),
			"Payment create failed with status %d", resp.StatusCode())
	}

	var data gatewayCreateResponse
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return nil, utils.Upstream(err, "Payment gateway returned invalid create response")
	}
	if data.StatusCheck != nil && !*data.StatusCheck {
		return nil, utils.Upstream(nil, "Payment gateway rejected invoice create request")
	}

	paymentID := firstNonEmpty(data.Data.ID, data.Data.InvoiceID, data.Data.PaymentID,
		data.PaymentIDCamel, data.PaymentIDSnake, data.InvoiceID, data.ID)
	checkoutURL := firstNonEmpty(data.Data.URL, data.Data.CheckoutURL, data.Data.PaymentURL,
		data.CheckoutURLCamel, data.CheckoutURLSnake, data.PaymentURLCamel, data.PaymentURLSnake)
	if paymentID == "" || checkoutURL == "" {
		return nil, utils.Upstream(nil, "Payment gateway returned invalid create response")
	}

	status := StatusProcessing
	if strings.EqualFold(firstNonEmpty(data.Data.Status, data.Status), "failed") {
		status = StatusFailed
	}

	return &CreateResult{
		Provider:    p.Code(),
		PaymentID:   paymentID,
		CheckoutURL: checkoutURL,
		Status:      status,
	}, nil
}

func (p *GatewayProvider) RefundPayment(ctx context.Context, paymentRef string, amount float64) (*RefundResult, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
	defer cancel()

	payload := map[string]interface{}{
		"shop_id":    p.cfg.ShopID,
		"invoice_id": paymentRef,
	}
	if amount > 0 {
		payload["amount"] = utils.RoundMoney(amount)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(p.cfg.RefundPath)
	if err != nil {
		return nil, utils.Upstream(err, "Refund request failed")
	}
	if resp.IsError() {
		return &RefundResult{OK: false}, nil
	}

	var data gatewayRefundResponse
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return &RefundResult{OK: false}, nil
	}
	if data.StatusCheck != nil && !*data.StatusCheck {
		return &RefundResult{OK: false}, nil
	}

	return &RefundResult{
		OK:          true,
		ProviderRef: firstNonEmpty(data.Data.ID, data.Data.RefundID, data.RefundIDCamel, data.RefundIDSnake, data.ID),
	}, nil
}

// VerifyInvoice asks the gateway what it knows about paymentRef. An invoice
// that belongs to another shop is rejected here.
func (p *GatewayProvider) VerifyInvoice(ctx context.Context, paymentRef string) (*InvoiceInfo, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.VerifyTimeout)
	defer cancel()

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"shop_id":    p.cfg.ShopID,
			"invoice_id": paymentRef,
		}).
		Get(p.cfg.InvoiceInfoPath)
	if err != nil {
		return nil, utils.Upstream(err, "Payment provider verification failed")
	}
	if resp.IsError() {
		return nil, utils.Upstream(fmt.Errorf("status %d", resp.StatusCode()), "Payment provider verification failed")
	}

	var data gatewayInvoiceResponse
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return nil, utils.Upstream(err, "Payment provider verification failed")
	}
	if !data.StatusCheck || data.Data == nil {
		return nil, utils.Upstream(nil, "Payment provider verification failed")
	}

	info := &InvoiceInfo{
		InvoiceID: firstNonEmpty(data.Data.InvoiceID, flexString(paymentRef)),
		OrderID:   string(data.Data.OrderID),
		ShopID:    string(data.Data.ShopID),
		Status:    strings.ToLower(string(data.Data.Status)),
		Currency:  strings.ToUpper(string(data.Data.Currency)),
	}
	if info.ShopID != "" && info.ShopID != p.cfg.ShopID {
		return nil, utils.Conflict("Payment provider shop mismatch")
	}
	switch {
	case data.Data.InvoiceAmount.Set:
		info.Amount, info.HasAmount = data.Data.InvoiceAmount.Value, true
	case data.Data.Amount.Set:
		info.Amount, info.HasAmount = data.Data.Amount.Value, true
	}
	return info, nil
}
