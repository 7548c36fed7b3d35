// internal/services/checkout_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/javajoker/keyshop-backend/internal/cache"
	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/payments"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

type CheckoutService struct {
	ledger   OrderLedger
	catalog  Catalog
	registry ProviderRegistry
	webhooks *WebhookService
	effects  *OrderEffects
	audit    *AuditService
	cache    cache.StatusCache
	config   *config.Config
	now      func() time.Time
}

type CheckoutRequest struct {
	Email         string `json:"email" validate:"required,email,max=255"`
	ProductID     string `json:"productId" validate:"required,max=100"`
	Quantity      int    `json:"quantity" validate:"omitempty,min=1,max=1"`
	PromoCode     string `json:"promoCode" validate:"omitempty,max=64"`
	PaymentMethod string `json:"paymentMethod" validate:"omitempty,max=32"`
}

type CheckoutResponse struct {
	OrderID         string  `json:"orderId"`
	RedeemToken     string  `json:"redeemToken"`
	PaymentID       string  `json:"paymentId"`
	PaymentProvider string  `json:"paymentProvider"`
	CheckoutURL     string  `json:"checkoutUrl"`
	Status          string  `json:"status"`
	BasePrice       float64 `json:"basePrice"`
	DiscountAmount  float64 `json:"discountAmount"`
	FinalPrice      float64 `json:"finalPrice"`
	FinalPriceRUB   float64 `json:"final_price_rub,omitempty"`
	Currency        string  `json:"currency"`
	PromoCode       string  `json:"promoCode,omitempty"`
}

type PromoValidateRequest struct {
	Code      string `json:"code" validate:"required,max=64"`
	ProductID string `json:"productId" validate:"required,max=100"`
	Quantity  int    `json:"quantity" validate:"omitempty,min=1,max=1"`
	Email     string `json:"email" validate:"omitempty,email"`
}

type PromoQuote struct {
	Valid          bool    `json:"valid"`
	BasePrice      float64 `json:"basePrice"`
	DiscountAmount float64 `json:"discountAmount"`
	FinalPrice     float64 `json:"finalPrice"`
	PromoCodeID    string  `json:"promoCodeId,omitempty"`
	PartnerID      string  `json:"partnerId,omitempty"`
}

type PublicOrderStatus struct {
	OrderID     string  `json:"orderId"`
	Status      string  `json:"status"`
	PlanID      string  `json:"planId,omitempty"`
	EmailMasked string  `json:"emailMasked"`
	FinalAmount float64 `json:"finalAmount"`
	Currency    string  `json:"currency"`
}

type RefundResponse struct {
	OK        bool   `json:"ok"`
	RefundRef string `json:"refundRef,omitempty"`
}

func NewCheckoutService(
	ledger OrderLedger,
	catalog Catalog,
	registry ProviderRegistry,
	webhooks *WebhookService,
	effects *OrderEffects,
	audit *AuditService,
	statusCache cache.StatusCache,
	config *config.Config,
) *CheckoutService {
	if statusCache == nil {
		statusCache = cache.NopStatusCache{}
	}
	return &CheckoutService{
		ledger:   ledger,
		catalog:  catalog,
		registry: registry,
		webhooks: webhooks,
		effects:  effects,
		audit:    audit,
		cache:    statusCache,
		config:   config,
		now:      time.Now,
	}
}

// CreateOrder runs the anti-fraud gate, prices the order, persists it as
// PENDING and opens a payment with the provider.
func (s *CheckoutService) CreateOrder(ctx context.Context, req CheckoutRequest, ip string) (*CheckoutResponse, error) {
	if err := s.checkAntiFraud(ctx, ip); err != nil {
		return nil, err
	}

	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}

	product, err := s.purchasableProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	subtotal := utils.RoundMoney(product.Price * float64(qty))
	discount, total := 0.0, subtotal

	var promo *models.PromoCode
	if code := strings.TrimSpace(req.PromoCode); code != "" {
		promo, err = s.catalog.FindPromo(ctx, code)
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return nil, utils.Validation("Promo code is invalid or inactive")
			}
			return nil, err
		}
		if reason := promo.PromoRejection(req.Email, s.now()); reason != "" {
			return nil, utils.Validation(reason)
		}
		discount, total = utils.ComputeDiscount(subtotal, utils.DiscountType(promo.DiscountType), promo.DiscountValue)
	}

	if total < s.config.Checkout.MinAmount {
		return nil, utils.Validation("Order total is below minimal payable amount")
	}

	provider := s.registry.Default()
	if req.PaymentMethod != "" {
		if provider, err = s.registry.Get(req.PaymentMethod); err != nil {
			return nil, err
		}
	}

	redeemToken, err := utils.GenerateRedeemToken()
	if err != nil {
		return nil, utils.Internal(err, "failed to generate redeem token")
	}
	redeemHash, err := bcrypt.GenerateFromPassword([]byte(redeemToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, utils.Internal(err, "failed to hash redeem token")
	}

	currency := strings.ToUpper(product.Currency)
	if currency == "" {
		currency = s.config.Checkout.DefaultCurrency
	}

	order := &models.Order{
		Email:           strings.TrimSpace(req.Email),
		SubtotalAmount:  subtotal,
		DiscountAmount:  discount,
		TotalAmount:     total,
		Currency:        currency,
		PaymentMethod:   provider.Code(),
		IP:              ip,
		RedeemTokenHash: string(redeemHash),
		Items: []models.OrderItem{
			{
				ProductID:  product.ID,
				ProductKey: product.Slug,
				Title:      product.Title,
				Price:      product.Price,
				Quantity:   qty,
			},
		},
	}
	if promo != nil {
		order.PromoCodeID = &promo.ID
		order.PromoCodeSnapshot = promo.Code
		order.PartnerID = promo.PartnerID
	}

	if err := s.ledger.CreatePendingOrder(ctx, order); err != nil {
		return nil, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"provider": provider.Code(),
	})

	metadata := map[string]interface{}{
		"order_id":     order.ID.String(),
		"product_id":   product.ID.String(),
		"product_slug": product.Slug,
		"quantity":     qty,
		"subtotal":     subtotal,
		"discount":     discount,
		"final_amount": total,
	}
	if promo != nil {
		metadata["promo_code"] = promo.Code
	}

	created, err := provider.CreatePayment(ctx, payments.CreateInput{
		OrderID:     order.ID.String(),
		Amount:      total,
		Currency:    currency,
		Description: fmt.Sprintf("%s x%d", product.Title, qty),
		Email:       order.Email,
		RedeemToken: redeemToken,
		Metadata:    metadata,
	})
	if err != nil {
		logger.WithError(err).Warn("Payment create failed")
		s.failOrder(ctx, order, provider.Code(), "")
		return nil, err
	}

	status, err := s.settleCreatedPayment(ctx, order, created)
	if err != nil {
		return nil, err
	}

	logger.WithField("status", status).Info("Order created")

	resp := &CheckoutResponse{
		OrderID:         order.ID.String(),
		RedeemToken:     redeemToken,
		PaymentID:       created.PaymentID,
		PaymentProvider: created.Provider,
		CheckoutURL:     created.CheckoutURL,
		Status:          string(status),
		BasePrice:       subtotal,
		DiscountAmount:  discount,
		FinalPrice:      total,
		Currency:        currency,
		PromoCode:       order.PromoCodeSnapshot,
	}
	if rub, ok := utils.ConvertToRUB(total, currency, s.config.FX.Rates()); ok {
		resp.FinalPriceRUB = rub
	}
	return resp, nil
}

// settleCreatedPayment records the provider's answer. An immediate success
// goes through the same transition path as a webhook.
func (s *CheckoutService) settleCreatedPayment(ctx context.Context, order *models.Order, created *payments.CreateResult) (models.OrderStatus, error) {
	if created.Status == payments.StatusFailed {
		s.failOrder(ctx, order, created.Provider, created.PaymentID)
		return models.OrderStatusFailed, nil
	}

	payment := &models.Payment{
		OrderID:     order.ID,
		Provider:    created.Provider,
		ProviderRef: created.PaymentID,
		Status:      models.PaymentStatusProcessing,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
	}
	if err := s.ledger.AttachPayment(ctx, payment); err != nil {
		return "", err
	}

	if created.Status != payments.StatusSuccess {
		return models.OrderStatusPending, nil
	}

	res, err := s.ledger.ApplyTransition(ctx, models.Transition{
		OrderID:       order.ID,
		PaymentID:     &payment.ID,
		Provider:      created.Provider,
		ProviderRef:   created.PaymentID,
		PaymentStatus: models.PaymentStatusSuccess,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		Source:        models.SourceCheckout,
	})
	if err != nil {
		return "", err
	}
	s.effects.AfterTransition(ctx, res, models.SourceCheckout)
	return res.Order.Status, nil
}

func (s *CheckoutService) failOrder(ctx context.Context, order *models.Order, provider, ref string) {
	res, err := s.ledger.ApplyTransition(context.WithoutCancel(ctx), models.Transition{
		OrderID:       order.ID,
		Provider:      provider,
		ProviderRef:   ref,
		PaymentStatus: models.PaymentStatusFailed,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		Source:        models.SourceCheckout,
	})
	if err != nil {
		logrus.WithError(err).WithField("order_id", order.ID).Error("Failed to mark order as FAILED")
		return
	}
	s.effects.AfterTransition(ctx, res, models.SourceCheckout)
}

func (s *CheckoutService) checkAntiFraud(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	if utils.IsLoopback(ip) && s.config.Environment != "production" {
		return nil
	}

	since := s.now().Add(-s.config.AntiFraud.Window)
	count, err := s.ledger.CountRecentOrdersByIP(ctx, ip, since)
	if err != nil {
		return err
	}
	if count >= int64(s.config.AntiFraud.MaxOrders) {
		logrus.WithFields(logrus.Fields{"ip": ip, "count": count}).Warn("Anti-fraud check failed")
		return utils.RateLimited("Anti-fraud check failed for this IP")
	}
	return nil
}

func (s *CheckoutService) purchasableProduct(ctx context.Context, productID string) (*models.Product, error) {
	product, err := s.catalog.FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.Validation("Product not available")
		}
		return nil, err
	}
	if !product.Purchasable() {
		return nil, utils.Validation("Product not available")
	}
	return product, nil
}

// ValidatePromo prices a promo without creating anything. Unusable codes
// come back as valid=false with the undiscounted price.
func (s *CheckoutService) ValidatePromo(ctx context.Context, req PromoValidateRequest) (*PromoQuote, error) {
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}

	product, err := s.purchasableProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	base := utils.RoundMoney(product.Price * float64(qty))
	invalid := &PromoQuote{Valid: false, BasePrice: base, FinalPrice: base}

	promo, err := s.catalog.FindPromo(ctx, req.Code)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return invalid, nil
		}
		return nil, err
	}
	if promo.PromoRejection(req.Email, s.now()) != "" {
		return invalid, nil
	}

	discount, final := utils.ComputeDiscount(base, utils.DiscountType(promo.DiscountType), promo.DiscountValue)
	if final < s.config.Checkout.MinAmount {
		return invalid, nil
	}

	quote := &PromoQuote{
		Valid:          true,
		BasePrice:      base,
		DiscountAmount: discount,
		FinalPrice:     final,
		PromoCodeID:    promo.ID.String(),
	}
	if promo.PartnerID != nil {
		quote.PartnerID = promo.PartnerID.String()
	}
	return quote, nil
}

// PublicStatus is the storefront's view of an order. It is cached until the
// next committed transition.
func (s *CheckoutService) PublicStatus(ctx context.Context, orderID uuid.UUID) (*PublicOrderStatus, error) {
	var cached PublicOrderStatus
	if hit, err := s.cache.Get(ctx, orderID.String(), &cached); err != nil {
		logrus.WithError(err).Warn("Order status cache read failed")
	} else if hit {
		return &cached, nil
	}

	order, err := s.ledger.FindOrderWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	status := &PublicOrderStatus{
		OrderID:     order.ID.String(),
		Status:      string(order.Status),
		EmailMasked: utils.MaskEmail(order.Email),
		FinalAmount: order.TotalAmount,
		Currency:    order.Currency,
	}
	if len(order.Items) > 0 {
		status.PlanID = order.Items[0].ProductID.String()
	}

	if err := s.cache.Set(ctx, orderID.String(), status); err != nil {
		logrus.WithError(err).Warn("Order status cache write failed")
	}
	return status, nil
}

// Reconcile asks the provider about a pending order and feeds its answer
// through the webhook path. An unreachable provider leaves the order as is.
func (s *CheckoutService) Reconcile(ctx context.Context, orderID uuid.UUID) (*PublicOrderStatus, error) {
	order, err := s.ledger.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return s.PublicStatus(ctx, orderID)
	}

	logger := logrus.WithField("order_id", orderID)

	payment, err := s.ledger.LatestPayment(ctx, orderID)
	if err != nil || payment.ProviderRef == "" {
		return s.PublicStatus(ctx, orderID)
	}

	provider, err := s.registry.Get(payment.Provider)
	if err != nil {
		return s.PublicStatus(ctx, orderID)
	}

	info, err := provider.VerifyInvoice(ctx, payment.ProviderRef)
	if err != nil {
		logger.WithError(err).Debug("Reconcile: provider lookup failed")
		return s.PublicStatus(ctx, orderID)
	}
	if info.OrderID != order.ID.String() {
		logger.Warn("Reconcile: provider reports a different order")
		return s.PublicStatus(ctx, orderID)
	}

	ev := &WebhookEvent{
		PaymentRef: payment.ProviderRef,
		OrderID:    order.ID.String(),
		Status:     MapWebhookStatus(info.Status),
		Currency:   info.Currency,
		Raw: models.JSONB{
			"invoice_id": info.InvoiceID,
			"status":     info.Status,
			"source":     string(models.SourceReconcile),
		},
	}
	if info.HasAmount {
		amount := utils.RoundMoney(info.Amount)
		ev.Amount = &amount
	}

	if _, err := s.webhooks.Handle(ctx, ev, models.SourceReconcile); err != nil {
		logger.WithError(err).Warn("Reconcile: transition rejected")
	}
	return s.PublicStatus(ctx, orderID)
}

// Refund refunds the latest payment with its provider, then moves payment
// and order to REFUNDED. A declined refund changes nothing.
func (s *CheckoutService) Refund(ctx context.Context, orderID uuid.UUID, actor Actor) (*RefundResponse, error) {
	order, err := s.ledger.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payment, err := s.ledger.LatestPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch models.EvaluateTransition(order.Status, payment.Status, models.PaymentStatusRefunded) {
	case models.DecisionDuplicate:
		return nil, utils.Conflict("Order is already refunded")
	case models.DecisionIllegal:
		return nil, utils.Conflict("Order cannot be refunded from %s", order.Status)
	}

	provider, err := s.registry.Get(payment.Provider)
	if err != nil {
		return nil, err
	}

	ref := payment.ProviderRef
	if ref == "" {
		ref = payment.ID.String()
	}
	result, err := provider.RefundPayment(ctx, ref, order.TotalAmount)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, utils.Conflict("Refund failed")
	}

	paymentID := payment.ID
	res, err := s.ledger.ApplyTransition(ctx, models.Transition{
		OrderID:       order.ID,
		PaymentID:     &paymentID,
		Provider:      payment.Provider,
		PaymentStatus: models.PaymentStatusRefunded,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Source:        models.SourceRefund,
	})
	if err != nil {
		return nil, err
	}
	s.effects.AfterTransition(ctx, res, models.SourceRefund)

	s.audit.Record(ctx, actor, "order", order.ID.String(), "refund",
		map[string]interface{}{"status": order.Status},
		map[string]interface{}{"status": res.Order.Status, "refund_ref": result.ProviderRef})

	return &RefundResponse{OK: true, RefundRef: result.ProviderRef}, nil
}
