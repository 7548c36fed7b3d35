// Package testutil holds in-memory doubles for the stores and collaborators
// the services depend on.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// Store is an in-memory ledger, key pool, activation store, catalogue and
// audit sink in one. A single mutex stands in for the database row locks.
type Store struct {
	mu sync.Mutex

	products  map[uuid.UUID]models.Product
	promos    map[string]models.PromoCode
	partners  map[uuid.UUID]models.Partner
	orders    map[uuid.UUID]models.Order
	items     map[uuid.UUID][]models.OrderItem
	payments  []models.Payment
	earnings  map[uuid.UUID]models.PartnerEarning
	keys      []models.LicenseKey
	keyAudits []models.LicenseKeyAuditLog
	records   map[uuid.UUID]models.ActivationRecord
	audits    []models.AuditLog
	clock     time.Time
}

func NewStore() *Store {
	return &Store{
		products: make(map[uuid.UUID]models.Product),
		promos:   make(map[string]models.PromoCode),
		partners: make(map[uuid.UUID]models.Partner),
		orders:   make(map[uuid.UUID]models.Order),
		items:    make(map[uuid.UUID][]models.OrderItem),
		earnings: make(map[uuid.UUID]models.PartnerEarning),
		records:  make(map[uuid.UUID]models.ActivationRecord),
	}
}

// now returns a strictly increasing timestamp so "latest" ordering is stable.
func (s *Store) now() time.Time {
	t := time.Now()
	if !t.After(s.clock) {
		t = s.clock.Add(time.Microsecond)
	}
	s.clock = t
	return t
}

// Seeding helpers

func (s *Store) AddProduct(slug string, price float64, currency string) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.Product{Slug: slug, Title: slug, Price: price, Currency: currency, IsActive: true}
	p.ID = uuid.New()
	s.products[p.ID] = p
	return p
}

func (s *Store) AddPartner(name string, payoutPercent float64) models.Partner {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.Partner{Name: name, PayoutPercent: payoutPercent, IsActive: true}
	p.ID = uuid.New()
	s.partners[p.ID] = p
	return p
}

func (s *Store) AddPromo(promo models.PromoCode) models.PromoCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if promo.ID == uuid.Nil {
		promo.ID = uuid.New()
	}
	s.promos[strings.ToUpper(promo.Code)] = promo
	return promo
}

// AddOrder seeds an order with one item, bypassing checkout.
func (s *Store) AddOrder(email, productKey string, total float64, currency string, status models.OrderStatus) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := models.Order{
		Email:          email,
		Status:         status,
		SubtotalAmount: total,
		TotalAmount:    total,
		Currency:       currency,
	}
	o.ID = uuid.New()
	o.CreatedAt = s.now()
	s.orders[o.ID] = o
	s.items[o.ID] = []models.OrderItem{{OrderID: o.ID, ProductKey: productKey, Title: productKey, Price: total, Quantity: 1}}
	return o
}

func (s *Store) AddPayment(p models.Payment) models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = s.now()
	s.payments = append(s.payments, p)
	return p
}

func (s *Store) AddKeys(productKey string, codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, code := range codes {
		k := models.LicenseKey{
			ProductKey: utils.CanonicalProductKey(productKey),
			KeyValue:   utils.NormalizeKeyCode(code),
			Status:     models.KeyStatusAvailable,
		}
		k.ID = uuid.New()
		k.CreatedAt = s.now()
		s.keys = append(s.keys, k)
	}
}

// Backdate moves the activation record's last update into the past.
func (s *Store) Backdate(orderID uuid.UUID, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[orderID]; ok {
		r.UpdatedAt = r.UpdatedAt.Add(-d)
		s.records[orderID] = r
	}
}

// Inspection helpers

func (s *Store) Order(id uuid.UUID) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *Store) PaymentsFor(orderID uuid.UUID) []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) Earning(orderID uuid.UUID) (models.PartnerEarning, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.earnings[orderID]
	return e, ok
}

func (s *Store) EarningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.earnings)
}

func (s *Store) Promo(code string) models.PromoCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promos[strings.ToUpper(code)]
}

func (s *Store) KeysFor(orderID uuid.UUID, status models.KeyStatus) []models.LicenseKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LicenseKey
	for _, k := range s.keys {
		if k.OrderID != nil && *k.OrderID == orderID && k.Status == status {
			out = append(out, k)
		}
	}
	return out
}

func (s *Store) CountKeys(productKey string, status models.KeyStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.keys {
		if k.ProductKey == utils.CanonicalProductKey(productKey) && k.Status == status {
			n++
		}
	}
	return n
}

func (s *Store) Record(orderID uuid.UUID) (models.ActivationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[orderID]
	return r, ok
}

func (s *Store) KeyAudits(action string) []models.LicenseKeyAuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LicenseKeyAuditLog
	for _, a := range s.keyAudits {
		if a.Action == action {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) AuditLogs() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditLog(nil), s.audits...)
}

// Catalog

func (s *Store) FindProduct(ctx context.Context, idOrSlug string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.ID.String() == idOrSlug || p.Slug == idOrSlug {
			cp := p
			return &cp, nil
		}
	}
	return nil, utils.NotFound("Product not found")
}

func (s *Store) FindPromo(ctx context.Context, code string) (*models.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, utils.NotFound("Promo code not found")
	}
	return &p, nil
}

// AuditStore

func (s *Store) Create(ctx context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = s.now()
	s.audits = append(s.audits, *entry)
	return nil
}

// Ledger

func (s *Store) CreatePendingOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.ID = uuid.New()
	order.Status = models.OrderStatusPending
	order.CreatedAt = s.now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		order.Items[i].ID = uuid.New()
		order.Items[i].OrderID = order.ID
	}
	stored := *order
	s.items[order.ID] = append([]models.OrderItem(nil), order.Items...)
	stored.Items = nil
	s.orders[order.ID] = stored
	return nil
}

func (s *Store) AttachPayment(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.ProviderRef != "" && s.refOwnerLocked(payment.ProviderRef, uuid.Nil) {
		return utils.Conflict("Duplicate payment reference")
	}
	payment.ID = uuid.New()
	payment.CreatedAt = s.now()
	s.payments = append(s.payments, *payment)
	if payment.ProviderRef != "" {
		o := s.orders[payment.OrderID]
		o.PaymentRef = payment.ProviderRef
		s.orders[payment.OrderID] = o
	}
	return nil
}

func (s *Store) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, utils.NotFound("Order not found")
	}
	return &o, nil
}

func (s *Store) FindOrderWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, utils.NotFound("Order not found")
	}
	o.Items = append([]models.OrderItem(nil), s.items[id]...)
	return &o, nil
}

func (s *Store) OrderProductKey(ctx context.Context, orderID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := models.Order{Items: s.items[orderID]}
	if key := order.ProductKey(); key != "" {
		return key, nil
	}
	return "", utils.NotFound("Order item not found")
}

func (s *Store) FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, utils.NotFound("Payment not found")
}

func (s *Store) FindPaymentByRef(ctx context.Context, ref string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if ref != "" && p.ProviderRef == ref {
			cp := p
			return &cp, nil
		}
	}
	return nil, utils.NotFound("Payment not found")
}

func (s *Store) LatestPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Payment
	for i := range s.payments {
		p := s.payments[i]
		if p.OrderID == orderID && (latest == nil || p.CreatedAt.After(latest.CreatedAt)) {
			latest = &p
		}
	}
	if latest == nil {
		return nil, utils.NotFound("Payment not found")
	}
	return latest, nil
}

func (s *Store) RefOwnedByOther(ctx context.Context, ref string, paymentID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ref != "" && s.refOwnerLocked(ref, paymentID), nil
}

func (s *Store) refOwnerLocked(ref string, except uuid.UUID) bool {
	for _, p := range s.payments {
		if p.ProviderRef == ref && p.ID != except {
			return true
		}
	}
	return false
}

func (s *Store) CountRecentOrdersByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.orders {
		if o.IP == ip && !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ApplyTransition(ctx context.Context, t models.Transition) (*models.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[t.OrderID]
	if !ok {
		return nil, utils.NotFound("Order not found")
	}

	idx := -1
	var payment models.Payment
	if t.PaymentID != nil {
		for i, p := range s.payments {
			if p.ID == *t.PaymentID && p.OrderID == order.ID {
				idx, payment = i, p
			}
		}
		if idx < 0 {
			return nil, utils.NotFound("Payment not found")
		}
	}

	res := &models.TransitionResult{PreviousStatus: order.Status}
	switch models.EvaluateTransition(order.Status, payment.Status, t.PaymentStatus) {
	case models.DecisionDuplicate:
		res.Duplicate = true
		res.Order, res.Payment = &order, &payment
		return res, nil
	case models.DecisionIllegal:
		return nil, utils.Conflict("Order cannot move from %s with a %s payment", order.Status, t.PaymentStatus)
	}

	now := s.now()
	if idx < 0 {
		if t.ProviderRef != "" && s.refOwnerLocked(t.ProviderRef, uuid.Nil) {
			return nil, utils.Conflict("Duplicate payment reference")
		}
		payment = models.Payment{
			OrderID:     order.ID,
			Provider:    t.Provider,
			ProviderRef: t.ProviderRef,
			Amount:      t.Amount,
			Currency:    t.Currency,
		}
		payment.ID = uuid.New()
		payment.CreatedAt = now
		s.payments = append(s.payments, payment)
		idx = len(s.payments) - 1
	} else if t.ProviderRef != "" && payment.ProviderRef == "" {
		payment.ProviderRef = t.ProviderRef
	}
	payment.Status = t.PaymentStatus
	payment.ProcessedAt = &now
	if t.RawPayload != nil {
		payment.RawPayload = t.RawPayload
	}
	s.payments[idx] = payment

	next := models.OrderStatusFor(t.PaymentStatus, order.Status)
	order.Status = next
	order.UpdatedAt = now
	if payment.ProviderRef != "" {
		order.PaymentRef = payment.ProviderRef
	}
	s.orders[order.ID] = order

	if res.PreviousStatus != models.OrderStatusPaid && next == models.OrderStatusPaid {
		s.creditLocked(order)
	}
	if res.PreviousStatus != models.OrderStatusRefunded && next == models.OrderStatusRefunded {
		if e, ok := s.earnings[order.ID]; ok {
			e.Status = models.EarningStatusReversed
			s.earnings[order.ID] = e
		}
	}

	res.Order, res.Payment = &order, &payment
	return res, nil
}

func (s *Store) creditLocked(order models.Order) {
	if order.PromoCodeID != nil {
		for code, p := range s.promos {
			if p.ID == *order.PromoCodeID {
				p.UsedCount++
				s.promos[code] = p
			}
		}
	}
	if order.PartnerID == nil {
		return
	}
	partner, ok := s.partners[*order.PartnerID]
	if !ok {
		return
	}
	e := s.earnings[order.ID]
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.OrderID = order.ID
	e.PartnerID = partner.ID
	e.CommissionRate = partner.PayoutPercent
	e.CommissionAmount = utils.RoundMoney(order.TotalAmount * partner.PayoutPercent / 100)
	e.Status = models.EarningStatusPending
	s.earnings[order.ID] = e
}

// Key pool

func (s *Store) ImportKeys(ctx context.Context, productKey string, codes []string, actorID string) (*models.ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := utils.CanonicalProductKey(productKey)
	if pool == "" {
		return nil, utils.Validation("product key is required")
	}
	result := &models.ImportResult{ProductKey: pool, Received: len(codes), ConflictsByProductKey: map[string]int{}}

	owner := make(map[string]string, len(s.keys))
	for _, k := range s.keys {
		owner[k.KeyValue] = k.ProductKey
	}
	for _, code := range utils.NormalizeKeyCodes(codes) {
		pk, taken := owner[code]
		switch {
		case !taken:
			k := models.LicenseKey{ProductKey: pool, KeyValue: code, Status: models.KeyStatusAvailable}
			k.ID = uuid.New()
			k.CreatedAt = s.now()
			s.keys = append(s.keys, k)
			owner[code] = pool
			result.Inserted++
		case pk == pool:
			result.Skipped++
		default:
			result.Conflicts++
			result.ConflictsByProductKey[pk]++
		}
	}
	s.keyAudits = append(s.keyAudits, models.LicenseKeyAuditLog{ProductKey: pool, Action: models.KeyAuditImport, ActorID: actorID, Count: result.Inserted})
	if len(result.ConflictsByProductKey) == 0 {
		result.ConflictsByProductKey = nil
	}
	return result, nil
}

func (s *Store) Claim(ctx context.Context, req models.ClaimRequest) (*models.LicenseKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimLocked(req, models.KeyAuditAssign)
}

func (s *Store) claimLocked(req models.ClaimRequest, action string) (*models.LicenseKey, error) {
	pool := utils.CanonicalProductKey(req.ProductKey)
	for i, k := range s.keys {
		if k.ProductKey != pool || k.Status != models.KeyStatusAvailable {
			continue
		}
		if req.ExcludeKeyValue != "" && k.KeyValue == req.ExcludeKeyValue {
			continue
		}
		now := s.now()
		orderID := req.OrderID
		k.Status = models.KeyStatusUsed
		k.OrderID = &orderID
		k.Email = req.Email
		k.UsedAt = &now
		s.keys[i] = k
		s.keyAudits = append(s.keyAudits, models.LicenseKeyAuditLog{
			KeyID: &s.keys[i].ID, ProductKey: pool, Action: action, ActorID: req.ActorID, OrderID: &orderID, Count: 1,
		})
		cp := k
		return &cp, nil
	}
	return nil, utils.ErrPoolExhausted
}

func (s *Store) keyIndexLocked(id uuid.UUID) int {
	for i, k := range s.keys {
		if k.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) ReturnToAvailable(ctx context.Context, keyID uuid.UUID, actorID string) (*models.LicenseKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.keyIndexLocked(keyID)
	if i < 0 {
		return nil, utils.NotFound("key not found")
	}
	k := s.keys[i]
	k.Status, k.OrderID, k.Email, k.UsedAt, k.RevokedAt, k.RevokeReason = models.KeyStatusAvailable, nil, "", nil, nil, ""
	s.keys[i] = k
	s.keyAudits = append(s.keyAudits, models.LicenseKeyAuditLog{KeyID: &keyID, ProductKey: k.ProductKey, Action: models.KeyAuditReturn, ActorID: actorID, Count: 1})
	return &k, nil
}

func (s *Store) Revoke(ctx context.Context, keyID uuid.UUID, actorID, reason string) (*models.LicenseKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.keyIndexLocked(keyID)
	if i < 0 {
		return nil, utils.NotFound("key not found")
	}
	k := s.keys[i]
	if k.Status != models.KeyStatusRevoked {
		now := s.now()
		k.Status, k.RevokedAt, k.RevokeReason = models.KeyStatusRevoked, &now, reason
		s.keys[i] = k
		s.keyAudits = append(s.keyAudits, models.LicenseKeyAuditLog{KeyID: &keyID, ProductKey: k.ProductKey, Action: models.KeyAuditRevoke, ActorID: actorID, Count: 1})
	}
	return &k, nil
}

func (s *Store) DeleteIfAvailable(ctx context.Context, keyID uuid.UUID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.keyIndexLocked(keyID)
	if i < 0 {
		return utils.NotFound("key not found")
	}
	k := s.keys[i]
	if k.Status != models.KeyStatusAvailable {
		return utils.Conflict("key is not available").WithDetails(map[string]string{"status": string(k.Status)})
	}
	s.keys = append(s.keys[:i], s.keys[i+1:]...)
	s.keyAudits = append(s.keyAudits, models.LicenseKeyAuditLog{KeyID: &keyID, ProductKey: k.ProductKey, Action: models.KeyAuditDelete, ActorID: actorID, Count: 1})
	return nil
}

func (s *Store) Stats(ctx context.Context) ([]models.KeyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[[2]string]int64{}
	for _, k := range s.keys {
		counts[[2]string{k.ProductKey, string(k.Status)}]++
	}
	out := make([]models.KeyStats, 0, len(counts))
	for key, n := range counts {
		out = append(out, models.KeyStats{ProductKey: key[0], Status: models.KeyStatus(key[1]), Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductKey != out[j].ProductKey {
			return out[i].ProductKey < out[j].ProductKey
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

func (s *Store) ListByProduct(ctx context.Context, filter models.KeyListFilter) ([]models.LicenseKey, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LicenseKey
	for _, k := range s.keys {
		if filter.ProductKey != "" && k.ProductKey != utils.CanonicalProductKey(filter.ProductKey) {
			continue
		}
		if filter.Status != "" && k.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(k.KeyValue+" "+k.Email), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, k)
	}
	return out, int64(len(out)), nil
}

// Activation records

func (s *Store) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.ActivationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[orderID]
	if !ok {
		return nil, utils.NotFound("Activation record not found")
	}
	return &r, nil
}

func (s *Store) Issue(ctx context.Context, req models.ClaimRequest, deviceID string) (*models.ActivationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[req.OrderID]; ok {
		return &r, utils.ErrAlreadyExists
	}
	key, err := s.claimLocked(req, models.KeyAuditAssign)
	if err != nil {
		return nil, err
	}
	now := s.now()
	r := models.ActivationRecord{
		OrderID:      req.OrderID,
		Email:        req.Email,
		ProductKey:   key.ProductKey,
		KeyID:        key.ID,
		KeyValue:     key.KeyValue,
		Status:       models.ActivationStatusIssued,
		Verification: models.VerificationUnknown,
		DeviceID:     deviceID,
	}
	r.ID = uuid.New()
	r.CreatedAt, r.UpdatedAt = now, now
	s.records[req.OrderID] = r
	return &r, nil
}

func (s *Store) Reissue(ctx context.Context, orderID uuid.UUID, actorID string, guard func(*models.ActivationRecord) error) (*models.ActivationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[orderID]
	if !ok {
		return nil, utils.NotFound("Activation record not found")
	}
	if guard != nil {
		if err := guard(&r); err != nil {
			return nil, err
		}
	}

	old := s.keyIndexLocked(r.KeyID)
	key, err := s.claimLocked(models.ClaimRequest{
		ProductKey:      r.ProductKey,
		OrderID:         orderID,
		Email:           r.Email,
		ExcludeKeyValue: r.KeyValue,
		ActorID:         actorID,
	}, models.KeyAuditReplace)
	if err != nil {
		return nil, err
	}
	if old >= 0 {
		now := s.now()
		k := s.keys[old]
		k.Status, k.RevokedAt, k.RevokeReason = models.KeyStatusRevoked, &now, "replaced"
		s.keys[old] = k
	}

	r.KeyID, r.KeyValue = key.ID, key.KeyValue
	r.TaskID, r.LastMessage, r.LastCheckedAt = "", "", nil
	r.Status, r.Verification = models.ActivationStatusIssued, models.VerificationUnknown
	r.UpdatedAt = s.now()
	s.records[orderID] = r
	return &r, nil
}

func (s *Store) Update(ctx context.Context, orderID uuid.UUID, fn func(*models.ActivationRecord) error) (*models.ActivationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[orderID]
	if !ok {
		return nil, utils.NotFound("Activation record not found")
	}
	if err := fn(&r); err != nil {
		return nil, err
	}
	r.UpdatedAt = s.now()
	s.records[orderID] = r
	return &r, nil
}
