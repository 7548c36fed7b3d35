package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/javajoker/keyshop-backend/internal/activation"
	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/payments"
)

// Provider is a scriptable payment provider.
type Provider struct {
	CodeValue    string
	CreateStatus payments.Status
	CreateErr    error
	RefundOK     bool
	RefundErr    error
	VerifyErr    error

	mu        sync.Mutex
	invoices  map[string]payments.InvoiceInfo
	created   []payments.CreateInput
	refunds   []string
	verifyHit int
}

func NewProvider(code string) *Provider {
	return &Provider{
		CodeValue:    code,
		CreateStatus: payments.StatusProcessing,
		RefundOK:     true,
		invoices:     make(map[string]payments.InvoiceInfo),
	}
}

func (p *Provider) Code() string { return p.CodeValue }

func (p *Provider) CreatePayment(ctx context.Context, in payments.CreateInput) (*payments.CreateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, in)
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	ref := fmt.Sprintf("%s_%d", p.CodeValue, len(p.created))
	p.invoices[ref] = payments.InvoiceInfo{
		InvoiceID: ref,
		OrderID:   in.OrderID,
		Status:    string(p.CreateStatus),
		Amount:    in.Amount,
		HasAmount: true,
		Currency:  strings.ToUpper(in.Currency),
	}
	return &payments.CreateResult{
		Provider:    p.CodeValue,
		PaymentID:   ref,
		CheckoutURL: "https://pay.example.com/" + ref,
		Status:      p.CreateStatus,
	}, nil
}

func (p *Provider) RefundPayment(ctx context.Context, paymentRef string, amount float64) (*payments.RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, paymentRef)
	if p.RefundErr != nil {
		return nil, p.RefundErr
	}
	return &payments.RefundResult{OK: p.RefundOK, ProviderRef: "refund_" + paymentRef}, nil
}

func (p *Provider) VerifyInvoice(ctx context.Context, paymentRef string) (*payments.InvoiceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyHit++
	if p.VerifyErr != nil {
		return nil, p.VerifyErr
	}
	info, ok := p.invoices[paymentRef]
	if !ok {
		return &payments.InvoiceInfo{InvoiceID: paymentRef, Status: "unknown"}, nil
	}
	return &info, nil
}

// SetInvoice overrides what the provider reports for ref.
func (p *Provider) SetInvoice(ref string, info payments.InvoiceInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info.InvoiceID = ref
	p.invoices[ref] = info
}

func (p *Provider) Created() []payments.CreateInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payments.CreateInput(nil), p.created...)
}

func (p *Provider) Refunds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.refunds...)
}

func (p *Provider) VerifyCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifyHit
}

// Submission is one recorded activation submit.
type Submission struct {
	Key        string
	Credential string
	DeviceID   string
}

// ActivationClient is a scriptable upstream activation API.
type ActivationClient struct {
	SubmitErr error
	PollErr   error
	Status    activation.TaskStatus

	mu      sync.Mutex
	submits []Submission
	polls   int
}

func NewActivationClient() *ActivationClient {
	return &ActivationClient{Status: activation.TaskStatus{Pending: true, Message: "queued"}}
}

func (c *ActivationClient) Submit(ctx context.Context, key, credential, deviceID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubmitErr != nil {
		return "", c.SubmitErr
	}
	c.submits = append(c.submits, Submission{Key: key, Credential: credential, DeviceID: deviceID})
	return fmt.Sprintf("task-%d", len(c.submits)), nil
}

func (c *ActivationClient) Poll(ctx context.Context, taskID string) (*activation.TaskStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.PollErr != nil {
		return nil, c.PollErr
	}
	st := c.Status
	st.TaskID = taskID
	return &st, nil
}

func (c *ActivationClient) SetStatus(st activation.TaskStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Status = st
}

func (c *ActivationClient) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Submission(nil), c.submits...)
}

func (c *ActivationClient) PollCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

// Notifier counts notifications.
type Notifier struct {
	Err error

	mu       sync.Mutex
	paid     []uuid.UUID
	operator []string
}

func (n *Notifier) NotifyOrderPaid(ctx context.Context, order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paid = append(n.paid, order.ID)
	return n.Err
}

func (n *Notifier) NotifyOperator(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.operator = append(n.operator, text)
	return n.Err
}

func (n *Notifier) PaidCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.paid)
}

func (n *Notifier) OperatorCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.operator)
}

// Event is one recorded domain event.
type Event struct {
	Type    string
	OrderID string
	Payload interface{}
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *Publisher) Publish(eventType, orderID string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Type: eventType, OrderID: orderID, Payload: payload})
}

func (p *Publisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
