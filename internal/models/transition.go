// internal/models/transition.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type TransitionSource string

const (
	SourceWebhook   TransitionSource = "webhook"
	SourceCheckout  TransitionSource = "checkout"
	SourceManual    TransitionSource = "manual_confirm"
	SourceRefund    TransitionSource = "refund"
	SourceReconcile TransitionSource = "reconcile"
)

// Transition asks the ledger to move one payment, and with it the order, to a
// new status. A nil PaymentID records a new payment (manual confirmation).
type Transition struct {
	OrderID       uuid.UUID
	PaymentID     *uuid.UUID
	Provider      string
	ProviderRef   string
	PaymentStatus PaymentStatus
	Amount        float64
	Currency      string
	RawPayload    JSONB
	Source        TransitionSource
	At            time.Time
}

type TransitionResult struct {
	Order          *Order
	Payment        *Payment
	PreviousStatus OrderStatus
	Duplicate      bool
}

func (r *TransitionResult) BecamePaid() bool {
	return !r.Duplicate && r.PreviousStatus != OrderStatusPaid && r.Order.Status == OrderStatusPaid
}

func (r *TransitionResult) BecameRefunded() bool {
	return !r.Duplicate && r.PreviousStatus != OrderStatusRefunded && r.Order.Status == OrderStatusRefunded
}

func (r *TransitionResult) StatusChanged() bool {
	return !r.Duplicate && r.PreviousStatus != r.Order.Status
}

type TransitionDecision int

const (
	DecisionApply TransitionDecision = iota
	DecisionDuplicate
	DecisionIllegal
)

// EvaluateTransition applies the replay and state-machine rules. It is run
// once before any provider call and again under the order row lock.
func EvaluateTransition(order OrderStatus, payment PaymentStatus, next PaymentStatus) TransitionDecision {
	if order == OrderStatusRefunded {
		return DecisionDuplicate
	}
	if order == OrderStatusPaid && next != PaymentStatusRefunded {
		return DecisionDuplicate
	}
	if payment == PaymentStatusSuccess && next == PaymentStatusSuccess {
		return DecisionDuplicate
	}
	if !order.CanTransitionTo(OrderStatusFor(next, order)) {
		return DecisionIllegal
	}
	return DecisionApply
}
