// Package events publishes domain events about orders and keys. Publishing is
// fire-and-forget: a lost event never affects the ledger.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPaid     = "order.paid"
	EventOrderFailed   = "order.failed"
	EventOrderRefunded = "order.refunded"
	EventKeyClaimed    = "key.claimed"
	EventKeyReplaced   = "key.replaced"
)

const producerName = "keyshop-backend"

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderPayload struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"`
	PreviousStatus string  `json:"previous_status"`
	Provider       string  `json:"provider,omitempty"`
	PaymentRef     string  `json:"payment_ref,omitempty"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Source         string  `json:"source"`
}

// KeyPayload identifies the key by id only.
type KeyPayload struct {
	OrderID    string `json:"order_id"`
	KeyID      string `json:"key_id"`
	ProductKey string `json:"product_key"`
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(eventType, orderID string, payload interface{})
}

type NopPublisher struct{}

func (NopPublisher) Publish(string, string, interface{}) {}

// NewEnvelope wraps payload; the order id doubles as correlation and
// partition key so all events of one order stay ordered.
func NewEnvelope(eventType, orderID string, payload interface{}) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producerName,
		CorrelationID: orderID,
		Payload:       body,
	}, nil
}
