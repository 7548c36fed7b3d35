package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher buffers messages in an inbox drained by one goroutine.
// A full inbox drops the event with a warning instead of blocking a request.
type KafkaPublisher struct {
	w           messageWriter
	ordersTopic string
	keysTopic   string

	inbox     chan kafka.Message
	closeOnce sync.Once
	closeCh   chan struct{}
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, cfg)
}

func newKafkaPublisher(w messageWriter, cfg config.KafkaConfig) *KafkaPublisher {
	buf := cfg.BufferSize
	if buf <= 0 {
		buf = 256
	}
	return &KafkaPublisher{
		w:           w,
		ordersTopic: cfg.OrdersTopic,
		keysTopic:   cfg.KeysTopic,
		inbox:       make(chan kafka.Message, buf),
		closeCh:     make(chan struct{}),
	}
}

// Start runs the writer loop until ctx is done or Close is called; pending
// messages are flushed before the writer closes.
func (p *KafkaPublisher) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				for m := range p.inbox {
					p.write(m)
				}
				p.closeWriter()
				return
			case m, ok := <-p.inbox:
				if !ok {
					p.closeWriter()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *KafkaPublisher) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"topic": m.Topic,
			"key":   string(m.Key),
		}).Warn("Failed to publish event")
	}
}

func (p *KafkaPublisher) closeWriter() {
	if err := p.w.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close kafka writer")
	}
}

func (p *KafkaPublisher) topicFor(eventType string) string {
	if strings.HasPrefix(eventType, "key.") {
		return p.keysTopic
	}
	return p.ordersTopic
}

func (p *KafkaPublisher) Publish(eventType, orderID string, payload interface{}) {
	env, err := NewEnvelope(eventType, orderID, payload)
	if err != nil {
		logrus.WithError(err).WithField("event_type", eventType).Error("Failed to encode event")
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		logrus.WithError(err).WithField("event_type", eventType).Error("Failed to encode event")
		return
	}

	msg := kafka.Message{
		Topic: p.topicFor(eventType),
		Key:   []byte(orderID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}

	defer func() {
		// Publish after Close lands on a closed channel.
		if recover() != nil {
			logrus.WithField("event_type", eventType).Warn("Event publisher closed, event dropped")
		}
	}()

	select {
	case p.inbox <- msg:
	default:
		logrus.WithFields(logrus.Fields{
			"event_type": eventType,
			"order_id":   orderID,
		}).Warn("Event buffer full, event dropped")
	}
}

// Close stops accepting events; the loop flushes what is buffered.
func (p *KafkaPublisher) Close() {
	p.closeOnce.Do(func() { close(p.inbox) })
}

func (p *KafkaPublisher) WaitClosed() { <-p.closeCh }
