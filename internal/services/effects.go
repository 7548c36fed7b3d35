// internal/services/effects.go
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/cache"
	"github.com/javajoker/keyshop-backend/internal/events"
	"github.com/javajoker/keyshop-backend/internal/models"
)

// OrderEffects runs everything that follows a committed ledger transition.
// None of it can undo the transition: each failure is logged and dropped.
type OrderEffects struct {
	notifier  Notifier
	deliverer KeyDeliverer
	publisher events.Publisher
	cache     cache.StatusCache
}

func NewOrderEffects(notifier Notifier, deliverer KeyDeliverer, publisher events.Publisher, statusCache cache.StatusCache) *OrderEffects {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if statusCache == nil {
		statusCache = cache.NopStatusCache{}
	}
	return &OrderEffects{
		notifier:  notifier,
		deliverer: deliverer,
		publisher: publisher,
		cache:     statusCache,
	}
}

func (e *OrderEffects) AfterTransition(ctx context.Context, res *models.TransitionResult, source models.TransitionSource) {
	if res == nil || res.Duplicate {
		return
	}
	order := res.Order
	ctx = context.WithoutCancel(ctx)

	if err := e.cache.Invalidate(ctx, order.ID.String()); err != nil {
		logrus.WithError(err).WithField("order_id", order.ID).Warn("Failed to invalidate order status cache")
	}

	if res.StatusChanged() {
		e.publisher.Publish(eventFor(order.Status), order.ID.String(), events.OrderPayload{
			OrderID:        order.ID.String(),
			Status:         string(order.Status),
			PreviousStatus: string(res.PreviousStatus),
			Provider:       res.Payment.Provider,
			PaymentRef:     res.Payment.ProviderRef,
			Amount:         order.TotalAmount,
			Currency:       order.Currency,
			Source:         string(source),
		})
	}

	logger := logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"status":   order.Status,
		"source":   source,
	})

	switch {
	case res.BecamePaid():
		logger.Info("Order marked as PAID")
		e.runPaidEffects(ctx, order, source)
	case res.BecameRefunded():
		logger.Info("Order refunded, partner earnings reversed")
	case order.Status == models.OrderStatusFailed && res.StatusChanged():
		logger.Info("Order marked as FAILED")
	}
}

// runPaidEffects fires buyer email, operator message and key delivery
// independently and waits for all three.
func (e *OrderEffects) runPaidEffects(ctx context.Context, order *models.Order, source models.TransitionSource) {
	effects := map[string]func() error{
		"email": func() error {
			return e.notifier.NotifyOrderPaid(ctx, order)
		},
		"telegram": func() error {
			return e.notifier.NotifyOperator(ctx, fmt.Sprintf("Order paid (%s): %s, %s, %.2f %s",
				source, order.ID, order.Email, order.TotalAmount, order.Currency))
		},
		"delivery": func() error {
			_, err := e.deliverer.Deliver(ctx, order.ID)
			return err
		},
	}

	var wg sync.WaitGroup
	for name, run := range effects {
		wg.Add(1)
		go func(name string, run func() error) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("order_id", order.ID).Errorf("Post-paid %s panicked: %v", name, r)
				}
			}()
			if err := run(); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"order_id": order.ID,
					"effect":   name,
				}).Error("Post-paid side effect failed")
			}
		}(name, run)
	}
	wg.Wait()
}

func eventFor(status models.OrderStatus) string {
	switch status {
	case models.OrderStatusPaid:
		return events.EventOrderPaid
	case models.OrderStatusRefunded:
		return events.EventOrderRefunded
	case models.OrderStatusFailed:
		return events.EventOrderFailed
	}
	return "order." + string(status)
}
