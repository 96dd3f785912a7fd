package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"marketplace-service/config"
	"marketplace-service/models"
	"marketplace-service/services"
)

var errMalformed = errors.New("malformed order event")

// PendingExpirer cancels orders that were never paid.
type PendingExpirer interface {
	ExpirePending(ctx context.Context, orderID string) (bool, error)
}

type OrderConsumer struct {
	orders  PendingExpirer
	timeout time.Duration
}

func NewOrderConsumer(orders PendingExpirer) *OrderConsumer {
	return &OrderConsumer{orders: orders, timeout: 10 * time.Second}
}

// Start consumes the order queue and the dead-letter queue until ctx is done
// or the channel closes.
func (c *OrderConsumer) Start(ctx context.Context, ch *amqp.Channel, cfg *config.Config) error {
	msgs, err := ch.Consume(cfg.OrderQueue, "marketplace-service", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register order consumer: %w", err)
	}

	dlqMsgs, err := ch.Consume(cfg.DeadLetterQueue, "marketplace-service-dlq", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register dead letter consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					log.Printf("Order queue channel closed")
					return
				}
				c.processOrderMessage(ctx, msg)
			case msg, ok := <-dlqMsgs:
				if !ok {
					log.Printf("Dead letter channel closed")
					return
				}
				processDeadLetterMessage(msg)
			}
		}
	}()
	return nil
}

func (c *OrderConsumer) processOrderMessage(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in message processing: %v", r)
			_ = msg.Nack(false, false)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.handle(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Printf("Failed to ack message: %v", ackErr)
		}
	case errors.Is(err, errMalformed):
		log.Printf("Rejecting message: %v", err)
		_ = msg.Nack(false, false)
	default:
		// retried once, then dead-lettered
		log.Printf("Failed to process order event: %v", err)
		_ = msg.Nack(false, !msg.Redelivered)
	}
}

func (c *OrderConsumer) handle(ctx context.Context, body []byte) error {
	var event models.OrderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if event.OrderID == "" || event.Type == "" {
		return fmt.Errorf("%w: missing order id or type", errMalformed)
	}

	log.Printf("Processing order event: ID=%s, Type=%s", event.OrderID, event.Type)

	switch event.Type {
	case models.EventPaymentCheck:
		return c.handlePaymentCheck(ctx, event.OrderID)
	case models.EventStockShortfall:
		log.Printf("ALERT: order %s was paid without enough stock, manual fulfilment review needed", event.OrderID)
	case models.EventCreated, models.EventConfirmed, models.EventStatusUpdated:
		log.Printf("Order %s is now %s", event.OrderID, event.Status)
	default:
		log.Printf("Unknown event type: %s", event.Type)
	}
	return nil
}

func (c *OrderConsumer) handlePaymentCheck(ctx context.Context, orderID string) error {
	cancelled, err := c.orders.ExpirePending(ctx, orderID)
	if errors.Is(err, services.ErrOrderNotFound) {
		log.Printf("Payment check for unknown order %s", orderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("expire order %s: %w", orderID, err)
	}
	if cancelled {
		log.Printf("Auto-cancelled order %s due to non-payment", orderID)
	}
	return nil
}

func processDeadLetterMessage(msg amqp.Delivery) {
	reason := "unknown"
	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if death, ok := deaths[0].(amqp.Table); ok {
			if r, ok := death["reason"].(string); ok {
				reason = r
			}
		}
	}
	log.Printf("Received dead letter (%s): %s", reason, msg.Body)
	if err := msg.Ack(false); err != nil {
		log.Printf("Failed to ack dead letter: %v", err)
	}
}
