package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"marketplace-service/config"
	"marketplace-service/models"
)

// ErrDelayUnavailable is returned when the broker has no delayed-message
// plugin and the delay exchange could not be declared.
var ErrDelayUnavailable = errors.New("delayed exchange not available")

type RabbitMQ struct {
	Conn *amqp.Connection
	Cfg  *config.Config

	mu      sync.Mutex
	channel *amqp.Channel
	delayOK bool
}

func NewRabbitMQ(cfg *config.Config) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &RabbitMQ{
		Conn:    conn,
		Cfg:     cfg,
		channel: ch,
	}, nil
}

// Channel returns the channel shared by publishers and consumers.
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

func deadLetterExchange(cfg *config.Config) string {
	return cfg.DeadLetterQueue + "_exchange"
}

// SetupQueues declares the order exchange and queue, the dead-letter pair and,
// when the broker supports it, the delay exchange feeding the order queue.
func (r *RabbitMQ) SetupQueues() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.channel
	cfg := r.Cfg

	if err := ch.ExchangeDeclare(deadLetterExchange(cfg), "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.DeadLetterQueue, true, false, false, false,
		amqp.Table{"x-queue-type": "classic"}); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}
	if err := ch.QueueBind(cfg.DeadLetterQueue, cfg.DeadLetterQueue, deadLetterExchange(cfg), false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.OrderExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare order exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.OrderQueue, true, false, false, false, amqp.Table{
		"x-max-priority":            cfg.MaxPriority,
		"x-dead-letter-exchange":    deadLetterExchange(cfg),
		"x-dead-letter-routing-key": cfg.DeadLetterQueue,
	}); err != nil {
		return fmt.Errorf("declare order queue: %w", err)
	}
	if err := ch.QueueBind(cfg.OrderQueue, "", cfg.OrderExchange, false, nil); err != nil {
		return fmt.Errorf("bind order queue: %w", err)
	}

	// A failed declare closes the channel, so reopen it before carrying on.
	err := ch.ExchangeDeclare(cfg.DelayExchange, "x-delayed-message", true, false, false, false,
		amqp.Table{"x-delayed-type": "direct"})
	if err != nil {
		log.Printf("Warning: delayed exchange not supported, payment checks disabled: %v", err)
		if ch.IsClosed() {
			reopened, openErr := r.Conn.Channel()
			if openErr != nil {
				return fmt.Errorf("reopen channel: %w", openErr)
			}
			r.channel = reopened
		}
		return nil
	}
	if err := ch.QueueBind(cfg.OrderQueue, "", cfg.DelayExchange, false, nil); err != nil {
		return fmt.Errorf("bind delay exchange: %w", err)
	}
	r.delayOK = true
	return nil
}

// PublishOrderEvent implements services.EventPublisher.
func (r *RabbitMQ) PublishOrderEvent(ctx context.Context, event models.OrderEvent, priority uint8) error {
	msg, err := newEventMessage(event, priority, 0)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel.PublishWithContext(ctx, r.Cfg.OrderExchange, "", false, false, msg)
}

// PublishDelayedEvent routes the event through the delay exchange so it lands
// on the order queue after delay.
func (r *RabbitMQ) PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error {
	msg, err := newEventMessage(event, 5, delay)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.delayOK {
		return ErrDelayUnavailable
	}
	return r.channel.PublishWithContext(ctx, r.Cfg.DelayExchange, "", false, false, msg)
}

func newEventMessage(event models.OrderEvent, priority uint8, delay time.Duration) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode order event: %w", err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Type:         event.Type,
		MessageId:    event.OrderID + ":" + event.Type,
		Body:         body,
		Priority:     priority,
	}
	if delay > 0 {
		msg.Headers = amqp.Table{"x-delay": delay.Milliseconds()}
	}
	return msg, nil
}

func (r *RabbitMQ) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			log.Printf("Failed to close RabbitMQ channel: %v", err)
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil {
			log.Printf("Failed to close RabbitMQ connection: %v", err)
		}
	}
}
