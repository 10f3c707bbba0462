// Package amqp publishes stock events to a RabbitMQ topic exchange.
//
// Routing keys:
//
//	stock.<entry type>.<item id>   one per stock log entry (stock.allocated.<id>)
//	stock.low_stock.<item id>      availability crossed the reorder point
//
// Consumers bind with patterns such as "stock.*.#" or "stock.low_stock.#".
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/inventory"
)

const (
	ExchangeName = "stock_events"
	ExchangeType = "topic"
)

// Message is the JSON body of every published event.
type Message struct {
	Type             string    `json:"type"`
	ItemID           string    `json:"item_id"`
	SKU              string    `json:"sku,omitempty"`
	Quantity         int64     `json:"quantity"`
	ReservedQuantity int64     `json:"reserved_quantity"`
	Available        int64     `json:"available"`
	MinimumStock     int64     `json:"minimum_stock"`
	OccurredAt       time.Time `json:"occurred_at"`

	// Set for stock_moved only.
	Entry *EntryMessage `json:"entry,omitempty"`
}

type EntryMessage struct {
	ID             string `json:"id"`
	Seq            int64  `json:"seq"`
	Type           string `json:"entry_type"`
	QuantityChange int64  `json:"quantity_change"`
	CreatedBy      string `json:"created_by,omitempty"`
	Reference      string `json:"reference_document,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// NewMessage flattens an engine event into its wire form.
func NewMessage(ev inventory.Event) Message {
	msg := Message{
		Type:             string(ev.Type),
		ItemID:           ev.Item.ID,
		SKU:              ev.Item.SKU,
		Quantity:         ev.Item.Quantity,
		ReservedQuantity: ev.Item.ReservedQuantity,
		Available:        ev.Item.Available(),
		MinimumStock:     ev.Item.MinimumStock,
		OccurredAt:       ev.OccurredAt.UTC(),
	}
	if ev.Entry != nil {
		msg.Entry = &EntryMessage{
			ID:             ev.Entry.ID,
			Seq:            ev.Entry.Seq,
			Type:           string(ev.Entry.Type),
			QuantityChange: ev.Entry.QuantityChange,
			CreatedBy:      ev.Entry.CreatedBy,
			Reference:      ev.Entry.Reference,
			IdempotencyKey: ev.Entry.IdempotencyKey,
		}
	}
	return msg
}

// RoutingKey returns the topic key for ev.
func RoutingKey(ev inventory.Event) string {
	if ev.Type == inventory.EventStockMoved && ev.Entry != nil {
		return fmt.Sprintf("stock.%s.%s", ev.Entry.Type, ev.Item.ID)
	}
	return fmt.Sprintf("stock.%s.%s", ev.Type, ev.Item.ID)
}

// =============================================================================
// CONNECTION
// =============================================================================

// Dial connects, opens a channel and declares the exchange.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}
	return conn, ch, nil
}

// =============================================================================
// PUBLISHER
// =============================================================================

// Publisher implements inventory.Publisher on one AMQP channel.
type Publisher struct {
	mu     sync.Mutex
	ch     *amqp.Channel
	logger *zap.Logger
}

var _ inventory.Publisher = (*Publisher)(nil)

func NewPublisher(ch *amqp.Channel, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{ch: ch, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, ev inventory.Event) error {
	body, err := json.Marshal(NewMessage(ev))
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}
	routingKey := RoutingKey(ev)

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		ExchangeName, // exchange
		routingKey,   // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Type:         string(ev.Type),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	p.logger.Debug("stock event published", zap.String("routing_key", routingKey))
	return nil
}
