// Package publisher is the outbound publisher for trade.events.
// Callers supply a deterministic event id as the message key, so a
// replayed outbox entry produces a message with the same key and
// payload. The publisher keeps no record of what it has sent: a
// replayed entry is written to the topic again, not suppressed.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// EventType names one of the four trade.events payload shapes.
type EventType string

const (
	EventExecutionReceived EventType = "ExecutionReceived.v1"
	EventBlockReady        EventType = "BlockReady.v1"
	EventAllocationCreated EventType = "AllocationCreated.v1"
	EventSettlementSent    EventType = "SettlementSent.v1"
)

// Envelope is the trade.events wire format: {eventType, schemaVersion, payload}.
type Envelope struct {
	EventType     EventType       `json:"eventType"`
	SchemaVersion string          `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
}

// ExecutionReceivedPayload is the ExecutionReceived.v1 payload.
type ExecutionReceivedPayload struct {
	ExecID  string `json:"execId"`
	OrderID string `json:"orderId"`
	Qty     string `json:"qty"`
	Price   string `json:"price"`
	Venue   string `json:"venue"`
}

// BlockReadyPayload is the BlockReady.v1 payload.
type BlockReadyPayload struct {
	BlockID  string `json:"blockId"`
	GrossQty string `json:"grossQty"`
	AvgPrice string `json:"avgPrice"`
}

// AllocationCreatedPayload is the AllocationCreated.v1 payload.
type AllocationCreatedPayload struct {
	AllocID   string `json:"allocId"`
	BlockID   string `json:"blockId"`
	AccountID string `json:"accountId"`
	AllocQty  string `json:"allocQty"`
}

// SettlementSentPayload is the SettlementSent.v1 payload.
type SettlementSentPayload struct {
	SettleID string `json:"settleId"`
	AllocID  string `json:"allocId"`
}

// Encode builds the JSON envelope bytes for an outbox entry.
func Encode(eventType EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{EventType: eventType, SchemaVersion: "v1", Payload: raw})
}

// Publisher wraps a kafka-go Writer targeting trade.events.
type Publisher struct {
	writer *kafka.Writer
}

// New opens a Publisher tuned for low-latency single-event publishes
// rather than high-throughput batching.
func New(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // partition by key, preserving per-instrument ordering
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Close releases the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Publish sends an already-encoded envelope keyed by key (the
// deterministic event id — execId/blockId/allocId/settleId). Each call
// writes one message; publishing the same key twice writes two
// messages with that key.
func (p *Publisher) Publish(ctx context.Context, key string, envelope []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: envelope,
		Time:  time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("publish to trade.events failed")
		return err
	}
	return nil
}
