// Package feed is the inbound channel adapter. It consumes
// fix.executions, dedupes by execId over a configurable horizon, decodes
// the wire message and hands it to the dispatcher (the Rule Runtime),
// surrendering the kafka offset only after the dispatcher's rule
// transaction durably commits.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/postengine/internal/errs"
)

// ExecutionMessage is the wire shape of a fill delivered on
// fix.executions. IsCorrection marks a bust/correction of a
// previously-ingested execId rather than a new fill: its Qty carries
// the corrected (zero or negative) quantity and it bypasses Ingest's
// positive-qty precondition so it can actually reach the store.
type ExecutionMessage struct {
	ExecID string `json:"execId"`
	OrderID string `json:"orderId"`
	InstrumentID string `json:"instrumentId"`
	Qty decimal.Decimal `json:"qty"`
	Price decimal.Decimal `json:"price"`
	TradeDate string `json:"tradeDate"`
	Venue string `json:"venue"`
	IsCorrection bool `json:"isCorrection"`
}

// Handler processes one deduplicated ExecutionMessage inside a rule
// transaction. It returns an error only for failures that must stall the
// partition (transient infra); validation/missing-reference failures are
// the rule's own job to dead-letter and return nil for.
type Handler func(ctx context.Context, msg ExecutionMessage) error

// Consumer wraps a kafka-go Reader configured for a single instrumentId
// partition, so cross-worker contention on Block updates never arises.
type Consumer struct {
	reader *kafka.Reader
	dedupe *DedupeSet
	handler Handler
}

// NewConsumer opens a kafka-go reader against brokers/topic/partition.
func NewConsumer(brokers []string, topic string, partition int, dedupeHorizon time.Duration, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic: topic,
		Partition: partition,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait: 100 * time.Millisecond,
	})

	return &Consumer{
		reader: reader,
		dedupe: NewDedupeSet(dedupeHorizon),
		handler: handler,
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run reads messages strictly sequentially until ctx is cancelled.
// The kafka offset for a message is only committed after handler returns
// nil, pairing offset advancement with the rule transaction's commit.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		kmsg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errs.Transient(fmt.Errorf("fetch message: %w", err))
		}

		var msg ExecutionMessage
		if err := json.Unmarshal(kmsg.Value, &msg); err != nil {
			log.Error().Err(err).Str("execId", string(kmsg.Key)).Msg("dropping undecodable execution message")
			// A malformed payload can never be retried into validity;
			// commit the offset so the partition is not stuck on it.
			if cerr := c.reader.CommitMessages(ctx, kmsg); cerr != nil {
				return errs.Transient(cerr)
			}
			continue
		}

		// A correction carries its own dedupe key: it reuses the fill's
		// execId by design, so keying it off msg.ExecID alone would make
		// it look like a duplicate delivery of the original fill and
		// drop it silently instead of applying the correction.
		dedupeKey := msg.ExecID
		if msg.IsCorrection {
			dedupeKey = msg.ExecID + ":correction"
		}

		if c.dedupe.SeenAndMark(dedupeKey, parseTradeDate(msg.TradeDate)) {
			log.Debug().Str("execId", msg.ExecID).Msg("duplicate delivery, acknowledging without effect")
			if err := c.reader.CommitMessages(ctx, kmsg); err != nil {
				return errs.Transient(err)
			}
			continue
		}

		if err := c.handler(ctx, msg); err != nil {
			// Do not commit: a crash or transient failure here replays
			// the message on restart.
			c.dedupe.Unmark(dedupeKey)
			return err
		}

		if err := c.reader.CommitMessages(ctx, kmsg); err != nil {
			return errs.Transient(err)
		}
	}
}

func parseTradeDate(s string) time.Time {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Now()
	}
	return t
}
