// Package outbox drains the durable outbox written by rule transactions
// to the two outbound sinks: the trade.events publisher and the
// settlement gateway. Entries are marked done only after a
// broker/HTTP ack, giving at-least-once delivery of outbound effects
// independent of store mutation.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/postengine/internal/errs"
	"github.com/web3guy0/postengine/internal/publisher"
	"github.com/web3guy0/postengine/internal/store"
	"github.com/web3guy0/postengine/types"
)

// Publisher is the subset of publisher.Publisher the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, key string, envelope []byte) error
}

// GatewayClient is the subset of gateway.Client the dispatcher needs.
type GatewayClient interface {
	Send(ctx context.Context, instr types.SettlementInstruction) error
}

// Dispatcher polls the store for pending outbox entries and drains them.
type Dispatcher struct {
	store store.Engine
	publisher Publisher
	gateway GatewayClient
	pollEvery time.Duration
}

// New builds a Dispatcher.
func New(engine store.Engine, publisher Publisher, gateway GatewayClient, pollEvery time.Duration) *Dispatcher {
	return &Dispatcher{store: engine, publisher: publisher, gateway: gateway, pollEvery: pollEvery}
}

// Run polls and drains until ctx is cancelled. Call DrainOnce once at
// startup first before entering the poll loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DrainOnce(ctx); err != nil {
				log.Error().Err(err).Msg("outbox drain failed")
			}
		}
	}
}

// DrainOnce attempts to deliver every currently-pending outbox entry.
func (d *Dispatcher) DrainOnce(ctx context.Context) error {
	entries, err := d.store.PendingOutbox(0)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := d.deliver(ctx, e); err != nil {
			if errs.IsTerminal(err) {
				// A terminal gateway response will never succeed on
				// retry: dead-letter it for operator intervention and
				// mark the entry done so the dispatcher does not spin
				// on it forever.
				if dlErr := d.store.DeadLetterDirect("settlement", e.Key, err.Error()); dlErr != nil {
					log.Error().Err(dlErr).Str("id", e.ID).Str("key", e.Key).Msg("failed to record dead letter for terminal gateway error")
				} else {
					log.Error().Err(err).Str("id", e.ID).Str("key", e.Key).Msg("settlement rejected by gateway, dead-lettered")
				}
				_ = d.store.MarkOutboxDone(e.ID)
				continue
			}
			_ = d.store.BumpOutboxAttempts(e.ID)
			log.Warn().Err(err).Str("id", e.ID).Str("kind", string(e.Kind)).Msg("outbox entry delivery failed, will retry")
			continue
		}
		if err := d.store.MarkOutboxDone(e.ID); err != nil {
			log.Error().Err(err).Str("id", e.ID).Msg("failed to mark outbox entry done after successful delivery")
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, e store.OutboxEntry) error {
	switch e.Kind {
	case store.OutboxKindPublish:
		return d.publisher.Publish(ctx, e.Key, e.Payload)
	case store.OutboxKindGateway:
		var instr types.SettlementInstruction
		if err := json.Unmarshal(e.Payload, &instr); err != nil {
			return errs.Terminal(err)
		}
		if err := d.gateway.Send(ctx, instr); err != nil {
			return err
		}
		return d.enqueueSettlementSent(instr)
	default:
		return errs.Terminal(fmt.Errorf("unknown outbox entry kind %q", e.Kind))
	}
}

// enqueueSettlementSent publishes SettlementSent.v1 after a gateway POST
// has actually acknowledged the instruction. Generate-
// Settlement cannot enqueue this itself: it commits before the gateway
// call happens and has no way to know the call will succeed.
func (d *Dispatcher) enqueueSettlementSent(instr types.SettlementInstruction) error {
	payload := publisher.SettlementSentPayload{SettleID: instr.SettleID, AllocID: instr.AllocID}
	envelope, err := publisher.Encode(publisher.EventSettlementSent, payload)
	if err != nil {
		return err
	}
	if err := d.store.EnqueueOutboxDirect(store.OutboxKindPublish, "trade.events", instr.SettleID, envelope); err != nil {
		log.Error().Err(err).Str("settleId", instr.SettleID).Msg("failed to enqueue SettlementSent after gateway ack")
		return err
	}
	return nil
}
