package rules

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/postengine/internal/errs"
	"github.com/web3guy0/postengine/internal/publisher"
	"github.com/web3guy0/postengine/internal/store"
	"github.com/web3guy0/postengine/types"
)

// IngestResult tells the caller whether the message was rejected, in
// which case BuildBlockTrades must not run within the same transaction.
type IngestResult struct {
	Skip bool
}

// Ingest implements IngestExecution. Preconditions: qty > 0,
// price > 0; a violation dead-letters the message instead of advancing
// state. Idempotent on execId via upsert.
func Ingest(tx store.TxAccessor, in ExecutionInput) (IngestResult, error) {
	if in.Qty.Sign() <= 0 || in.Price.Sign() <= 0 {
		reason := fmt.Sprintf("qty=%s price=%s", in.Qty.String(), in.Price.String())
		log.Warn().Str("execId", in.ExecID).Str("reason", reason).Msg("rejecting execution: validation failed")
		if err := tx.DeadLetter("execution", in.ExecID, reason); err != nil {
			return IngestResult{}, err
		}
		return IngestResult{Skip: true}, nil
	}

	exec := types.Execution{
		ExecID: in.ExecID,
		OrderID: in.OrderID,
		InstrumentID: in.InstrumentID,
		Qty: in.Qty,
		Price: in.Price,
		TradeDate: in.TradeDate,
		Venue: in.Venue,
		UpdatedAt: time.Now(),
	}
	if err := tx.UpsertExecution(exec); err != nil {
		return IngestResult{}, err
	}

	payload := publisher.ExecutionReceivedPayload{
		ExecID: in.ExecID,
		OrderID: in.OrderID,
		Qty: in.Qty.String(),
		Price: in.Price.String(),
		Venue: in.Venue,
	}
	envelope, err := publisher.Encode(publisher.EventExecutionReceived, payload)
	if err != nil {
		return IngestResult{}, err
	}
	if err := tx.EnqueueOutbox(store.OutboxKindPublish, "trade.events", in.ExecID, envelope); err != nil {
		return IngestResult{}, err
	}

	log.Debug().Str("execId", in.ExecID).Msg("execution ingested")
	return IngestResult{}, nil
}

// CorrectionResult tells the caller whether the correction was applied.
type CorrectionResult struct {
	Skip bool
}

// IngestCorrection applies a bust/correction message for a
// previously-ingested execId, bypassing Ingest's positive-qty
// precondition: a correction's entire purpose is to report a zero or
// negative corrected quantity, which onExecutionUpdated/HandleBust
// reacts to. It does not chain into BuildBlockTrades — transitioning
// the block to BUSTED is HandleBust's job, not Ingest's.
func IngestCorrection(tx store.TxAccessor, in ExecutionInput) (CorrectionResult, error) {
	if _, err := tx.GetExecution(in.ExecID); err != nil {
		if errs.IsNotFound(err) {
			reason := fmt.Sprintf("correction for unknown execId %s", in.ExecID)
			log.Warn().Str("execId", in.ExecID).Str("reason", reason).Msg("rejecting correction")
			if dlErr := tx.DeadLetter("execution", in.ExecID, reason); dlErr != nil {
				return CorrectionResult{}, dlErr
			}
			return CorrectionResult{Skip: true}, nil
		}
		return CorrectionResult{}, err
	}

	exec := types.Execution{
		ExecID: in.ExecID,
		OrderID: in.OrderID,
		InstrumentID: in.InstrumentID,
		Qty: in.Qty,
		Price: in.Price,
		TradeDate: in.TradeDate,
		Venue: in.Venue,
		UpdatedAt: time.Now(),
	}
	if err := tx.UpsertExecution(exec); err != nil {
		return CorrectionResult{}, err
	}

	log.Warn().Str("execId", in.ExecID).Msg("execution correction applied")
	return CorrectionResult{}, nil
}
