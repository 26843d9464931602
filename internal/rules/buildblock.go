package rules

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/postengine/internal/config"
	"github.com/web3guy0/postengine/internal/errs"
	"github.com/web3guy0/postengine/internal/ids"
	"github.com/web3guy0/postengine/internal/publisher"
	"github.com/web3guy0/postengine/internal/store"
	"github.com/web3guy0/postengine/types"
)

// BuildBlockResult carries the block affected, so the caller can log or
// test against it.
type BuildBlockResult struct {
	Skip bool
	BlockID string
}

// BuildBlockTrades recomputes the Block as a pure function of the
// current Executions group sharing (instrumentId, side, tradeDate) —
// re-aggregation over incremental addition, so replays and
// bust-driven updates converge.
//
// Side is not stored on Execution; grouping by side is resolved by
// joining each fill to its parent Order, consistent with the
// (instrumentId, side, tradeDate) uniqueness scope and with how the
// open bucket itself is located.
func BuildBlockTrades(tx store.TxAccessor, scales config.CurrencyScales, in ExecutionInput) (BuildBlockResult, error) {
	order, err := tx.GetOrder(in.OrderID)
	if err != nil {
		if errs.IsNotFound(err) {
			log.Warn().Str("execId", in.ExecID).Str("orderId", in.OrderID).Msg("dead-lettering execution: parent order not found")
			if derr := tx.DeadLetter("execution", in.ExecID, "order not found: "+in.OrderID); derr != nil {
				return BuildBlockResult{}, derr
			}
			return BuildBlockResult{Skip: true}, nil
		}
		return BuildBlockResult{}, err
	}

	blockID, err := resolveOpenBlockID(tx, in.InstrumentID, order.Side, in.TradeDate)
	if err != nil {
		return BuildBlockResult{}, err
	}

	grossQty, avgPrice, err := recomputeAggregates(tx, scales, in.InstrumentID, in.TradeDate, order.Side)
	if err != nil {
		return BuildBlockResult{}, err
	}

	block := types.BlockTrade{
		BlockID: blockID,
		InstrumentID: in.InstrumentID,
		Side: order.Side,
		TradeDate: in.TradeDate,
		GrossQty: grossQty,
		AvgPrice: avgPrice,
		Status: types.BlockReadyToAllocate,
		UpdatedAt: time.Now(),
	}
	if err := tx.UpsertBlock(block); err != nil {
		return BuildBlockResult{}, err
	}

	payload := publisher.BlockReadyPayload{BlockID: blockID, GrossQty: grossQty.String(), AvgPrice: avgPrice.String()}
	envelope, err := publisher.Encode(publisher.EventBlockReady, payload)
	if err != nil {
		return BuildBlockResult{}, err
	}
	if err := tx.EnqueueOutbox(store.OutboxKindPublish, "trade.events", blockID, envelope); err != nil {
		return BuildBlockResult{}, err
	}

	log.Info().Str("blockId", blockID).Str("grossQty", grossQty.String()).Str("avgPrice", avgPrice.String()).Msg("block ready to allocate")
	return BuildBlockResult{BlockID: blockID}, nil
}

// resolveOpenBlockID locates the open aggregation bucket for (instrumentId,
// side, tradeDate), or synthesizes a deterministic new blockId if none
// exists yet.
func resolveOpenBlockID(tx store.TxAccessor, instrumentID string, side types.Side, tradeDate string) (string, error) {
	existing, err := tx.SingleBlock(store.Predicate{
		"instrument_id": instrumentID,
		"side": string(side),
		"trade_date": tradeDate,
		"status": string(types.BlockOpen),
	})
	switch {
	case err == nil:
		return existing.BlockID, nil
	case errs.IsNotFound(err):
		return ids.BlockID(instrumentID, string(side), tradeDate), nil
	default:
		// NotUnique here is invariant 2's breach: fatal, propagate
		// unwrapped so the runtime halts the worker.
		return "", err
	}
}

// recomputeAggregates sums qty and the qty-weighted price over every
// positive-qty Execution in the (instrumentId, side, tradeDate) group.
func recomputeAggregates(tx store.TxAccessor, scales config.CurrencyScales, instrumentID, tradeDate string, side types.Side) (decimal.Decimal, decimal.Decimal, error) {
	fills, err := tx.AllExecutions(store.Predicate{
		"instrument_id": instrumentID,
		"trade_date": tradeDate,
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	grossQty := decimal.Zero
	weighted := decimal.Zero
	for _, f := range fills {
		if f.Qty.Sign() <= 0 {
			continue
		}
		fillOrder, err := tx.GetOrder(f.OrderID)
		if err != nil {
			// Invariant 1 guarantees every Execution resolves to an
			// Order; a stray fill referencing a vanished order is
			// excluded from aggregation rather than failing the whole
			// recompute of an otherwise-healthy block.
			continue
		}
		if fillOrder.Side != side {
			continue
		}
		grossQty = grossQty.Add(f.Qty)
		weighted = weighted.Add(f.Qty.Mul(f.Price))
	}

	if grossQty.Sign() == 0 {
		return decimal.Zero, decimal.Zero, nil
	}

	scale := int32(2)
	if instrument, err := tx.GetInstrument(instrumentID); err == nil {
		scale = scales.ScaleFor(instrument.Currency)
	}

	avgPrice := ids.RoundHalfEven(weighted.Div(grossQty), scale)
	return grossQty, avgPrice, nil
}

