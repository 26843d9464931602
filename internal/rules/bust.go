package rules

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/postengine/internal/errs"
	"github.com/web3guy0/postengine/internal/store"
	"github.com/web3guy0/postengine/types"
)

// BustResult tells the caller which block, if any, was transitioned.
type BustResult struct {
	Skip bool
	BlockID string
}

// HandleBust transitions a Block to BUSTED once one of its fills is
// corrected to a zero or negative quantity, triggered by an Execution
// updated notification. Already-queued settlement instructions are not
// retracted — that is an operator workflow, out of scope here.
//
// The block lookup is scoped by instrumentId, side and tradeDate, not
// instrumentId alone: instrumentId by itself is non-unique across trade
// dates and sides, and a SingleBlock predicate built on it would hit
// a uniqueness violation every time more than one trade date is open
// for the instrument.
func HandleBust(tx store.TxAccessor, execID string) (BustResult, error) {
	exec, err := tx.GetExecution(execID)
	if err != nil {
		return BustResult{}, err
	}
	if exec.Qty.Sign() > 0 {
		return BustResult{Skip: true}, nil
	}

	order, err := tx.GetOrder(exec.OrderID)
	if err != nil {
		return BustResult{}, err
	}

	block, err := tx.SingleBlock(store.Predicate{
		"instrument_id": exec.InstrumentID,
		"side": string(order.Side),
		"trade_date": exec.TradeDate,
	})
	if err != nil {
		if errs.IsNotFound(err) {
			// Nothing built yet for this group: nothing to bust.
			return BustResult{Skip: true}, nil
		}
		return BustResult{}, err
	}
	if block.Status == types.BlockBusted {
		return BustResult{Skip: true}, nil
	}

	block.Status = types.BlockBusted
	block.UpdatedAt = time.Now()
	if err := tx.UpsertBlock(block); err != nil {
		return BustResult{}, err
	}

	log.Warn().Str("blockId", block.BlockID).Str("execId", execID).Msg("block busted")
	return BustResult{BlockID: block.BlockID}, nil
}
