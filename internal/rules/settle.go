package rules

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/postengine/internal/calendar"
	"github.com/web3guy0/postengine/internal/config"
	"github.com/web3guy0/postengine/internal/ids"
	"github.com/web3guy0/postengine/internal/store"
	"github.com/web3guy0/postengine/types"
)

// SettleResult carries the materialized instruction, so callers and
// tests can inspect what was queued to the gateway.
type SettleResult struct {
	Skip bool
	Instruction types.SettlementInstruction
}

// GenerateSettlement builds a settlement instruction for a newly
// created Allocation. It resolves the instrument via
// Allocation -> Block -> instrumentId, since Allocation itself carries
// no instrumentId column to join against directly.
func GenerateSettlement(tx store.TxAccessor, scales config.CurrencyScales, cal calendar.BusinessDayCalendar, allocID string) (SettleResult, error) {
	alloc, err := tx.GetAllocation(allocID)
	if err != nil {
		return SettleResult{}, err
	}

	block, err := tx.GetBlock(alloc.BlockID)
	if err != nil {
		return SettleResult{}, err
	}

	instrument, err := tx.GetInstrument(block.InstrumentID)
	if err != nil {
		return SettleResult{}, err
	}

	settleDate, err := cal.AddBusinessDays(block.TradeDate, 2)
	if err != nil {
		return SettleResult{}, err
	}

	scale := scales.ScaleFor(instrument.Currency)
	cashAmount := ids.RoundHalfEven(alloc.AllocQty.Mul(alloc.AllocPrice), scale)

	instr := types.SettlementInstruction{
		SettleID: ids.SettleID(alloc.AllocID),
		AllocID: alloc.AllocID,
		AccountID: alloc.AccountID,
		ISIN: instrument.ISIN,
		SettleDate: settleDate,
		Method: types.MethodDVP,
		CashAmount: cashAmount,
	}

	payload, err := json.Marshal(instr)
	if err != nil {
		return SettleResult{}, err
	}
	if err := tx.EnqueueOutbox(store.OutboxKindGateway, "", instr.SettleID, payload); err != nil {
		return SettleResult{}, err
	}

	log.Info().Str("settleId", instr.SettleID).Str("allocId", allocID).Str("settleDate", settleDate).Msg("settlement instruction queued")
	return SettleResult{Instruction: instr}, nil
}
