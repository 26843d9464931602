package rules

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/postengine/internal/ids"
	"github.com/web3guy0/postengine/internal/publisher"
	"github.com/web3guy0/postengine/internal/store"
	"github.com/web3guy0/postengine/types"
)

// AllocateBlock splits a Block's fills across the participating
// accounts, triggered when a Block transitions to READY_TO_ALLOCATE.
func AllocateBlock(tx store.TxAccessor, blockID string) error {
	block, err := tx.GetBlock(blockID)
	if err != nil {
		return err
	}
	if block.Status != types.BlockReadyToAllocate {
		// Already allocated or busted since the trigger fired: idempotent
		// no-op.
		return nil
	}

	orders, err := selectParticipatingOrders(tx, block.InstrumentID)
	if err != nil {
		return err
	}

	allocations := distribute(block.GrossQty, orders)

	for _, a := range allocations {
		alloc := types.Allocation{
			AllocID: ids.AllocID(block.BlockID, a.AccountID),
			BlockID: block.BlockID,
			AccountID: a.AccountID,
			AllocQty: a.Qty,
			AllocPrice: block.AvgPrice,
			CreatedAt: time.Now(),
		}
		if err := tx.UpsertAllocation(alloc); err != nil {
			return err
		}

		payload := publisher.AllocationCreatedPayload{
			AllocID: alloc.AllocID,
			BlockID: alloc.BlockID,
			AccountID: alloc.AccountID,
			AllocQty: alloc.AllocQty.String(),
		}
		envelope, err := publisher.Encode(publisher.EventAllocationCreated, payload)
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(store.OutboxKindPublish, "trade.events", alloc.AllocID, envelope); err != nil {
			return err
		}
	}

	block.Status = types.BlockAllocated
	block.UpdatedAt = time.Now()
	if err := tx.UpsertBlock(block); err != nil {
		return err
	}

	log.Info().Str("blockId", blockID).Int("allocations", len(allocations)).Msg("block allocated")
	return nil
}

type accountAlloc struct {
	AccountID string
	Qty decimal.Decimal
}

// selectParticipatingOrders returns every Order against instrumentID,
// sorted lexicographically by AccountID for deterministic residual
// distribution. It applies no side or open-quantity filter yet — kept
// as a named function so that filter can be tightened in one place
// once the intended selection is confirmed.
func selectParticipatingOrders(tx store.TxAccessor, instrumentID string) ([]types.Order, error) {
	orders, err := tx.AllOrders(store.Predicate{"instrument_id": instrumentID})
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].AccountID < orders[j].AccountID })
	return orders, nil
}

// distribute implements step 3's residual-rounding policy:
// allocQty = grossQty/N, floored to the precision grossQty itself
// carries, with the residual assigned one such unit at a time in
// lexicographic accountId order to orders already sorted by the caller.
// If grossQty < N units, only the first grossQty accounts receive an
// allocation, which falls out of the same arithmetic without a separate
// branch: perOrder floors to zero and the residual (all of grossQty)
// is handed out one unit per account up to N.
func distribute(grossQty decimal.Decimal, orders []types.Order) []accountAlloc {
	n := len(orders)
	if n == 0 || grossQty.Sign() <= 0 {
		return nil
	}

	scale := -grossQty.Exponent()
	if scale < 0 {
		scale = 0
	}
	unit := decimal.New(1, -scale)

	nDec := decimal.NewFromInt(int64(n))
	perOrder := grossQty.Div(nDec).Truncate(scale)
	residual := grossQty.Sub(perOrder.Mul(nDec))
	residualUnits := int(residual.Div(unit).Round(0).IntPart())
	if residualUnits > n {
		residualUnits = n
	}

	out := make([]accountAlloc, 0, n)
	for i, o := range orders {
		qty := perOrder
		if i < residualUnits {
			qty = qty.Add(unit)
		}
		if qty.Sign() <= 0 {
			continue
		}
		out = append(out, accountAlloc{AccountID: o.AccountID, Qty: qty})
	}
	return out
}

