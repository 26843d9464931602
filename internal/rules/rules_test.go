package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/postengine/internal/calendar"
	"github.com/web3guy0/postengine/internal/config"
	"github.com/web3guy0/postengine/internal/store"
	"github.com/web3guy0/postengine/types"
)

func testScales() config.CurrencyScales {
	return config.CurrencyScales{"USD": 2}
}

func newTestEngine(t *testing.T) *store.MemoryStore {
	t.Helper()
	return store.NewMemoryStore()
}

func seedInstrumentAndOrder(m *store.MemoryStore, instrumentID, isin, orderID, accountID string, side types.Side, qty int64) {
	m.SeedInstrument(types.Instrument{InstrumentID: instrumentID, SecurityType: types.SecurityEquity, ISIN: isin, Currency: "USD", Venue: "XNYS"})
	m.SeedOrder(types.Order{OrderID: orderID, AccountID: accountID, InstrumentID: instrumentID, Side: side, Qty: decimal.NewFromInt(qty)})
}

func execInput(execID, orderID, instrumentID, tradeDate string, qty, price float64) ExecutionInput {
	return ExecutionInput{
		ExecID:       execID,
		OrderID:      orderID,
		InstrumentID: instrumentID,
		Qty:          decimal.NewFromFloat(qty),
		Price:        decimal.NewFromFloat(price),
		TradeDate:    tradeDate,
		Venue:        "XNYS",
	}
}

// Scenario 1: single fill, single order.
func TestScenarioSingleFillSingleOrder(t *testing.T) {
	m := newTestEngine(t)
	seedInstrumentAndOrder(m, "I1", "US0000000I1", "O1", "A1", types.SideBuy, 100)

	in := execInput("X1", "O1", "I1", "20240115", 100, 10.00)

	var blockID string
	err := m.WithTx(func(tx store.TxAccessor) error {
		ir, err := Ingest(tx, in)
		require.NoError(t, err)
		require.False(t, ir.Skip)
		br, err := BuildBlockTrades(tx, testScales(), in)
		require.NoError(t, err)
		blockID = br.BlockID
		return nil
	})
	require.NoError(t, err)

	err = m.WithTx(func(tx store.TxAccessor) error { return AllocateBlock(tx, blockID) })
	require.NoError(t, err)

	block, err := storeGetBlock(m, blockID)
	require.NoError(t, err)
	assert.True(t, block.GrossQty.Equal(decimal.NewFromInt(100)))
	assert.True(t, block.AvgPrice.Equal(decimal.NewFromFloat(10.00)))
	assert.Equal(t, types.BlockAllocated, block.Status)

	allocID := allocIDFor(t, m, blockID, "A1")
	alloc, err := storeGetAllocation(m, allocID)
	require.NoError(t, err)
	assert.True(t, alloc.AllocQty.Equal(decimal.NewFromInt(100)))
	assert.True(t, alloc.AllocPrice.Equal(decimal.NewFromFloat(10.00)))

	var result SettleResult
	err = m.WithTx(func(tx store.TxAccessor) error {
		r, err := GenerateSettlement(tx, testScales(), calendar.WeekendSkipping{}, allocID)
		result = r
		return err
	})
	require.NoError(t, err)
	assert.True(t, result.Instruction.CashAmount.Equal(decimal.NewFromFloat(1000.00)), "cashAmount should be 100*10.00=1000.00")
	assert.Equal(t, "20240117", result.Instruction.SettleDate, "Jan 15 2024 is a Monday; T+2 business days is Wednesday Jan 17")
}

// Scenario 2: two fills, average price.
func TestScenarioTwoFillsAveragePrice(t *testing.T) {
	m := newTestEngine(t)
	seedInstrumentAndOrder(m, "I1", "US0000000I1", "O1", "A1", types.SideBuy, 100)

	in1 := execInput("X1", "O1", "I1", "20240115", 60, 10.00)
	in2 := execInput("X2", "O1", "I1", "20240115", 40, 11.00)

	var blockID string
	err := m.WithTx(func(tx store.TxAccessor) error {
		if _, err := Ingest(tx, in1); err != nil {
			return err
		}
		br, err := BuildBlockTrades(tx, testScales(), in1)
		blockID = br.BlockID
		return err
	})
	require.NoError(t, err)

	err = m.WithTx(func(tx store.TxAccessor) error {
		if _, err := Ingest(tx, in2); err != nil {
			return err
		}
		_, err := BuildBlockTrades(tx, testScales(), in2)
		return err
	})
	require.NoError(t, err)

	block, err := storeGetBlock(m, blockID)
	require.NoError(t, err)
	assert.True(t, block.GrossQty.Equal(decimal.NewFromInt(100)))
	assert.True(t, block.AvgPrice.Equal(decimal.NewFromFloat(10.40)), "avgPrice should be (60*10 + 40*11)/100 = 10.40")
}

// Scenario 3: duplicate delivery is idempotent.
func TestScenarioDuplicateDelivery(t *testing.T) {
	m := newTestEngine(t)
	seedInstrumentAndOrder(m, "I1", "US0000000I1", "O1", "A1", types.SideBuy, 100)

	in := execInput("X1", "O1", "I1", "20240115", 100, 10.00)

	process := func() string {
		var blockID string
		err := m.WithTx(func(tx store.TxAccessor) error {
			if _, err := Ingest(tx, in); err != nil {
				return err
			}
			br, err := BuildBlockTrades(tx, testScales(), in)
			blockID = br.BlockID
			return err
		})
		require.NoError(t, err)
		return blockID
	}

	firstBlockID := process()
	secondBlockID := process()
	assert.Equal(t, firstBlockID, secondBlockID, "replaying the same execId must resolve to the same block")

	execs, err := withTxAllExecutions(m, store.Predicate{"instrument_id": "I1", "trade_date": "20240115"})
	require.NoError(t, err)
	assert.Len(t, execs, 1, "duplicate delivery of the same execId must upsert, not duplicate, the Execution row")

	block, err := storeGetBlock(m, firstBlockID)
	require.NoError(t, err)
	assert.True(t, block.GrossQty.Equal(decimal.NewFromInt(100)), "replaying the same fill must not double-count grossQty")
}

// Scenario 4: residual rounding.
func TestScenarioResidualRounding(t *testing.T) {
	m := newTestEngine(t)
	m.SeedInstrument(types.Instrument{InstrumentID: "I1", Currency: "USD", ISIN: "US0000000I1"})
	m.SeedOrder(types.Order{OrderID: "O1", AccountID: "A1", InstrumentID: "I1", Side: types.SideBuy, Qty: decimal.NewFromInt(10)})
	m.SeedOrder(types.Order{OrderID: "O2", AccountID: "A2", InstrumentID: "I1", Side: types.SideBuy, Qty: decimal.NewFromInt(10)})
	m.SeedOrder(types.Order{OrderID: "O3", AccountID: "A3", InstrumentID: "I1", Side: types.SideBuy, Qty: decimal.NewFromInt(10)})

	blockID := "block-residual"
	err := m.WithTx(func(tx store.TxAccessor) error {
		return tx.UpsertBlock(types.BlockTrade{
			BlockID: blockID, InstrumentID: "I1", Side: types.SideBuy, TradeDate: "20240115",
			GrossQty: decimal.NewFromInt(100), AvgPrice: decimal.NewFromFloat(10.00),
			Status: types.BlockReadyToAllocate, UpdatedAt: time.Now(),
		})
	})
	require.NoError(t, err)

	err = m.WithTx(func(tx store.TxAccessor) error { return AllocateBlock(tx, blockID) })
	require.NoError(t, err)

	a1, err := storeGetAllocation(m, allocIDFor(t, m, blockID, "A1"))
	require.NoError(t, err)
	a2, err := storeGetAllocation(m, allocIDFor(t, m, blockID, "A2"))
	require.NoError(t, err)
	a3, err := storeGetAllocation(m, allocIDFor(t, m, blockID, "A3"))
	require.NoError(t, err)

	assert.True(t, a1.AllocQty.Equal(decimal.NewFromInt(34)), "first lexicographic account absorbs the residual unit")
	assert.True(t, a2.AllocQty.Equal(decimal.NewFromInt(33)))
	assert.True(t, a3.AllocQty.Equal(decimal.NewFromInt(33)))

	sum := a1.AllocQty.Add(a2.AllocQty).Add(a3.AllocQty)
	assert.True(t, sum.Equal(decimal.NewFromInt(100)), "allocations must sum exactly to grossQty")
}

// Scenario 5: a correction to qty=0 busts the block, transitioning it
// to BUSTED.
func TestScenarioBust(t *testing.T) {
	m := newTestEngine(t)
	seedInstrumentAndOrder(m, "I1", "US0000000I1", "O1", "A1", types.SideBuy, 100)

	in1 := execInput("X1", "O1", "I1", "20240115", 60, 10.00)
	in2 := execInput("X2", "O1", "I1", "20240115", 40, 11.00)

	var blockID string
	err := m.WithTx(func(tx store.TxAccessor) error {
		if _, err := Ingest(tx, in1); err != nil {
			return err
		}
		br, err := BuildBlockTrades(tx, testScales(), in1)
		blockID = br.BlockID
		return err
	})
	require.NoError(t, err)
	err = m.WithTx(func(tx store.TxAccessor) error {
		if _, err := Ingest(tx, in2); err != nil {
			return err
		}
		_, err := BuildBlockTrades(tx, testScales(), in2)
		return err
	})
	require.NoError(t, err)

	// A bust correction goes through IngestCorrection, the same entry
	// point a real correction message takes via Runtime.HandleExecution,
	// not a direct store mutation.
	correction := execInput("X1", "O1", "I1", "20240115", 0, 10.00)
	err = m.WithTx(func(tx store.TxAccessor) error {
		_, err := IngestCorrection(tx, correction)
		return err
	})
	require.NoError(t, err)

	err = m.WithTx(func(tx store.TxAccessor) error {
		_, err := HandleBust(tx, "X1")
		return err
	})
	require.NoError(t, err)

	block, err := storeGetBlock(m, blockID)
	require.NoError(t, err)
	assert.Equal(t, types.BlockBusted, block.Status)
}

// Scenario 6: out-of-order delivery within a group converges to the
// same aggregate regardless of fill arrival order.
func TestScenarioOutOfOrderConvergence(t *testing.T) {
	run := func(first, second ExecutionInput) (decimal.Decimal, decimal.Decimal) {
		m := newTestEngine(t)
		seedInstrumentAndOrder(m, "I1", "US0000000I1", "O1", "A1", types.SideBuy, 100)

		var blockID string
		err := m.WithTx(func(tx store.TxAccessor) error {
			if _, err := Ingest(tx, first); err != nil {
				return err
			}
			br, err := BuildBlockTrades(tx, testScales(), first)
			blockID = br.BlockID
			return err
		})
		require.NoError(t, err)
		err = m.WithTx(func(tx store.TxAccessor) error {
			if _, err := Ingest(tx, second); err != nil {
				return err
			}
			_, err := BuildBlockTrades(tx, testScales(), second)
			return err
		})
		require.NoError(t, err)

		block, err := storeGetBlock(m, blockID)
		require.NoError(t, err)
		return block.GrossQty, block.AvgPrice
	}

	in1 := execInput("X1", "O1", "I1", "20240115", 60, 10.00)
	in2 := execInput("X2", "O1", "I1", "20240115", 40, 11.00)

	qtyForward, priceForward := run(in1, in2)
	qtyReverse, priceReverse := run(in2, in1)

	assert.True(t, qtyForward.Equal(qtyReverse), "grossQty must converge regardless of fill arrival order")
	assert.True(t, priceForward.Equal(priceReverse), "avgPrice must converge regardless of fill arrival order")
}

// ---- test helpers reaching past TxAccessor for read-only assertions ----

func storeGetBlock(m *store.MemoryStore, blockID string) (types.BlockTrade, error) {
	var block types.BlockTrade
	err := m.WithTx(func(tx store.TxAccessor) error {
		var err error
		block, err = tx.GetBlock(blockID)
		return err
	})
	return block, err
}

func storeGetAllocation(m *store.MemoryStore, allocID string) (types.Allocation, error) {
	var alloc types.Allocation
	err := m.WithTx(func(tx store.TxAccessor) error {
		var err error
		alloc, err = tx.GetAllocation(allocID)
		return err
	})
	return alloc, err
}

func withTxAllExecutions(m *store.MemoryStore, pred store.Predicate) ([]types.Execution, error) {
	var execs []types.Execution
	err := m.WithTx(func(tx store.TxAccessor) error {
		var err error
		execs, err = tx.AllExecutions(pred)
		return err
	})
	return execs, err
}

func allocIDFor(t *testing.T, m *store.MemoryStore, blockID, accountID string) string {
	t.Helper()
	allocs, err := withTxAllAllocations(m, store.Predicate{"block_id": blockID, "account_id": accountID})
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	return allocs[0].AllocID
}

func withTxAllAllocations(m *store.MemoryStore, pred store.Predicate) ([]types.Allocation, error) {
	var allocs []types.Allocation
	err := m.WithTx(func(tx store.TxAccessor) error {
		var err error
		allocs, err = tx.AllAllocations(pred)
		return err
	})
	return allocs, err
}
