// Package types holds the shared entities of the post-trade projection.
// Kept separate from internal/store and internal/rules to avoid import
// cycles between them.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// SecurityType classifies an Instrument.
type SecurityType string

const (
	SecurityEquity SecurityType = "EQUITY"
	SecurityBond   SecurityType = "BOND"
	SecuritySwap   SecurityType = "SWAP"
)

// Side is the direction of an Order or BlockTrade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// BlockStatus is the lifecycle state of a BlockTrade.
type BlockStatus string

const (
	BlockOpen            BlockStatus = "OPEN"
	BlockReadyToAllocate BlockStatus = "READY_TO_ALLOCATE"
	BlockAllocated       BlockStatus = "ALLOCATED"
	BlockBusted          BlockStatus = "BUSTED"
)

// SettlementMethod is the street-side settlement mechanism.
type SettlementMethod string

const (
	MethodDVP SettlementMethod = "DVP"
	MethodFOP SettlementMethod = "FOP"
)

// Instrument is static reference data, created externally and read-only
// to the core.
type Instrument struct {
	InstrumentID string       `gorm:"column:instrument_id;primaryKey"`
	SecurityType SecurityType `gorm:"column:security_type"`
	ISIN         string       `gorm:"column:isin"`
	Currency     string       `gorm:"column:currency"`
	Venue        string       `gorm:"column:venue"`
}

func (Instrument) TableName() string { return "instruments" }

// Order is client intent, created externally.
type Order struct {
	OrderID      string          `gorm:"column:order_id;primaryKey"`
	AccountID    string          `gorm:"column:account_id;index"`
	InstrumentID string          `gorm:"column:instrument_id;index"`
	Side         Side            `gorm:"column:side"`
	Qty          decimal.Decimal `gorm:"column:qty;type:decimal(20,8)"`
	Trader       string          `gorm:"column:trader"`
}

func (Order) TableName() string { return "orders" }

// Execution is a realized fill. Inserted by Ingest; mutated only by
// bust notifications (qty driven to zero or negative).
type Execution struct {
	ExecID       string          `gorm:"column:exec_id;primaryKey"`
	OrderID      string          `gorm:"column:order_id;index"`
	InstrumentID string          `gorm:"column:instrument_id;index"`
	Qty          decimal.Decimal `gorm:"column:qty;type:decimal(20,8)"`
	Price        decimal.Decimal `gorm:"column:price;type:decimal(20,8)"`
	TradeDate    string          `gorm:"column:trade_date;index"` // YYYYMMDD
	Venue        string          `gorm:"column:venue"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (Execution) TableName() string { return "executions" }

// BlockTrade is the aggregated parent over a group of fills sharing
// (instrumentId, side, tradeDate).
type BlockTrade struct {
	BlockID      string          `gorm:"column:block_id;primaryKey"`
	InstrumentID string          `gorm:"column:instrument_id;index"`
	Side         Side            `gorm:"column:side"`
	TradeDate    string          `gorm:"column:trade_date;index"`
	GrossQty     decimal.Decimal `gorm:"column:gross_qty;type:decimal(20,8)"`
	AvgPrice     decimal.Decimal `gorm:"column:avg_price;type:decimal(20,8)"`
	Status       BlockStatus     `gorm:"column:status;index"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (BlockTrade) TableName() string { return "block_trades" }

// Allocation is a per-account slice of a Block. Immutable once created;
// busts propagate via Block.Status, never by mutating an Allocation.
type Allocation struct {
	AllocID    string          `gorm:"column:alloc_id;primaryKey"`
	BlockID    string          `gorm:"column:block_id;index"`
	AccountID  string          `gorm:"column:account_id;index"`
	AllocQty   decimal.Decimal `gorm:"column:alloc_qty;type:decimal(20,8)"`
	AllocPrice decimal.Decimal `gorm:"column:alloc_price;type:decimal(20,8)"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

func (Allocation) TableName() string { return "allocations" }

// SettlementInstruction is the outbound payload materialized by
// GenerateSettlement. Not persisted by the core; built and sent.
type SettlementInstruction struct {
	SettleID   string           `json:"settle_id"`
	AllocID    string           `json:"alloc_id"`
	AccountID  string           `json:"account_id"`
	ISIN       string           `json:"isin"`
	SettleDate string           `json:"settle_date"`
	Method     SettlementMethod `json:"method"`
	CashAmount decimal.Decimal  `json:"cash_amount"`
}
