// Package rules implements the five rules (Ingest, BuildBlock,
// Allocate, Settle, Bust) that mutate the Store projection in response
// to inbound events and store change notifications. Each rule is
// a small function taking a store.TxAccessor and returning an error;
// the rule runtime (internal/runtime) brackets every call in a
// transaction.
package rules

import "github.com/shopspring/decimal"

// ExecutionInput is the rules-layer shape of an inbound fill, decoupled
// from the feed package's kafka wire format (internal/feed.ExecutionMessage).
type ExecutionInput struct {
	ExecID string
	OrderID string
	InstrumentID string
	Qty decimal.Decimal
	Price decimal.Decimal
	TradeDate string
	Venue string
}
