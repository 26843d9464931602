// Package ids derives the deterministic identifiers and rounding used
// by the rules: allocId and settleId are pure functions of their
// inputs, which turns a replayed create into an idempotent upsert.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// BlockID derives a stable blockId for an (instrumentId, side, tradeDate)
// aggregation bucket.
func BlockID(instrumentID string, side string, tradeDate string) string {
	return hash("block", instrumentID, side, tradeDate)
}

// AllocID derives a deterministic allocId = f(blockId, accountId), so
// replayed AllocateBlock runs are idempotent upserts.
func AllocID(blockID, accountID string) string {
	return hash("alloc", blockID, accountID)
}

// SettleID derives a deterministic settleId = f(allocId).
func SettleID(allocID string) string {
	return hash("settle", allocID)
}

func hash(kind string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{'|'})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// RoundHalfEven rounds d to scale decimal places using banker's
// rounding, the convention used to round a cash amount to an
// instrument's currency scale.
func RoundHalfEven(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.RoundBank(scale)
}

// Normalize trims an account id for deterministic lexicographic
// ordering.
func Normalize(accountID string) string {
	return strings.TrimSpace(accountID)
}
