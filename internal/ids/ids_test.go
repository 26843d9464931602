package ids

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockIDDeterministic(t *testing.T) {
	a := BlockID("AAPL", "BUY", "20260130")
	b := BlockID("AAPL", "BUY", "20260130")
	assert.Equal(t, a, b, "same inputs must derive the same blockId")

	c := BlockID("AAPL", "SELL", "20260130")
	assert.NotEqual(t, a, c, "different side must derive a different blockId")
}

func TestAllocIDDeterministic(t *testing.T) {
	blockID := BlockID("AAPL", "BUY", "20260130")
	a := AllocID(blockID, "ACC-1")
	b := AllocID(blockID, "ACC-1")
	require.Equal(t, a, b)

	c := AllocID(blockID, "ACC-2")
	assert.NotEqual(t, a, c, "different accountId must derive a different allocId")
}

func TestSettleIDDeterministic(t *testing.T) {
	allocID := AllocID("block-1", "ACC-1")
	a := SettleID(allocID)
	b := SettleID(allocID)
	assert.Equal(t, a, b)
}

func TestRoundHalfEven(t *testing.T) {
	cases := []struct {
		in    string
		scale int32
		want  string
	}{
		{"2.005", 2, "2"},   // banker's rounding: halfway rounds to even
		{"2.015", 2, "2.02"},
		{"1.005", 2, "1"},
		{"100.00", 2, "100"},
	}
	for _, c := range cases {
		got := RoundHalfEven(decimal.RequireFromString(c.in), c.scale)
		assert.True(t, got.Equal(decimal.RequireFromString(c.want)), "RoundHalfEven(%s, %d) = %s, want %s", c.in, c.scale, got, c.want)
	}
}
