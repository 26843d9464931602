package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScaleForKnownCurrency(t *testing.T) {
	scales := CurrencyScales{"USD": 2, "JPY": 0}
	assert.Equal(t, int32(2), scales.ScaleFor("usd"), "lookup must be case-insensitive")
	assert.Equal(t, int32(0), scales.ScaleFor("JPY"))
}

func TestScaleForUnknownCurrencyDefaultsToTwo(t *testing.T) {
	scales := CurrencyScales{"USD": 2}
	assert.Equal(t, int32(2), scales.ScaleFor("XXX"), "an unlisted currency defaults to 2 decimal places")
}

func TestGetEnvCurrencyScalesParsesOverride(t *testing.T) {
	t.Setenv("TEST_CURRENCY_SCALES", "USD:2,JPY:0,BHD:3")
	got := getEnvCurrencyScales("TEST_CURRENCY_SCALES", CurrencyScales{"USD": 2})
	assert.Equal(t, int32(2), got.ScaleFor("USD"))
	assert.Equal(t, int32(0), got.ScaleFor("JPY"))
	assert.Equal(t, int32(3), got.ScaleFor("BHD"))
}

func TestGetEnvCurrencyScalesFallsBackWhenUnset(t *testing.T) {
	got := getEnvCurrencyScales("TEST_CURRENCY_SCALES_UNSET", CurrencyScales{"EUR": 2})
	assert.Equal(t, int32(2), got.ScaleFor("EUR"))
}
