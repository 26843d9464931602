package calendar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddBusinessDaysSkipsWeekend(t *testing.T) {
	// Monday 20240115 + 2 business days = Wednesday 20240117.
	got, err := WeekendSkipping{}.AddBusinessDays("20240115", 2)
	require.NoError(t, err)
	assert.Equal(t, "20240117", got)
}

func TestAddBusinessDaysCrossesWeekend(t *testing.T) {
	// Friday 20240112 + 2 business days = Tuesday 20240116.
	got, err := WeekendSkipping{}.AddBusinessDays("20240112", 2)
	require.NoError(t, err)
	assert.Equal(t, "20240116", got)
}

func TestAddBusinessDaysRejectsMalformedDate(t *testing.T) {
	_, err := WeekendSkipping{}.AddBusinessDays("not-a-date", 2)
	assert.Error(t, err)
}
