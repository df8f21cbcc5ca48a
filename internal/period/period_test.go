package period_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CierreLedger/internal/period"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsClosureDay(t *testing.T) {
	assert.True(t, period.IsClosureDay(date(2025, time.March, 1)))
	assert.True(t, period.IsClosureDay(date(2025, time.March, 16)))
	assert.False(t, period.IsClosureDay(date(2025, time.March, 2)))
	assert.False(t, period.IsClosureDay(date(2025, time.March, 15)))
	assert.False(t, period.IsClosureDay(date(2025, time.March, 31)))

	// Time of day is irrelevant.
	assert.True(t, period.IsClosureDay(time.Date(2025, time.March, 16, 23, 59, 0, 0, time.UTC)))
}

func TestPeriodToClose_OnThe16th(t *testing.T) {
	// On the 16th of M the first-half window of M closes: day 1-15.
	p, err := period.PeriodToClose(date(2025, time.July, 16))
	require.NoError(t, err)

	assert.Equal(t, period.FirstHalf, p.Type)
	assert.Equal(t, date(2025, time.July, 1), p.Start())
	assert.Equal(t, date(2025, time.July, 15), p.End())
}

func TestPeriodToClose_OnThe1st(t *testing.T) {
	// On the 1st the second-half window of the previous month closes.
	p, err := period.PeriodToClose(date(2025, time.August, 1))
	require.NoError(t, err)

	assert.Equal(t, period.SecondHalf, p.Type)
	assert.Equal(t, date(2025, time.July, 16), p.Start())
	assert.Equal(t, date(2025, time.July, 31), p.End())
}

func TestPeriodToClose_JanuaryFirstCrossesYear(t *testing.T) {
	p, err := period.PeriodToClose(date(2026, time.January, 1))
	require.NoError(t, err)

	assert.Equal(t, period.SecondHalf, p.Type)
	assert.Equal(t, date(2025, time.December, 16), p.Start())
	assert.Equal(t, date(2025, time.December, 31), p.End())
}

func TestPeriodToClose_NotAClosureDay(t *testing.T) {
	_, err := period.PeriodToClose(date(2025, time.July, 17))
	assert.Error(t, err)
}

func TestSecondHalfEnd_MonthLengths(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
	}{
		{"31-day month", date(2025, time.July, 16), date(2025, time.July, 31)},
		{"30-day month", date(2025, time.June, 16), date(2025, time.June, 30)},
		{"february", date(2025, time.February, 16), date(2025, time.February, 28)},
		{"leap february", date(2024, time.February, 16), date(2024, time.February, 29)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := period.Period{Date: tt.start, Type: period.SecondHalf}
			assert.Equal(t, tt.end, p.End())
		})
	}
}

func TestNewPeriodAfterClosure(t *testing.T) {
	// Closing the first half on the 16th opens day 16 to month end.
	p, err := period.NewPeriodAfterClosure(date(2025, time.July, 16))
	require.NoError(t, err)
	assert.Equal(t, period.SecondHalf, p.Type)
	assert.Equal(t, date(2025, time.July, 16), p.Start())
	assert.Equal(t, date(2025, time.July, 31), p.End())

	// Closing the second half on the 1st opens the new first half.
	p, err = period.NewPeriodAfterClosure(date(2025, time.August, 1))
	require.NoError(t, err)
	assert.Equal(t, period.FirstHalf, p.Type)
	assert.Equal(t, date(2025, time.August, 1), p.Start())
	assert.Equal(t, date(2025, time.August, 15), p.End())
}

func TestNext_IsContiguous(t *testing.T) {
	p := period.Period{Date: date(2025, time.December, 16), Type: period.SecondHalf}
	next := p.Next()

	assert.Equal(t, period.FirstHalf, next.Type)
	assert.Equal(t, date(2026, time.January, 1), next.Start())
	assert.Equal(t, p.End().AddDate(0, 0, 1), next.Start())
}

func TestForDate(t *testing.T) {
	assert.Equal(t,
		period.Period{Date: date(2025, time.May, 1), Type: period.FirstHalf},
		period.ForDate(date(2025, time.May, 15)))
	assert.Equal(t,
		period.Period{Date: date(2025, time.May, 16), Type: period.SecondHalf},
		period.ForDate(date(2025, time.May, 16)))
	assert.Equal(t,
		period.Period{Date: date(2025, time.May, 16), Type: period.SecondHalf},
		period.ForDate(date(2025, time.May, 31)))
}

func TestContains(t *testing.T) {
	p := period.Period{Date: date(2025, time.May, 1), Type: period.FirstHalf}
	assert.True(t, p.Contains(date(2025, time.May, 1)))
	assert.True(t, p.Contains(date(2025, time.May, 15)))
	assert.False(t, p.Contains(date(2025, time.May, 16)))
	assert.False(t, p.Contains(date(2025, time.April, 30)))
}

func TestFromStart(t *testing.T) {
	p, err := period.FromStart(date(2025, time.May, 16))
	require.NoError(t, err)
	assert.Equal(t, period.SecondHalf, p.Type)

	p, err = period.FromStart(date(2025, time.May, 1))
	require.NoError(t, err)
	assert.Equal(t, period.FirstHalf, p.Type)

	_, err = period.FromStart(date(2025, time.May, 10))
	assert.Error(t, err)
}

func TestParseStart(t *testing.T) {
	p, err := period.ParseStart("2025-07-16")
	require.NoError(t, err)
	assert.Equal(t, period.SecondHalf, p.Type)
	assert.Equal(t, date(2025, time.July, 16), p.Date)

	_, err = period.ParseStart("2025-07-05")
	assert.Error(t, err)
	_, err = period.ParseStart("not-a-date")
	assert.Error(t, err)
}
