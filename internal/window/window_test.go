package window

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, v string) time.Time {
	t.Helper()
	d, err := ParseDate(v)
	require.NoError(t, err)
	return d
}

func mustRange(t *testing.T, start, end string) DateRange {
	t.Helper()
	r, err := ParseRange(start, end)
	require.NoError(t, err)
	return r
}

func TestPlanSingleDayRangeIsEmpty(t *testing.T) {
	windows, err := Plan(mustRange(t, "2022-01-01", "2022-01-01"), 30)
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestPlanSplitsAtMaxWindow(t *testing.T) {
	windows, err := Plan(mustRange(t, "2022-01-01", "2022-02-15"), 30)
	require.NoError(t, err)
	require.Len(t, windows, 2)

	assert.Equal(t, date(t, "2022-01-01"), windows[0].Start)
	assert.Equal(t, date(t, "2022-01-31"), windows[0].End)
	assert.Equal(t, date(t, "2022-01-31"), windows[1].Start)
	assert.Equal(t, date(t, "2022-02-15"), windows[1].End)
}

func TestPlanFitsInOneWindow(t *testing.T) {
	windows, err := Plan(mustRange(t, "2022-03-01", "2022-03-31"), 30)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 30, windows[0].Days())
}

func TestPlanReconstructsRange(t *testing.T) {
	tests := []struct {
		start, end string
		max        int
	}{
		{"2022-01-01", "2022-01-02", 1},
		{"2022-01-01", "2022-12-31", 1},
		{"2022-01-01", "2022-12-31", 7},
		{"2022-01-01", "2022-12-31", 30},
		{"2020-02-01", "2020-03-15", 29},
		{"2021-12-20", "2022-01-10", 365},
	}

	for _, tt := range tests {
		t.Run(tt.start+"_"+tt.end, func(t *testing.T) {
			r := mustRange(t, tt.start, tt.end)
			windows, err := Plan(r, tt.max)
			require.NoError(t, err)
			require.NotEmpty(t, windows)

			assert.Equal(t, r.Start(), windows[0].Start)
			assert.Equal(t, r.End(), windows[len(windows)-1].End)

			total := 0
			for i, w := range windows {
				assert.True(t, w.Start.Before(w.End), "window %d has zero duration", i)
				assert.LessOrEqual(t, w.Days(), tt.max)
				if i > 0 {
					assert.Equal(t, windows[i-1].End, w.Start, "gap or overlap before window %d", i)
				}
				total += w.Days()
			}
			assert.Equal(t, r.Days(), total)
		})
	}
}

func TestPlanRejectsNonPositiveWindow(t *testing.T) {
	_, err := Plan(mustRange(t, "2022-01-01", "2022-02-01"), 0)

	var planErr *PlanningError
	require.True(t, errors.As(err, &planErr))
}

func TestNewDateRangeRejectsReversedBounds(t *testing.T) {
	_, err := ParseRange("2022-02-01", "2022-01-01")

	var planErr *PlanningError
	require.True(t, errors.As(err, &planErr))
	assert.Contains(t, err.Error(), "after end date")
}

func TestParseDateRejectsGarbage(t *testing.T) {
	_, err := ParseDate("01/02/2022")
	require.Error(t, err)
}

func TestNewDateRangeTruncatesToUTCDay(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	r, err := NewDateRange(
		time.Date(2022, 1, 1, 20, 30, 0, 0, loc),
		time.Date(2022, 1, 3, 1, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	assert.Equal(t, date(t, "2022-01-02"), r.Start())
	assert.Equal(t, date(t, "2022-01-03"), r.End())
	assert.Equal(t, "2022-01-02..2022-01-03", r.String())
}
