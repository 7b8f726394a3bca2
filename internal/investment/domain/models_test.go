package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/vestora/internal/plan/domain"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPendingApproval:  {StatusActive, StatusCancelled},
		StatusActive:           {StatusBreakdownPending, StatusCompleted, StatusCancelled},
		StatusBreakdownPending: {StatusBreakdownApproved, StatusActive},
	}
	all := []Status{
		StatusPendingApproval, StatusActive, StatusBreakdownPending,
		StatusBreakdownApproved, StatusCompleted, StatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			require.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestComputeBreakdownPayout(t *testing.T) {
	retention := decimal.RequireFromString("0.8")
	clawback := decimal.RequireFromString("0.5")

	cases := []struct {
		name      string
		principal string
		accrued   string
		want      string
	}{
		{"no return yet", "1000", "0", "800"},
		{"after three days", "1000", "60", "770"},
		{"floor example", "1000", "900", "350"},
		{"clawback exceeds retention", "1000", "1600", "0"},
		{"deeply negative clamps to zero", "1000", "5000", "0"},
		{"half even rounding", "1000.05", "0.01", "800.04"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeBreakdownPayout(
				decimal.RequireFromString(tc.principal),
				decimal.RequireFromString(tc.accrued),
				retention,
				clawback,
				2,
			)
			require.True(t, decimal.RequireFromString(tc.want).Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestDueCycles(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	inv := Investment{
		Frequency:    plandomain.FrequencyDaily,
		DurationDays: 30,
	}
	require.NoError(t, inv.Start(start))
	require.True(t, start.Add(day).Equal(*inv.NextAccrualAt))
	require.True(t, start.Add(30*day).Equal(*inv.EndDate))

	cycles, err := inv.DueCycles(start.Add(12 * time.Hour))
	require.NoError(t, err)
	require.Zero(t, cycles)

	cycles, err = inv.DueCycles(start.Add(3 * day))
	require.NoError(t, err)
	require.Equal(t, 3, cycles)

	cycles, err = inv.DueCycles(start.Add(3*day + 23*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, cycles)

	// capped at the end date
	cycles, err = inv.DueCycles(start.Add(90 * day))
	require.NoError(t, err)
	require.Equal(t, 30, cycles)

	inv.CyclesCredited = 28
	cycles, err = inv.DueCycles(start.Add(90 * day))
	require.NoError(t, err)
	require.Equal(t, 2, cycles)
}

func TestDueCyclesMonthlyIgnoresPartialCycle(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	inv := Investment{
		Frequency:    plandomain.FrequencyMonthly,
		DurationDays: 45,
	}
	require.NoError(t, inv.Start(start))

	cycles, err := inv.DueCycles(start.AddDate(0, 0, 100))
	require.NoError(t, err)
	require.Equal(t, 1, cycles)
}

func TestReturnPerCycleRoundsHalfEven(t *testing.T) {
	inv := Investment{
		Principal:   decimal.RequireFromString("1000"),
		RatePercent: decimal.RequireFromString("2"),
	}
	require.True(t, decimal.RequireFromString("20").Equal(inv.ReturnPerCycle(2)))

	inv.Principal = decimal.RequireFromString("12.25")
	inv.RatePercent = decimal.RequireFromString("10")
	// 1.225 rounds to the even neighbour
	require.True(t, decimal.RequireFromString("1.22").Equal(inv.ReturnPerCycle(2)))
}
