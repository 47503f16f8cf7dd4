package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestScenarioUnpaidThenLatePayment(t *testing.T) {
	unpaid := []Incident{{ReportedAt: t0}}

	// Within the grace period the account stays active.
	assert.True(t, EvaluateSuspension(true, unpaid, t0.Add(time.Hour)))

	// At T+25h with no payment it is suspended.
	assert.False(t, EvaluateSuspension(true, unpaid, t0.Add(25*time.Hour)))

	// A payment at T+26h is late and does not lift the suspension.
	late := []Incident{{ReportedAt: t0, FinePaidAt: ptr(t0.Add(26 * time.Hour))}}
	assert.False(t, EvaluateSuspension(false, late, t0.Add(27*time.Hour)))

	// A payment at T+2h keeps the account active after the deadline.
	onTime := []Incident{{ReportedAt: t0, FinePaidAt: ptr(t0.Add(2 * time.Hour))}}
	assert.True(t, EvaluateSuspension(true, onTime, t0.Add(25*time.Hour)))
}

func TestPaymentExactlyAtDeadlineIsLate(t *testing.T) {
	inc := Incident{ReportedAt: t0, FinePaidAt: ptr(t0.Add(GracePeriod))}
	assert.True(t, inc.Delinquent(t0.Add(GracePeriod+time.Second)))
}

func TestThresholdSuspendsRegardlessOfPayment(t *testing.T) {
	paid := ptr(t0.Add(time.Minute))
	incidents := []Incident{
		{ReportedAt: t0, FinePaidAt: paid},
		{ReportedAt: t0, FinePaidAt: paid},
		{ReportedAt: t0, FinePaidAt: paid},
	}
	assert.False(t, EvaluateSuspension(true, incidents, t0.Add(time.Hour)))
	assert.True(t, SuspendOnReport(3))
	assert.False(t, SuspendOnReport(2))
}

func TestNoIncidentsLeavesFlagAlone(t *testing.T) {
	assert.False(t, EvaluateSuspension(false, nil, t0))
	assert.True(t, EvaluateSuspension(true, nil, t0))
}

func TestBlocksLogin(t *testing.T) {
	assert.True(t, BlocksLogin(true, false, 3))
	assert.False(t, BlocksLogin(true, true, 5))
	assert.False(t, BlocksLogin(true, false, 2))
	assert.False(t, BlocksLogin(false, false, 4))
}

func TestOverduePenalty(t *testing.T) {
	due := t0
	assert.Zero(t, OverduePenalty(2, due, due.Add(-time.Hour)))
	assert.Equal(t, 2*10, OverduePenalty(2, due, due.Add(time.Hour)))
	assert.Equal(t, 5*13, OverduePenalty(5, due, due.Add(3*24*time.Hour+time.Minute)))
	assert.Equal(t, 10*11, OverduePenalty(10, due, due.Add(47*time.Hour)))
}

func TestBooksToReturn(t *testing.T) {
	assert.Equal(t, 2, BooksToReturn(3, 2))
	assert.Equal(t, 1, BooksToReturn(2, 2))
	assert.Zero(t, BooksToReturn(1, 2))
}

func TestDueSoon(t *testing.T) {
	assert.True(t, DueSoon(t0.Add(23*time.Hour), t0))
	assert.False(t, DueSoon(t0.Add(25*time.Hour), t0))
	assert.False(t, DueSoon(t0.Add(-time.Hour), t0))
}

func genIncidents(t *rapid.T) []Incident {
	n := rapid.IntRange(0, 5).Draw(t, "n")
	out := make([]Incident, n)
	for i := range out {
		reported := t0.Add(time.Duration(rapid.IntRange(0, 96).Draw(t, "reportedH")) * time.Hour)
		inc := Incident{ReportedAt: reported}
		if rapid.Bool().Draw(t, "paid") {
			inc.FinePaidAt = ptr(reported.Add(time.Duration(rapid.IntRange(0, 72).Draw(t, "paidH")) * time.Hour))
		}
		out[i] = inc
	}
	return out
}

func TestEvaluateSuspensionIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		incidents := genIncidents(t)
		now := t0.Add(time.Duration(rapid.IntRange(0, 240).Draw(t, "nowH")) * time.Hour)
		active := rapid.Bool().Draw(t, "active")

		once := EvaluateSuspension(active, incidents, now)
		twice := EvaluateSuspension(once, incidents, now)
		if once != twice {
			t.Fatalf("second evaluation changed the flag: %v -> %v", once, twice)
		}
	})
}

func TestEvaluateSuspensionIgnoresCurrentFlagWhenIncidentsExist(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		incidents := genIncidents(t)
		if len(incidents) == 0 {
			t.Skip("no incidents")
		}
		now := t0.Add(time.Duration(rapid.IntRange(0, 240).Draw(t, "nowH")) * time.Hour)
		if EvaluateSuspension(true, incidents, now) != EvaluateSuspension(false, incidents, now) {
			t.Fatalf("outcome depends on the prior flag")
		}
	})
}

func TestPenaltyNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rate := rapid.SampledFrom([]int{2, 5, 10}).Draw(t, "rate")
		offset := time.Duration(rapid.IntRange(-1000, 1000).Draw(t, "offsetH")) * time.Hour
		p := OverduePenalty(rate, t0, t0.Add(offset))
		if p < 0 {
			t.Fatalf("negative penalty %d", p)
		}
		if offset > 0 && p < rate*10 {
			t.Fatalf("overdue penalty %d below base", p)
		}
	})
}
