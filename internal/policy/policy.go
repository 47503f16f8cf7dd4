// Package policy holds the fine and incident rules as pure functions.
// Nothing here touches storage or the clock; callers pass "now" in.
package policy

import "time"

const (
	// FineAmount is the flat fine for a damaged or lost book, in BDT.
	FineAmount = 500
	// GracePeriod is how long a reported incident may stay unpaid.
	GracePeriod = 24 * time.Hour
	// IncidentThreshold is the open-incident count that suspends an account.
	IncidentThreshold = 3
	// LoanPeriod is the time between borrowing (or a granted reissue) and the due date.
	LoanPeriod = 14 * 24 * time.Hour
	// SubscriptionPeriod is the length of a subscription term and of a renewal.
	SubscriptionPeriod = 30 * 24 * time.Hour
	// overdueBaseDays is added to the days overdue when pricing a reminder.
	overdueBaseDays = 10
)

// Incident is an unarchived damaged/lost report.
type Incident struct {
	ReportedAt time.Time
	FinePaidAt *time.Time
}

// Delinquent reports whether the incident's fine was not paid within the
// grace period. A payment made at or after the deadline still counts as late.
func (i Incident) Delinquent(now time.Time) bool {
	deadline := i.ReportedAt.Add(GracePeriod)
	if !now.After(deadline) {
		return false
	}
	return i.FinePaidAt == nil || !i.FinePaidAt.Before(deadline)
}

// EvaluateSuspension decides the subscription's active flag.
//
// Business Rules:
//
//	GIVEN: the current flag and the user's unarchived incidents
//	WHEN: the suspension state is re-evaluated
//	THEN: suspended if any incident is delinquent or the incident count reaches IncidentThreshold
//	ELSE: active
//	IDEMPOTENCY: with no incidents the current flag is returned unchanged
func EvaluateSuspension(active bool, incidents []Incident, now time.Time) bool {
	if len(incidents) == 0 {
		return active
	}
	if len(incidents) >= IncidentThreshold {
		return false
	}
	for _, inc := range incidents {
		if inc.Delinquent(now) {
			return false
		}
	}
	return true
}

// SuspendOnReport reports whether a new incident report pushes the account
// over the threshold.
func SuspendOnReport(incidentCount int) bool {
	return incidentCount >= IncidentThreshold
}

// BlocksLogin reports whether a user with valid credentials must be turned
// away at login: the subscription exists, is inactive, and the user has
// reached the incident threshold.
func BlocksLogin(hasSubscription, active bool, incidents int) bool {
	return hasSubscription && !active && incidents >= IncidentThreshold
}

// OverduePenalty prices an overdue reminder: rate per day times the whole
// days past due plus a fixed base of ten days. Loans not yet due cost nothing.
func OverduePenalty(rate int, due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	days := int(now.Sub(due) / (24 * time.Hour))
	return rate * (days + overdueBaseDays)
}

// BooksToReturn is how many loans must be returned before downgrading to a
// tier with newMax books while holding borrowed loans.
func BooksToReturn(borrowed, newMax int) int {
	if newMax > borrowed {
		return 0
	}
	return borrowed - newMax + 1
}

// DueSoon reports whether an open loan is due within the next day.
func DueSoon(due, now time.Time) bool {
	return due.After(now) && due.Sub(now) <= 24*time.Hour
}
