// Package agreements runs the periodic service agreement passes: status aging,
// visit generation and auto-renewal.
package agreements

import (
	"time"

	"github.com/onemanvan/fsm/internal/workflow"
)

const (
	hoursPerDay     = 24
	defaultTermDays = 365
)

// Interval returns the spacing between visits over the agreement term. ok is
// false when the term is empty or inverted or no visits are included.
func Interval(start, end time.Time, visitsIncluded int) (time.Duration, bool) {
	if visitsIncluded <= 0 || !end.After(start) {
		return 0, false
	}
	return end.Sub(start) / time.Duration(visitsIncluded), true
}

// IntervalDays is Interval expressed in fractional days.
func IntervalDays(start, end time.Time, visitsIncluded int) (float64, bool) {
	interval, ok := Interval(start, end, visitsIncluded)
	if !ok {
		return 0, false
	}
	return interval.Hours() / hoursPerDay, true
}

// NextVisitDate is start + interval*visitsUsed, truncated to its UTC date.
func NextVisitDate(start, end time.Time, visitsIncluded, visitsUsed int) (time.Time, bool) {
	interval, ok := Interval(start, end, visitsIncluded)
	if !ok {
		return time.Time{}, false
	}
	return dateOf(start.Add(interval * time.Duration(visitsUsed))), true
}

// VisitDue reports whether a visit on next falls inside the lookahead window
// starting today. Overdue visits are due.
func VisitDue(next, today time.Time, lookaheadDays int) bool {
	return !next.After(today.AddDate(0, 0, lookaheadDays))
}

// AgedStatus derives the status from the end date. Expired never regresses.
func AgedStatus(current workflow.AgreementStatus, end, today time.Time, expiringDays int) workflow.AgreementStatus {
	switch {
	case current == workflow.AgreementExpired:
		return current
	case dateOf(end).Before(today):
		return workflow.AgreementExpired
	case current == workflow.AgreementActive && !dateOf(end).After(today.AddDate(0, 0, expiringDays)):
		return workflow.AgreementExpiring
	default:
		return current
	}
}

// RenewedTerm rolls a term forward: the new term starts at the old end and
// spans the same calendar length. A non-positive term renews for 365 days.
func RenewedTerm(start, end time.Time) (time.Time, time.Time) {
	if !end.After(start) {
		return end, end.AddDate(0, 0, defaultTermDays)
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if start.AddDate(0, months, 0).After(end) {
		months--
	}
	remainder := end.Sub(start.AddDate(0, months, 0))
	return end, end.AddDate(0, months, 0).Add(remainder)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
