/*
Package accounts implements the student account aggregate and the service
that mutates it.

PURPOSE:
  An Account tracks, per student and academic term, what was assessed,
  what was paid, and what each exam period still owes. Balances are
  derived state: the ledger (package ledger) is ground truth and the
  Account is a rebuildable cache, never the primary store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Period: one of prelim/midterm/final, each independently due and gated
  - Term: semester + academic year, the account's scope
  - PaymentStatus / ExamPermission: the per-period state machine outputs

SEE ALSO:
  - account.go: the aggregate, allocation algorithm, and log replay
  - service.go: the only entry points other modules may call
*/
package accounts

import "fmt"

// =============================================================================
// PERIOD - Exam period within an academic term
// =============================================================================

type Period string

const (
	PeriodPrelim  Period = "prelim"
	PeriodMidterm Period = "midterm"
	PeriodFinal   Period = "final"
)

// Periods is the fixed allocation order. Payments fill prelim first,
// then midterm, then final.
var Periods = []Period{PeriodPrelim, PeriodMidterm, PeriodFinal}

// ParsePeriod validates a period name from the API boundary.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodPrelim, PeriodMidterm, PeriodFinal:
		return Period(s), nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// =============================================================================
// TERM - Semester + academic year
// =============================================================================

type Term struct {
	Semester     string `json:"semester"`      // e.g. "FIRST SEMESTER"
	AcademicYear string `json:"academic_year"` // e.g. "2025-2026"
}

func (t Term) String() string {
	return t.Semester + " " + t.AcademicYear
}

// Key returns the term's index key fragment. Must be stable: it is part
// of the (student, term) uniqueness key in the store.
func (t Term) Key() string {
	return t.Semester + "/" + t.AcademicYear
}

// =============================================================================
// STATUS ENUMS
// =============================================================================

type PaymentStatus string

const (
	StatusUnpaid  PaymentStatus = "UNPAID"
	StatusPartial PaymentStatus = "PARTIAL"
	StatusPaid    PaymentStatus = "PAID"
)

type ExamPermission string

const (
	Permitted    ExamPermission = "PERMITTED"
	Conditional  ExamPermission = "CONDITIONAL" // explicit waiver only
	NotPermitted ExamPermission = "NOT_PERMITTED"
)
