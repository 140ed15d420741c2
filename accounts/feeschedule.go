/*
feeschedule.go - Per-term assessment splitting

PURPOSE:
  A FeeSchedule turns a total term assessment into the three period
  charges at enrollment time. The split must be exact: the three parts
  always sum to the input, with rounding differences absorbed by the
  later periods, never invented or lost centavos.
*/
package accounts

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/campusworks/bursar-engine/ledger"
)

// =============================================================================
// FEE SCHEDULE
// =============================================================================

// FeeSchedule splits a term's total assessment across exam periods.
// PrelimRate is a percentage (e.g. 33 means 33%); the remainder after the
// prelim share is divided evenly between midterm and final, with the final
// period absorbing any odd centavo.
type FeeSchedule struct {
	Term       Term            `json:"term"`
	PrelimRate decimal.Decimal `json:"prelim_rate"`
}

// PeriodCharge is one period's share of an assessment.
type PeriodCharge struct {
	Period Period       `json:"period"`
	Amount ledger.Money `json:"amount"`
}

// Split divides total across the periods. The returned charges are in
// allocation order and always sum exactly to total.
func (fs FeeSchedule) Split(total ledger.Money) ([]PeriodCharge, error) {
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: assessment of %s", ledger.ErrInvalidAmount, total)
	}
	if fs.PrelimRate.IsNegative() || fs.PrelimRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: prelim rate %s%% out of range", ledger.ErrInvalidAmount, fs.PrelimRate)
	}

	prelim := ledger.PercentOf(total, fs.PrelimRate)
	rest := total.Sub(prelim)
	midterm := rest / 2
	final := rest.Sub(midterm)

	return []PeriodCharge{
		{Period: PeriodPrelim, Amount: prelim},
		{Period: PeriodMidterm, Amount: midterm},
		{Period: PeriodFinal, Amount: final},
	}, nil
}

// =============================================================================
// ASSESSMENT TEMPLATE - The itemized standard assessment
// =============================================================================

// AssessmentItem is one line of the standard term assessment.
type AssessmentItem struct {
	Description string       `json:"description"`
	Amount      ledger.Money `json:"amount"`
}

// AssessmentTemplate itemizes the standard assessment posted at
// enrollment. The ledger stores only the per-period totals; the lines
// exist for statements and for enrollments that name no amount.
type AssessmentTemplate struct {
	Items []AssessmentItem `json:"items"`
}

// Total sums the template's lines.
func (t AssessmentTemplate) Total() ledger.Money {
	var total ledger.Money
	for _, item := range t.Items {
		total = total.Add(item.Amount)
	}
	return total
}

// =============================================================================
// SCHEDULE TABLE - Lookup keyed by term
// =============================================================================

// ScheduleTable resolves the fee schedule for a term, falling back to a
// default rate for terms without an explicit entry.
type ScheduleTable struct {
	DefaultRate decimal.Decimal
	byTerm      map[string]FeeSchedule
}

func NewScheduleTable(defaultRate decimal.Decimal, schedules ...FeeSchedule) *ScheduleTable {
	t := &ScheduleTable{
		DefaultRate: defaultRate,
		byTerm:      make(map[string]FeeSchedule, len(schedules)),
	}
	for _, fs := range schedules {
		t.byTerm[fs.Term.Key()] = fs
	}
	return t
}

// For returns the schedule governing the given term.
func (t *ScheduleTable) For(term Term) FeeSchedule {
	if fs, ok := t.byTerm[term.Key()]; ok {
		return fs
	}
	return FeeSchedule{Term: term, PrelimRate: t.DefaultRate}
}
