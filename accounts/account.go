/*
account.go - The Account aggregate

PURPOSE:
  Owns the derived balances and per-period state machine. Every field here
  is reproducible by replaying the account's COMPLETED transactions in
  sequence order from empty state (Rebuild); the service uses that replay
  to audit and repair the materialized view.

ALLOCATION INVARIANTS:
  - Payments walk periods in fixed order (prelim, midterm, final), taking
    min(remaining, periodDue) at each stop.
  - Anything left after the final period becomes overpayment credit.
  - remainingBalance = max(0, totalAssessment - totalPaid); never negative.
  - A period is PAID exactly when its due is zero, PARTIAL when something
    but not everything was paid against it.

STATE MACHINE PER PERIOD:
  UNPAID -> PARTIAL -> PAID under payments. A FEE/ADJUSTMENT that raises a
  period's due after it reached PAID re-evaluates the status - PAID may
  revert to PARTIAL or UNPAID. Stale PAID flags are a gating bug.
*/
package accounts

import (
	"fmt"
	"sort"
	"time"

	"github.com/campusworks/bursar-engine/ledger"
)

// =============================================================================
// ACCOUNT - Materialized view over the transaction log
// =============================================================================

type Account struct {
	ID        ledger.AccountID `json:"id"`
	StudentID string           `json:"student_id"`
	Term      Term             `json:"term"`

	TotalAssessment  ledger.Money `json:"total_assessment"`
	TotalPaid        ledger.Money `json:"total_paid"`
	RemainingBalance ledger.Money `json:"remaining_balance"`

	// PeriodAssessed is what each period was billed in total; PeriodDue is
	// what it still owes. assessed - due is what payments allocated to it.
	PeriodAssessed map[Period]ledger.Money  `json:"period_assessed"`
	PeriodDue      map[Period]ledger.Money  `json:"period_due"`
	PeriodStatus   map[Period]PaymentStatus `json:"period_status"`

	OverpaymentCredit ledger.Money `json:"overpayment_credit"`

	// CurrentPeriod is the exam window the term is in. It is calendar
	// state, not ledger state: it feeds gating but is not replayed.
	CurrentPeriod Period `json:"current_period"`

	ExamPermission ExamPermission `json:"exam_permission"`

	// Version is the sequence number of the last transaction applied.
	// Monotonic; used to detect log/view divergence.
	Version uint64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewAccount(id ledger.AccountID, studentID string, term Term) *Account {
	a := &Account{
		ID:             id,
		StudentID:      studentID,
		Term:           term,
		PeriodAssessed: make(map[Period]ledger.Money, len(Periods)),
		PeriodDue:      make(map[Period]ledger.Money, len(Periods)),
		PeriodStatus:   make(map[Period]PaymentStatus, len(Periods)),
		CurrentPeriod:  PeriodPrelim,
		ExamPermission: NotPermitted,
	}
	for _, p := range Periods {
		a.PeriodStatus[p] = StatusUnpaid
	}
	return a
}

// =============================================================================
// MUTATIONS - Applied live and during replay, identically
// =============================================================================

// ApplyAssessment bills amount against a period.
func (a *Account) ApplyAssessment(amount ledger.Money, period Period) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: assessment of %s", ledger.ErrInvalidAmount, amount)
	}
	a.TotalAssessment = a.TotalAssessment.Add(amount)
	a.PeriodAssessed[period] = a.PeriodAssessed[period].Add(amount)
	a.PeriodDue[period] = a.PeriodDue[period].Add(amount)
	a.refreshDerived()
	return nil
}

// AppliedPaymentResult reports how a payment landed.
type AppliedPaymentResult struct {
	Reference        string       `json:"reference"`
	Amount           ledger.Money `json:"amount"`
	Allocations      []Allocation `json:"allocations"`
	OverpaymentAdded ledger.Money `json:"overpayment_added"`
}

// Allocation is the slice of a payment absorbed by one period.
type Allocation struct {
	Period Period        `json:"period"`
	Amount ledger.Money  `json:"amount"`
	NewDue ledger.Money  `json:"new_due"`
	Status PaymentStatus `json:"status"`
}

// ApplyPayment allocates a captured payment across periods in fixed order:
// take min(remaining, periodDue) at each period; whatever survives the
// final period becomes overpayment credit.
func (a *Account) ApplyPayment(amount ledger.Money, reference string) (AppliedPaymentResult, error) {
	if !amount.IsPositive() {
		return AppliedPaymentResult{}, fmt.Errorf("%w: payment of %s", ledger.ErrInvalidAmount, amount)
	}

	result := AppliedPaymentResult{Reference: reference, Amount: amount}
	remaining := amount

	for _, p := range Periods {
		if remaining.IsZero() {
			break
		}
		due := a.PeriodDue[p]
		if due.IsZero() {
			continue
		}
		take := remaining.Min(due)
		a.PeriodDue[p] = due.Sub(take)
		remaining = remaining.Sub(take)

		result.Allocations = append(result.Allocations, Allocation{
			Period: p,
			Amount: take,
			NewDue: a.PeriodDue[p],
			Status: a.statusOf(p),
		})
	}

	if remaining.IsPositive() {
		a.OverpaymentCredit = a.OverpaymentCredit.Add(remaining)
		result.OverpaymentAdded = remaining
	}

	a.TotalPaid = a.TotalPaid.Add(amount)
	a.refreshDerived()
	return result, nil
}

// ApplyCharge applies a FEE (positive) or ADJUSTMENT (signed) to a period.
// Raising a PAID period's due re-evaluates its status; the state machine
// never leaves a stale PAID flag behind.
func (a *Account) ApplyCharge(amount ledger.Money, period Period) error {
	if amount.IsZero() {
		return fmt.Errorf("%w: zero charge", ledger.ErrInvalidAmount)
	}
	a.TotalAssessment = a.TotalAssessment.Add(amount).ClampNonNegative()
	a.PeriodAssessed[period] = a.PeriodAssessed[period].Add(amount).ClampNonNegative()
	a.PeriodDue[period] = a.PeriodDue[period].Add(amount).ClampNonNegative()
	a.refreshDerived()
	return nil
}

// refreshDerived recomputes everything downstream of the raw tallies.
func (a *Account) refreshDerived() {
	a.RemainingBalance = a.TotalAssessment.Sub(a.TotalPaid).ClampNonNegative()
	for _, p := range Periods {
		a.PeriodStatus[p] = a.statusOf(p)
	}
}

func (a *Account) statusOf(p Period) PaymentStatus {
	due := a.PeriodDue[p]
	assessed := a.PeriodAssessed[p]
	switch {
	case due.IsZero():
		return StatusPaid
	case due == assessed:
		return StatusUnpaid
	default:
		return StatusPartial
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// CurrentPeriodDue returns what the active exam period still owes.
func (a *Account) CurrentPeriodDue() ledger.Money {
	return a.PeriodDue[a.CurrentPeriod]
}

// CanSit reports whether the student may sit the given period's exam.
func (a *Account) CanSit(period Period) bool {
	return a.PeriodStatus[period] == StatusPaid
}

// IsGradeVisible reports whether grades may be shown: the active period
// must be fully paid.
func (a *Account) IsGradeVisible() bool {
	return a.PeriodStatus[a.CurrentPeriod] == StatusPaid
}

// =============================================================================
// REPLAY - Rebuild the aggregate from the log
// =============================================================================

// Rebuild folds an account's transactions, in sequence order, into a fresh
// aggregate. Only COMPLETED transactions affect balances. The result must
// equal the live materialized view exactly; any divergence means the view
// is stale and gets repaired from this replay.
//
// currentPeriod is calendar state carried from the view, not the log.
func Rebuild(id ledger.AccountID, studentID string, term Term, currentPeriod Period, gating GatingPolicy, txs []ledger.Transaction) (*Account, error) {
	a := NewAccount(id, studentID, term)
	if currentPeriod != "" {
		a.CurrentPeriod = currentPeriod
	}

	ordered := make([]ledger.Transaction, len(txs))
	copy(ordered, txs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	for _, tx := range ordered {
		if tx.Sequence > a.Version {
			a.Version = tx.Sequence
			a.UpdatedAt = tx.CreatedAt
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = tx.CreatedAt
		}
		if tx.Status != ledger.StatusCompleted {
			continue
		}

		switch tx.Type {
		case ledger.TypeAssessment:
			if err := a.ApplyAssessment(tx.Amount, Period(tx.Period)); err != nil {
				return nil, fmt.Errorf("replay seq %d: %w", tx.Sequence, err)
			}
		case ledger.TypePayment:
			if _, err := a.ApplyPayment(tx.Amount, tx.Reference); err != nil {
				return nil, fmt.Errorf("replay seq %d: %w", tx.Sequence, err)
			}
		case ledger.TypeFee, ledger.TypeAdjustment:
			if err := a.ApplyCharge(tx.Amount, Period(tx.Period)); err != nil {
				return nil, fmt.Errorf("replay seq %d: %w", tx.Sequence, err)
			}
		}
	}

	a.ExamPermission = gating.ExamPermission(a, a.CurrentPeriod)
	return a, nil
}

// SameLedgerState compares the fields that replay must reproduce.
// CurrentPeriod is excluded (calendar state, not ledger state).
func (a *Account) SameLedgerState(b *Account) bool {
	if a.TotalAssessment != b.TotalAssessment ||
		a.TotalPaid != b.TotalPaid ||
		a.RemainingBalance != b.RemainingBalance ||
		a.OverpaymentCredit != b.OverpaymentCredit ||
		a.ExamPermission != b.ExamPermission ||
		a.Version != b.Version {
		return false
	}
	for _, p := range Periods {
		if a.PeriodAssessed[p] != b.PeriodAssessed[p] ||
			a.PeriodDue[p] != b.PeriodDue[p] ||
			a.PeriodStatus[p] != b.PeriodStatus[p] {
			return false
		}
	}
	return true
}
