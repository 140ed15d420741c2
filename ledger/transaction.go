package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to an account's ledger
// =============================================================================

type Type string

const (
	TypeAssessment Type = "ASSESSMENT" // Charge assessed at enrollment (per period)
	TypePayment    Type = "PAYMENT"    // Captured payment (amount includes channel fees)
	TypeFee        Type = "FEE"        // Charge added after enrollment
	TypeAdjustment Type = "ADJUSTMENT" // Manual correction, signed
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Transaction is an immutable ledger record. Once COMPLETED it is never
// modified or deleted; the only legal status transition is
// PENDING -> COMPLETED or PENDING -> FAILED.
type Transaction struct {
	ID        TransactionID `json:"id"`
	AccountID AccountID     `json:"account_id"`
	StudentID string        `json:"student_id"`
	Type      Type          `json:"type"`

	// Amount is signed, in minor units. Assessments, payments and fees are
	// positive; adjustments may be negative.
	Amount Money `json:"amount"`

	// Period tags charge transactions (ASSESSMENT/FEE/ADJUSTMENT) with the
	// academic period they bill against. Empty for payments, which allocate
	// across periods in fixed order.
	Period string `json:"period,omitempty"`

	Description string `json:"description,omitempty"`

	// Channel is the payment channel code for PAYMENT transactions.
	Channel string `json:"channel,omitempty"`

	// Reference is the caller-supplied idempotency key, unique per account.
	// A second append with the same reference is a no-op returning the
	// original transaction, never a second credit.
	Reference string `json:"reference"`

	Status Status `json:"status"`

	// Sequence is assigned by the log: per-account, monotonic, gapless.
	// Ordering is by sequence, never wall-clock, so replay stays
	// deterministic under clock skew.
	Sequence uint64 `json:"sequence"`

	CreatedAt time.Time `json:"created_at"`
}

// Entry is an append request: a Transaction before the log assigns its
// identity, sequence, and timestamp.
type Entry struct {
	AccountID   AccountID
	StudentID   string
	Type        Type
	Amount      Money
	Period      string
	Description string
	Channel     string
	Reference   string
	Status      Status // defaults to COMPLETED
}

// samePayload reports whether a retried entry matches the stored
// transaction. Reference reuse with a different payload is a caller bug.
func (t Transaction) samePayload(e Entry) bool {
	return t.Type == e.Type && t.Amount == e.Amount && t.Period == e.Period
}

// CanTransition reports whether a status change is legal.
// COMPLETED/FAILED/CANCELLED are terminal.
func (s Status) CanTransition(to Status) bool {
	return s == StatusPending && (to == StatusCompleted || to == StatusFailed)
}
