/*
service.go - The account service, the only entry point other modules call

PURPOSE:
  Orchestrates every account mutation: enrollment assessment, payment
  capture, fee/adjustment posting, and the read-side statement. Each
  mutation runs under the account's write slot and inside one atomic
  store operation, so the ledger append and the materialized view update
  commit or fail together.

KEY SCHEME (on top of the ledger's own keys):
  view/{account}                       materialized Account view
  idx/student/{student}/{term-key}     (student, term) -> account id
  acct/{account}/outcome/{reference}   payment outcome snapshot

OUTCOME SNAPSHOTS:
  The outcome of a payment is stored next to its transaction. A retried
  request with the same reference returns that stored snapshot, byte for
  byte, not a recomputed one - the idempotency contract promises the
  ORIGINAL result.

SELF-AUDIT:
  Statement reads replay the account's log and compare against the stored
  view. A divergence means the view is stale (crash between append and
  view write); the replay wins and the view is repaired in place.
*/
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusworks/bursar-engine/ledger"
	"github.com/campusworks/bursar-engine/storage"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store     storage.AtomicKV
	locks     *lockTable
	catalog   *Catalog
	schedules *ScheduleTable
	template  AssessmentTemplate
	gating    GatingPolicy
	log       *zap.Logger

	// NewAccountID is injectable for deterministic tests.
	NewAccountID func() ledger.AccountID
}

// DefaultLockTimeout bounds how long a mutation waits for the account's
// write slot before giving up with ErrAccountBusy.
const DefaultLockTimeout = 5 * time.Second

type ServiceOption func(*Service)

func WithLockTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.locks = newLockTable(d) }
}

func WithGating(g GatingPolicy) ServiceOption {
	return func(s *Service) { s.gating = g }
}

// WithAssessmentTemplate installs the itemized standard assessment. Its
// total backs enrollments that name no amount, and its lines are echoed
// on every statement.
func WithAssessmentTemplate(t AssessmentTemplate) ServiceOption {
	return func(s *Service) { s.template = t }
}

func NewService(store storage.AtomicKV, catalog *Catalog, schedules *ScheduleTable, log *zap.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:        store,
		locks:        newLockTable(DefaultLockTimeout),
		catalog:      catalog,
		schedules:    schedules,
		log:          log,
		NewAccountID: func() ledger.AccountID { return ledger.AccountID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog exposes the accepted payment channels for listings.
func (s *Service) Catalog() *Catalog { return s.catalog }

// =============================================================================
// VIEW KEY SCHEME
// =============================================================================

func viewKey(id ledger.AccountID) string {
	return fmt.Sprintf("view/%s", id)
}

func studentIndexKey(studentID string, term Term) string {
	return fmt.Sprintf("idx/student/%s/%s", studentID, term.Key())
}

func outcomeKey(id ledger.AccountID, reference string) string {
	return fmt.Sprintf("acct/%s/outcome/%s", id, reference)
}

// =============================================================================
// CREATE ACCOUNT
// =============================================================================

// CreateAccount opens a (student, term) account and posts the enrollment
// assessment, split across exam periods by the term's fee schedule. A zero
// amount falls back to the catalog's assessment template total. A second
// create for the same pair fails with ErrAccountExists and returns the
// existing account untouched.
func (s *Service) CreateAccount(ctx context.Context, studentID string, term Term, totalAssessment ledger.Money) (*Account, error) {
	if studentID == "" {
		return nil, fmt.Errorf("%w: missing student id", ledger.ErrInvalidAmount)
	}
	if totalAssessment.IsZero() && len(s.template.Items) > 0 {
		totalAssessment = s.template.Total()
	}
	charges, err := s.schedules.For(term).Split(totalAssessment)
	if err != nil {
		return nil, err
	}

	// Concurrent enrollments for the same (student, term) must not race
	// the index read below: the stores give atomic commit, not a
	// serialized read-then-write across callers.
	release, err := s.locks.Acquire(ctx, ledger.AccountID(studentIndexKey(studentID, term)))
	if err != nil {
		return nil, err
	}
	defer release()

	id := s.NewAccountID()

	var created *Account
	err = s.store.Atomic(ctx, func(kv storage.KV) error {
		// (student, term) uniqueness lives in the index key.
		if rec, err := kv.Get(ctx, studentIndexKey(studentID, term)); err == nil {
			existing, loadErr := getView(ctx, kv, ledger.AccountID(rec))
			if loadErr != nil {
				return loadErr
			}
			created = existing
			return ledger.ErrAccountExists
		} else if !errors.Is(err, storage.ErrKeyNotFound) {
			return err
		}

		log := ledger.NewLog(kv)
		acct := NewAccount(id, studentID, term)

		for _, c := range charges {
			tx, err := log.Append(ctx, ledger.Entry{
				AccountID:   id,
				StudentID:   studentID,
				Type:        ledger.TypeAssessment,
				Amount:      c.Amount,
				Period:      string(c.Period),
				Description: fmt.Sprintf("%s assessment, %s", c.Period, term),
				Reference:   fmt.Sprintf("assess/%s", c.Period),
			})
			if err != nil {
				return err
			}
			if err := acct.ApplyAssessment(tx.Amount, c.Period); err != nil {
				return err
			}
			acct.Version = tx.Sequence
			if acct.CreatedAt.IsZero() {
				acct.CreatedAt = tx.CreatedAt
			}
			acct.UpdatedAt = tx.CreatedAt
		}
		acct.ExamPermission = s.gating.ExamPermission(acct, acct.CurrentPeriod)

		if err := putView(ctx, kv, acct); err != nil {
			return err
		}
		if err := kv.Put(ctx, studentIndexKey(studentID, term), storage.Record(id)); err != nil {
			return err
		}
		created = acct
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			return created, err
		}
		return nil, err
	}

	s.log.Info("account created",
		zap.String("account_id", string(id)),
		zap.String("student_id", studentID),
		zap.String("term", term.String()),
		zap.String("total_assessment", totalAssessment.String()))
	return created, nil
}

// FindAccount resolves the account for a (student, term) pair.
func (s *Service) FindAccount(ctx context.Context, studentID string, term Term) (*Account, error) {
	rec, err := s.store.Get(ctx, studentIndexKey(studentID, term))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: student %s, %s", ledger.ErrAccountNotFound, studentID, term)
	}
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, ledger.AccountID(rec))
}

// GetAccount loads the materialized view, auditing it against a log
// replay and repairing it when they diverge. The repair is a write, so
// reads take the account's write slot like any mutation; a replay of a
// stale snapshot must not land after a concurrent payment's view.
func (s *Service) GetAccount(ctx context.Context, id ledger.AccountID) (*Account, error) {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var acct *Account
	err = s.store.Atomic(ctx, func(kv storage.KV) error {
		a, err := s.auditedView(ctx, kv, id)
		if err != nil {
			return err
		}
		acct = a
		return nil
	})
	return acct, err
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentRequest captures one tendered payment through a channel.
type PaymentRequest struct {
	// Tendered is the amount the student intends to pay toward the balance.
	// The channel fee is added on top; the ledger records the gross.
	Tendered  ledger.Money
	Channel   string
	Reference string

	// Pending records the payment as PENDING (no balance effect) until a
	// later ResolvePayment. Used for channels that confirm asynchronously.
	Pending bool

	Description string
}

// PaymentOutcome is the receipt for one payment, stored at capture time
// and returned unchanged for idempotent retries.
type PaymentOutcome struct {
	AccountID     ledger.AccountID     `json:"account_id"`
	TransactionID ledger.TransactionID `json:"transaction_id"`
	Reference     string               `json:"reference"`
	Channel       string               `json:"channel"`
	Status        ledger.Status        `json:"status"`

	Tendered ledger.Money `json:"tendered"`
	Fee      ledger.Money `json:"fee"`
	Gross    ledger.Money `json:"gross"`

	Allocations      []Allocation `json:"allocations,omitempty"`
	OverpaymentAdded ledger.Money `json:"overpayment_added"`

	RemainingBalance ledger.Money   `json:"remaining_balance"`
	ExamPermission   ExamPermission `json:"exam_permission"`

	// Duplicate marks a replayed outcome from an earlier identical request.
	Duplicate bool `json:"duplicate,omitempty"`
}

// ApplyPayment captures a payment: computes the channel fee, appends the
// PAYMENT transaction, allocates across periods, and persists both the
// updated view and the outcome snapshot in one atomic operation.
//
// Retried requests (same reference, same amount and channel) return the
// original outcome with Duplicate set; a reused reference with a different
// payload fails with a ReferenceConflictError.
func (s *Service) ApplyPayment(ctx context.Context, id ledger.AccountID, req PaymentRequest) (PaymentOutcome, error) {
	channel, err := s.catalog.Find(req.Channel)
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	charge, err := channel.Charge(req.Tendered)
	if err != nil {
		return PaymentOutcome{}, err
	}

	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return PaymentOutcome{}, err
	}
	defer release()

	var outcome PaymentOutcome
	err = s.store.Atomic(ctx, func(kv storage.KV) error {
		acct, err := s.auditedView(ctx, kv, id)
		if err != nil {
			return err
		}

		status := ledger.StatusCompleted
		if req.Pending {
			status = ledger.StatusPending
		}

		log := ledger.NewLog(kv)
		tx, err := log.Append(ctx, ledger.Entry{
			AccountID:   id,
			StudentID:   acct.StudentID,
			Type:        ledger.TypePayment,
			Amount:      charge.Gross,
			Description: req.Description,
			Channel:     channel.Code,
			Reference:   req.Reference,
			Status:      status,
		})
		if errors.Is(err, ledger.ErrDuplicateReference) {
			stored, loadErr := getOutcome(ctx, kv, id, req.Reference)
			if loadErr != nil {
				return loadErr
			}
			stored.Duplicate = true
			outcome = stored
			return nil
		}
		if err != nil {
			return err
		}

		outcome = PaymentOutcome{
			AccountID:     id,
			TransactionID: tx.ID,
			Reference:     tx.Reference,
			Channel:       tx.Channel,
			Status:        tx.Status,
			Tendered:      charge.Tendered,
			Fee:           charge.Fee,
			Gross:         charge.Gross,
		}

		if tx.Status == ledger.StatusCompleted {
			applied, err := acct.ApplyPayment(tx.Amount, tx.Reference)
			if err != nil {
				return err
			}
			outcome.Allocations = applied.Allocations
			outcome.OverpaymentAdded = applied.OverpaymentAdded
		}

		acct.Version = tx.Sequence
		acct.UpdatedAt = tx.CreatedAt
		acct.ExamPermission = s.gating.ExamPermission(acct, acct.CurrentPeriod)
		outcome.RemainingBalance = acct.RemainingBalance
		outcome.ExamPermission = acct.ExamPermission

		if err := putView(ctx, kv, acct); err != nil {
			return err
		}
		return putOutcome(ctx, kv, outcome)
	})
	if err != nil {
		return PaymentOutcome{}, err
	}

	if outcome.Duplicate {
		s.log.Info("duplicate payment reference, returning original outcome",
			zap.String("account_id", string(id)),
			zap.String("reference", req.Reference))
	} else {
		s.log.Info("payment captured",
			zap.String("account_id", string(id)),
			zap.String("reference", req.Reference),
			zap.String("channel", channel.Code),
			zap.String("gross", outcome.Gross.String()),
			zap.String("status", string(outcome.Status)))
	}
	return outcome, nil
}

// ResolvePayment settles a PENDING payment as COMPLETED or FAILED. On
// COMPLETED the payment is allocated and the view updated; FAILED leaves
// balances untouched.
func (s *Service) ResolvePayment(ctx context.Context, id ledger.AccountID, txID ledger.TransactionID, to ledger.Status) (PaymentOutcome, error) {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return PaymentOutcome{}, err
	}
	defer release()

	var outcome PaymentOutcome
	err = s.store.Atomic(ctx, func(kv storage.KV) error {
		acct, err := s.auditedView(ctx, kv, id)
		if err != nil {
			return err
		}

		log := ledger.NewLog(kv)
		tx, err := log.Resolve(ctx, id, txID, to)
		if err != nil {
			return err
		}

		stored, err := getOutcome(ctx, kv, id, tx.Reference)
		if err != nil {
			return err
		}
		stored.Status = tx.Status

		if tx.Status == ledger.StatusCompleted {
			applied, err := acct.ApplyPayment(tx.Amount, tx.Reference)
			if err != nil {
				return err
			}
			stored.Allocations = applied.Allocations
			stored.OverpaymentAdded = applied.OverpaymentAdded
			acct.ExamPermission = s.gating.ExamPermission(acct, acct.CurrentPeriod)
		}
		stored.RemainingBalance = acct.RemainingBalance
		stored.ExamPermission = acct.ExamPermission

		if err := putView(ctx, kv, acct); err != nil {
			return err
		}
		if err := putOutcome(ctx, kv, stored); err != nil {
			return err
		}
		outcome = stored
		return nil
	})
	if err != nil {
		return PaymentOutcome{}, err
	}

	s.log.Info("payment resolved",
		zap.String("account_id", string(id)),
		zap.String("transaction_id", string(txID)),
		zap.String("status", string(to)))
	return outcome, nil
}

// =============================================================================
// CHARGES
// =============================================================================

// ChargeRequest posts a FEE or a signed ADJUSTMENT against a period.
type ChargeRequest struct {
	Type        ledger.Type
	Amount      ledger.Money
	Period      Period
	Description string
	Reference   string
}

// ApplyCharge appends the charge and re-evaluates the touched period's
// status. A charge that raises a PAID period's due demotes it; the gate
// closes again until the new due is settled.
func (s *Service) ApplyCharge(ctx context.Context, id ledger.AccountID, req ChargeRequest) (*Account, error) {
	if req.Type != ledger.TypeFee && req.Type != ledger.TypeAdjustment {
		return nil, fmt.Errorf("%w: charge type must be FEE or ADJUSTMENT, got %q", ledger.ErrInvalidAmount, req.Type)
	}

	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var acct *Account
	err = s.store.Atomic(ctx, func(kv storage.KV) error {
		a, err := s.auditedView(ctx, kv, id)
		if err != nil {
			return err
		}

		log := ledger.NewLog(kv)
		tx, err := log.Append(ctx, ledger.Entry{
			AccountID:   id,
			StudentID:   a.StudentID,
			Type:        req.Type,
			Amount:      req.Amount,
			Period:      string(req.Period),
			Description: req.Description,
			Reference:   req.Reference,
		})
		if errors.Is(err, ledger.ErrDuplicateReference) {
			acct = a
			return nil
		}
		if err != nil {
			return err
		}

		if err := a.ApplyCharge(tx.Amount, req.Period); err != nil {
			return err
		}
		a.Version = tx.Sequence
		a.UpdatedAt = tx.CreatedAt
		a.ExamPermission = s.gating.ExamPermission(a, a.CurrentPeriod)

		if err := putView(ctx, kv, a); err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("charge applied",
		zap.String("account_id", string(id)),
		zap.String("type", string(req.Type)),
		zap.String("period", string(req.Period)),
		zap.String("amount", req.Amount.String()))
	return acct, nil
}

// =============================================================================
// PERIOD ADMINISTRATION
// =============================================================================

// AdvancePeriod moves the account's active exam window. Calendar state,
// recorded on the view only; the ledger is untouched.
func (s *Service) AdvancePeriod(ctx context.Context, id ledger.AccountID, to Period) (*Account, error) {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var acct *Account
	err = s.store.Atomic(ctx, func(kv storage.KV) error {
		a, err := s.auditedView(ctx, kv, id)
		if err != nil {
			return err
		}
		a.CurrentPeriod = to
		a.ExamPermission = s.gating.ExamPermission(a, to)
		if err := putView(ctx, kv, a); err != nil {
			return err
		}
		acct = a
		return nil
	})
	return acct, err
}

// =============================================================================
// STATEMENT - Read side
// =============================================================================

// Statement is the full read model: the audited view, the itemized
// standard assessment behind the enrollment charges, and the ordered
// transaction history.
type Statement struct {
	Account      *Account             `json:"account"`
	Assessment   []AssessmentItem     `json:"assessment,omitempty"`
	Transactions []ledger.Transaction `json:"transactions"`
}

func (s *Service) GetStatement(ctx context.Context, id ledger.AccountID) (Statement, error) {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	defer release()

	var st Statement
	err = s.store.Atomic(ctx, func(kv storage.KV) error {
		acct, err := s.auditedView(ctx, kv, id)
		if err != nil {
			return err
		}
		txs, err := ledger.NewLog(kv).ListByAccount(ctx, id)
		if err != nil {
			return err
		}
		st = Statement{Account: acct, Assessment: s.template.Items, Transactions: txs}
		return nil
	})
	return st, err
}

// =============================================================================
// VIEW PERSISTENCE AND SELF-AUDIT
// =============================================================================

func getView(ctx context.Context, kv storage.KV, id ledger.AccountID) (*Account, error) {
	rec, err := kv.Get(ctx, viewKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var acct Account
	if err := json.Unmarshal(rec, &acct); err != nil {
		return nil, fmt.Errorf("corrupt account view %s: %w", id, err)
	}
	return &acct, nil
}

func putView(ctx context.Context, kv storage.KV, acct *Account) error {
	rec, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshal account view: %w", err)
	}
	return kv.Put(ctx, viewKey(acct.ID), rec)
}

func getOutcome(ctx context.Context, kv storage.KV, id ledger.AccountID, reference string) (PaymentOutcome, error) {
	rec, err := kv.Get(ctx, outcomeKey(id, reference))
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("outcome for reference %q: %w", reference, err)
	}
	var o PaymentOutcome
	if err := json.Unmarshal(rec, &o); err != nil {
		return PaymentOutcome{}, fmt.Errorf("corrupt outcome record: %w", err)
	}
	return o, nil
}

func putOutcome(ctx context.Context, kv storage.KV, o PaymentOutcome) error {
	rec, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	return kv.Put(ctx, outcomeKey(o.AccountID, o.Reference), rec)
}

// auditedView loads the stored view, replays the log, and repairs the
// view when the two disagree. The log always wins.
func (s *Service) auditedView(ctx context.Context, kv storage.KV, id ledger.AccountID) (*Account, error) {
	stored, err := getView(ctx, kv, id)
	if err != nil {
		return nil, err
	}

	txs, err := ledger.NewLog(kv).ListByAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	replayed, err := Rebuild(id, stored.StudentID, stored.Term, stored.CurrentPeriod, s.gating, txs)
	if err != nil {
		return nil, err
	}

	if stored.SameLedgerState(replayed) {
		return stored, nil
	}

	s.log.Warn("account view diverged from ledger replay, repairing",
		zap.String("account_id", string(id)),
		zap.Uint64("view_version", stored.Version),
		zap.Uint64("replay_version", replayed.Version))

	if err := putView(ctx, kv, replayed); err != nil {
		return nil, err
	}
	return replayed, nil
}
