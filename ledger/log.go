/*
log.go - Append-only transaction log

PURPOSE:
  The Log is the immutable source of truth for all balance changes on a
  student account. The Account materialized view is a rebuildable cache;
  replaying an account's COMPLETED transactions in sequence order from
  empty state must reproduce it exactly. That replay is the audit and
  crash-recovery mechanism.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no update, no delete. The single sanctioned mutation is
     the PENDING -> COMPLETED/FAILED status resolution.
  2. ORDERED: sequence numbers are per-account, monotonic, assigned by the
     log - never wall-clock, so ordering survives clock skew.
  3. IDEMPOTENT: same reference + same payload = the original transaction
     is returned, no second credit. Same reference + different payload is
     a ReferenceConflict, a hard client error.

KEY SCHEME (over the storage.KV collaborator):
  acct/{account}/tx/{sequence:016d}  transaction record
  acct/{account}/ref/{reference}     reference -> sequence (idempotency)
  acct/{account}/head                last assigned sequence

  Sequence numbers are zero-padded so lexicographic key order is sequence
  order, which is what ListPrefix guarantees.

SEE ALSO:
  - storage/kv.go: the narrow durable-store contract
  - accounts/account.go: the aggregate rebuilt from this log
*/
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/campusworks/bursar-engine/storage"
)

// =============================================================================
// LOG - Append-only transaction log
// =============================================================================

type Log interface {
	// Append adds a transaction, assigning its ID, sequence and timestamp.
	// Returns the stored original plus ErrDuplicateReference when the
	// reference was already applied with an identical payload.
	Append(ctx context.Context, e Entry) (Transaction, error)

	// Resolve moves a PENDING transaction to COMPLETED or FAILED.
	// Any other transition fails with ErrIllegalTransition.
	Resolve(ctx context.Context, accountID AccountID, id TransactionID, to Status) (Transaction, error)

	// ListByAccount returns all transactions for the account in sequence order.
	ListByAccount(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// SumByTypeAndStatus totals transaction amounts matching type and status.
	SumByTypeAndStatus(ctx context.Context, accountID AccountID, t Type, s Status) (Money, error)
}

// KVLog implements Log over the durable-store collaborator. Construct one
// per atomic view when the append must commit together with other writes.
type KVLog struct {
	kv storage.KV

	// Now and NewID are injectable for deterministic tests.
	Now   func() time.Time
	NewID func() TransactionID
}

func NewLog(kv storage.KV) *KVLog {
	return &KVLog{
		kv:    kv,
		Now:   time.Now,
		NewID: func() TransactionID { return TransactionID(uuid.NewString()) },
	}
}

// =============================================================================
// KEY SCHEME
// =============================================================================

func txKey(accountID AccountID, seq uint64) string {
	return fmt.Sprintf("acct/%s/tx/%016d", accountID, seq)
}

func refKey(accountID AccountID, reference string) string {
	return fmt.Sprintf("acct/%s/ref/%s", accountID, reference)
}

func headKey(accountID AccountID) string {
	return fmt.Sprintf("acct/%s/head", accountID)
}

func txPrefix(accountID AccountID) string {
	return fmt.Sprintf("acct/%s/tx/", accountID)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (l *KVLog) Append(ctx context.Context, e Entry) (Transaction, error) {
	if err := validateEntry(e); err != nil {
		return Transaction{}, err
	}

	// Idempotency check: has this reference been applied?
	existing, found, err := l.byReference(ctx, e.AccountID, e.Reference)
	if err != nil {
		return Transaction{}, err
	}
	if found {
		if existing.samePayload(e) {
			return existing, ErrDuplicateReference
		}
		return Transaction{}, &ReferenceConflictError{
			AccountID: e.AccountID,
			Reference: e.Reference,
			Existing:  existing.ID,
		}
	}

	seq, err := l.nextSequence(ctx, e.AccountID)
	if err != nil {
		return Transaction{}, err
	}

	status := e.Status
	if status == "" {
		status = StatusCompleted
	}

	tx := Transaction{
		ID:          l.NewID(),
		AccountID:   e.AccountID,
		StudentID:   e.StudentID,
		Type:        e.Type,
		Amount:      e.Amount,
		Period:      e.Period,
		Description: e.Description,
		Channel:     e.Channel,
		Reference:   e.Reference,
		Status:      status,
		Sequence:    seq,
		CreatedAt:   l.Now().UTC(),
	}

	if err := l.putTx(ctx, tx); err != nil {
		return Transaction{}, err
	}
	if err := l.kv.Put(ctx, refKey(e.AccountID, e.Reference), sequenceRecord(seq)); err != nil {
		return Transaction{}, err
	}
	if err := l.kv.Put(ctx, headKey(e.AccountID), sequenceRecord(seq)); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func (l *KVLog) Resolve(ctx context.Context, accountID AccountID, id TransactionID, to Status) (Transaction, error) {
	txs, err := l.ListByAccount(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	for _, tx := range txs {
		if tx.ID != id {
			continue
		}
		if !tx.Status.CanTransition(to) {
			return Transaction{}, fmt.Errorf("%w: %s -> %s (tx: %s)", ErrIllegalTransition, tx.Status, to, id)
		}
		tx.Status = to
		if err := l.putTx(ctx, tx); err != nil {
			return Transaction{}, err
		}
		return tx, nil
	}
	return Transaction{}, fmt.Errorf("%w: transaction %s", ErrAccountNotFound, id)
}

func (l *KVLog) ListByAccount(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	entries, err := l.kv.ListPrefix(ctx, txPrefix(accountID))
	if err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(entries))
	for _, entry := range entries {
		var tx Transaction
		if err := json.Unmarshal(entry.Value, &tx); err != nil {
			return nil, fmt.Errorf("corrupt transaction record %s: %w", entry.Key, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (l *KVLog) SumByTypeAndStatus(ctx context.Context, accountID AccountID, t Type, s Status) (Money, error) {
	txs, err := l.ListByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	var total Money
	for _, tx := range txs {
		if tx.Type == t && tx.Status == s {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func validateEntry(e Entry) error {
	if e.AccountID == "" {
		return fmt.Errorf("%w: missing account id", ErrAccountNotFound)
	}
	if e.Reference == "" {
		return fmt.Errorf("%w: missing reference", ErrReferenceConflict)
	}
	switch e.Type {
	case TypeAdjustment:
		// Adjustments are signed but must move something.
		if e.Amount.IsZero() {
			return fmt.Errorf("%w: zero adjustment", ErrInvalidAmount)
		}
	case TypeAssessment, TypePayment, TypeFee:
		if !e.Amount.IsPositive() {
			return fmt.Errorf("%w: %s of %s", ErrInvalidAmount, e.Type, e.Amount)
		}
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidAmount, e.Type)
	}
	return nil
}

func (l *KVLog) byReference(ctx context.Context, accountID AccountID, reference string) (Transaction, bool, error) {
	rec, err := l.kv.Get(ctx, refKey(accountID, reference))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}

	seq, err := parseSequence(rec)
	if err != nil {
		return Transaction{}, false, err
	}

	txRec, err := l.kv.Get(ctx, txKey(accountID, seq))
	if err != nil {
		return Transaction{}, false, err
	}
	var tx Transaction
	if err := json.Unmarshal(txRec, &tx); err != nil {
		return Transaction{}, false, fmt.Errorf("corrupt transaction record: %w", err)
	}
	return tx, true, nil
}

func (l *KVLog) nextSequence(ctx context.Context, accountID AccountID) (uint64, error) {
	rec, err := l.kv.Get(ctx, headKey(accountID))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	head, err := parseSequence(rec)
	if err != nil {
		return 0, err
	}
	return head + 1, nil
}

func (l *KVLog) putTx(ctx context.Context, tx Transaction) error {
	rec, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	return l.kv.Put(ctx, txKey(tx.AccountID, tx.Sequence), rec)
}

func sequenceRecord(seq uint64) storage.Record {
	return storage.Record(strconv.FormatUint(seq, 10))
}

func parseSequence(rec storage.Record) (uint64, error) {
	seq, err := strconv.ParseUint(string(rec), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt sequence record %q: %w", rec, err)
	}
	return seq, nil
}
