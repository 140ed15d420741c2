package accounts_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusworks/bursar-engine/accounts"
	"github.com/campusworks/bursar-engine/ledger"
	"github.com/campusworks/bursar-engine/storage"
	"github.com/campusworks/bursar-engine/storage/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*accounts.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := accounts.NewService(store,
		accounts.NewCatalog(accounts.DefaultChannels()...),
		accounts.NewScheduleTable(decimal.NewFromInt(33)),
		zap.NewNop())

	var n int
	svc.NewAccountID = func() ledger.AccountID {
		n++
		return ledger.AccountID(fmt.Sprintf("acct-%d", n))
	}
	return svc, store
}

func createStandardAccount(t *testing.T, svc *accounts.Service) *accounts.Account {
	t.Helper()
	acct, err := svc.CreateAccount(context.Background(), "2021-00123", testTerm, m("45000.00"))
	require.NoError(t, err)
	return acct
}

// =============================================================================
// ACCOUNT CREATION
// =============================================================================

func TestService_CreateAccount_PostsSplitAssessment(t *testing.T) {
	// GIVEN: a fresh enrollment for 45000.00 under the 33% schedule
	// WHEN: the account is created
	// THEN: three ASSESSMENT transactions, per-period dues 14850/15075/15075,
	//       everything UNPAID and the gate closed

	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)

	assert.Equal(t, m("45000.00"), acct.TotalAssessment)
	assert.Equal(t, m("45000.00"), acct.RemainingBalance)
	assert.Equal(t, m("14850.00"), acct.PeriodDue[accounts.PeriodPrelim])
	assert.Equal(t, m("15075.00"), acct.PeriodDue[accounts.PeriodMidterm])
	assert.Equal(t, m("15075.00"), acct.PeriodDue[accounts.PeriodFinal])
	assert.Equal(t, accounts.NotPermitted, acct.ExamPermission)
	assert.Equal(t, accounts.PeriodPrelim, acct.CurrentPeriod)

	st, err := svc.GetStatement(context.Background(), acct.ID)
	require.NoError(t, err)
	require.Len(t, st.Transactions, 3)
	for _, tx := range st.Transactions {
		assert.Equal(t, ledger.TypeAssessment, tx.Type)
		assert.Equal(t, ledger.StatusCompleted, tx.Status)
	}
}

func TestService_CreateAccount_SecondCreateReturnsExisting(t *testing.T) {
	// One account per (student, term). A retried enrollment gets the
	// existing account back, not a second assessment.

	svc, _ := newTestService(t)
	first := createStandardAccount(t, svc)

	again, err := svc.CreateAccount(context.Background(), "2021-00123", testTerm, m("45000.00"))
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, m("45000.00"), again.TotalAssessment, "no double billing")
}

func TestService_FindAccount_ByStudentAndTerm(t *testing.T) {
	svc, _ := newTestService(t)
	created := createStandardAccount(t, svc)

	found, err := svc.FindAccount(context.Background(), "2021-00123", testTerm)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = svc.FindAccount(context.Background(), "2021-00123",
		accounts.Term{Semester: "SECOND SEMESTER", AcademicYear: "2025-2026"})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

// =============================================================================
// PAYMENT CAPTURE
// =============================================================================

func TestService_ApplyPayment_OpensPrelimGate(t *testing.T) {
	// GIVEN: the standard account in the prelim window
	// WHEN: exactly the prelim due is paid through a free channel
	// THEN: prelim is PAID, the gate opens, grades become visible

	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)

	outcome, err := svc.ApplyPayment(context.Background(), acct.ID, accounts.PaymentRequest{
		Tendered:  m("14850.00"),
		Channel:   "UNIONBANK",
		Reference: "or-001",
	})
	require.NoError(t, err)

	assert.True(t, outcome.Fee.IsZero())
	assert.Equal(t, m("14850.00"), outcome.Gross)
	require.Len(t, outcome.Allocations, 1)
	assert.Equal(t, accounts.StatusPaid, outcome.Allocations[0].Status)
	assert.Equal(t, accounts.Permitted, outcome.ExamPermission)
	assert.Equal(t, m("30150.00"), outcome.RemainingBalance)

	after, err := svc.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.True(t, after.IsGradeVisible())
	assert.True(t, after.CanSit(accounts.PeriodPrelim))
}

func TestService_ApplyPayment_ChannelFeeAddsToGross(t *testing.T) {
	// GIVEN: Dragonpay (25.00 + 2%)
	// WHEN: 5000.00 is tendered
	// THEN: the ledger records the 5125.00 gross and allocation uses it

	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)

	outcome, err := svc.ApplyPayment(context.Background(), acct.ID, accounts.PaymentRequest{
		Tendered:  m("5000.00"),
		Channel:   "DRAGONPAY",
		Reference: "dp-001",
	})
	require.NoError(t, err)

	assert.Equal(t, m("125.00"), outcome.Fee)
	assert.Equal(t, m("5125.00"), outcome.Gross)
	require.Len(t, outcome.Allocations, 1)
	assert.Equal(t, m("5125.00"), outcome.Allocations[0].Amount)

	st, err := svc.GetStatement(context.Background(), acct.ID)
	require.NoError(t, err)
	last := st.Transactions[len(st.Transactions)-1]
	assert.Equal(t, ledger.TypePayment, last.Type)
	assert.Equal(t, m("5125.00"), last.Amount)
	assert.Equal(t, "DRAGONPAY", last.Channel)
}

func TestService_ApplyPayment_UnknownChannelRejected(t *testing.T) {
	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)

	_, err := svc.ApplyPayment(context.Background(), acct.ID, accounts.PaymentRequest{
		Tendered: m("100.00"), Channel: "GCASH", Reference: "x-1",
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestService_ApplyPayment_RetryReturnsOriginalOutcome(t *testing.T) {
	// GIVEN: a captured payment with reference "or-001"
	// WHEN: the identical request is retried
	// THEN: the stored outcome comes back (Duplicate set) and balances
	//       are exactly as after the first capture

	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)
	ctx := context.Background()

	req := accounts.PaymentRequest{Tendered: m("14850.00"), Channel: "UNIONBANK", Reference: "or-001"}

	first, err := svc.ApplyPayment(ctx, acct.ID, req)
	require.NoError(t, err)

	retry, err := svc.ApplyPayment(ctx, acct.ID, req)
	require.NoError(t, err)

	assert.True(t, retry.Duplicate)
	assert.Equal(t, first.TransactionID, retry.TransactionID)
	assert.Equal(t, first.Gross, retry.Gross)
	assert.Equal(t, first.Allocations, retry.Allocations)
	assert.Equal(t, first.RemainingBalance, retry.RemainingBalance)

	after, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, m("14850.00"), after.TotalPaid, "no double credit")
}

func TestService_ApplyPayment_ReferenceConflictIsHardError(t *testing.T) {
	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)
	ctx := context.Background()

	_, err := svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
		Tendered: m("14850.00"), Channel: "UNIONBANK", Reference: "or-001",
	})
	require.NoError(t, err)

	_, err = svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
		Tendered: m("500.00"), Channel: "UNIONBANK", Reference: "or-001",
	})
	assert.ErrorIs(t, err, ledger.ErrReferenceConflict)

	after, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, m("14850.00"), after.TotalPaid, "conflicting request left no trace")
}

// =============================================================================
// PENDING PAYMENTS
// =============================================================================

func TestService_PendingPayment_ResolvesToCompleted(t *testing.T) {
	// GIVEN: an asynchronous channel records the payment PENDING
	// WHEN: the channel later confirms
	// THEN: only then does the balance move and the gate open

	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)
	ctx := context.Background()

	pending, err := svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
		Tendered: m("14850.00"), Channel: "UNIONBANK", Reference: "dp-001", Pending: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, pending.Status)
	assert.Empty(t, pending.Allocations)

	mid, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(0), mid.TotalPaid)
	assert.Equal(t, accounts.NotPermitted, mid.ExamPermission)

	resolved, err := svc.ResolvePayment(ctx, acct.ID, pending.TransactionID, ledger.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, resolved.Status)
	require.Len(t, resolved.Allocations, 1)

	after, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, m("14850.00"), after.TotalPaid)
	assert.Equal(t, accounts.Permitted, after.ExamPermission)
}

func TestService_PendingPayment_FailedLeavesBalancesUntouched(t *testing.T) {
	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)
	ctx := context.Background()

	pending, err := svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
		Tendered: m("5000.00"), Channel: "DRAGONPAY", Reference: "dp-001", Pending: true,
	})
	require.NoError(t, err)

	_, err = svc.ResolvePayment(ctx, acct.ID, pending.TransactionID, ledger.StatusFailed)
	require.NoError(t, err)

	after, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(0), after.TotalPaid)
	assert.Equal(t, m("45000.00"), after.RemainingBalance)
}

// =============================================================================
// CHARGES AND PERIOD ADMINISTRATION
// =============================================================================

func TestService_ApplyCharge_FeeClosesGateAgain(t *testing.T) {
	// Scenario: prelim paid, gate open; a lab fee lands on prelim and
	// the gate closes until the fee is settled.

	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)
	ctx := context.Background()

	_, err := svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
		Tendered: m("14850.00"), Channel: "UNIONBANK", Reference: "or-001",
	})
	require.NoError(t, err)

	after, err := svc.ApplyCharge(ctx, acct.ID, accounts.ChargeRequest{
		Type: ledger.TypeFee, Amount: m("350.00"), Period: accounts.PeriodPrelim,
		Description: "Lab breakage", Reference: "fee-001",
	})
	require.NoError(t, err)

	assert.Equal(t, accounts.StatusPartial, after.PeriodStatus[accounts.PeriodPrelim])
	assert.Equal(t, accounts.NotPermitted, after.ExamPermission)
	assert.Equal(t, m("350.00"), after.PeriodDue[accounts.PeriodPrelim])

	// Settle the fee; the gate opens again.
	out, err := svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
		Tendered: m("350.00"), Channel: "UNIONBANK", Reference: "or-002",
	})
	require.NoError(t, err)
	assert.Equal(t, accounts.Permitted, out.ExamPermission)
}

func TestService_ApplyCharge_RejectsNonChargeTypes(t *testing.T) {
	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)

	_, err := svc.ApplyCharge(context.Background(), acct.ID, accounts.ChargeRequest{
		Type: ledger.TypePayment, Amount: m("100.00"), Period: accounts.PeriodPrelim, Reference: "x",
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestService_AdvancePeriod_MovesTheGate(t *testing.T) {
	// Scenario: prelim paid. Grades visible in the prelim window, hidden
	// again once the registrar advances to midterm.

	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)
	ctx := context.Background()

	_, err := svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
		Tendered: m("14850.00"), Channel: "UNIONBANK", Reference: "or-001",
	})
	require.NoError(t, err)

	prelim, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, prelim.IsGradeVisible())

	midterm, err := svc.AdvancePeriod(ctx, acct.ID, accounts.PeriodMidterm)
	require.NoError(t, err)
	assert.False(t, midterm.IsGradeVisible())
	assert.Equal(t, accounts.NotPermitted, midterm.ExamPermission)
	assert.Equal(t, m("15075.00"), midterm.CurrentPeriodDue())
}

// =============================================================================
// END-TO-END: A TERM IN THE LIFE OF ONE ACCOUNT
// =============================================================================

func TestService_TermLifecycle(t *testing.T) {
	// 45000.00 assessed. A 5000.00 Dragonpay payment (captured 5125.00)
	// leaves prelim at 9725.00 PARTIAL; paying that off opens the gate and
	// shows grades; retrying the second payment changes nothing.

	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)
	ctx := context.Background()

	require.Equal(t, m("14850.00"), acct.PeriodDue[accounts.PeriodPrelim])

	first, err := svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
		Tendered: m("5000.00"), Channel: "DRAGONPAY", Reference: "ref1",
	})
	require.NoError(t, err)
	require.Equal(t, m("5125.00"), first.Gross)
	require.Len(t, first.Allocations, 1)
	assert.Equal(t, m("9725.00"), first.Allocations[0].NewDue)
	assert.Equal(t, accounts.StatusPartial, first.Allocations[0].Status)
	assert.Equal(t, accounts.NotPermitted, first.ExamPermission)

	second, err := svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
		Tendered: m("9725.00"), Channel: "UNIONBANK", Reference: "ref2",
	})
	require.NoError(t, err)
	assert.Equal(t, accounts.Permitted, second.ExamPermission)

	afterB, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, afterB.IsGradeVisible())
	paidSoFar := afterB.TotalPaid

	// Retry of ref2: identical request, identical state afterwards.
	retry, err := svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
		Tendered: m("9725.00"), Channel: "UNIONBANK", Reference: "ref2",
	})
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)

	afterC, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, paidSoFar, afterC.TotalPaid)
	assert.True(t, afterB.SameLedgerState(afterC))
}

// =============================================================================
// ASSESSMENT TEMPLATE
// =============================================================================

func TestService_AssessmentTemplate_BacksEnrollmentAndStatement(t *testing.T) {
	// GIVEN: a catalog template itemizing the standard 45000.00 assessment
	// WHEN: an enrollment names no amount
	// THEN: the template total is assessed, and statements carry the lines

	template := accounts.AssessmentTemplate{Items: []accounts.AssessmentItem{
		{Description: "Tuition (21 units)", Amount: m("31500.00")},
		{Description: "Laboratory fees", Amount: m("6500.00")},
		{Description: "Miscellaneous fees", Amount: m("7000.00")},
	}}
	svc := accounts.NewService(memory.New(),
		accounts.NewCatalog(accounts.DefaultChannels()...),
		accounts.NewScheduleTable(decimal.NewFromInt(33)),
		zap.NewNop(),
		accounts.WithAssessmentTemplate(template))
	ctx := context.Background()

	acct, err := svc.CreateAccount(ctx, "2021-00123", testTerm, 0)
	require.NoError(t, err)
	assert.Equal(t, m("45000.00"), acct.TotalAssessment)
	assert.Equal(t, m("14850.00"), acct.PeriodDue[accounts.PeriodPrelim])

	st, err := svc.GetStatement(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, st.Assessment, 3)
	assert.Equal(t, "Tuition (21 units)", st.Assessment[0].Description)
	assert.Equal(t, m("31500.00"), st.Assessment[0].Amount)

	// An explicit amount still wins over the template.
	other, err := svc.CreateAccount(ctx, "2021-00456", testTerm, m("12000.00"))
	require.NoError(t, err)
	assert.Equal(t, m("12000.00"), other.TotalAssessment)
}

// =============================================================================
// SELF-AUDIT AND REPAIR
// =============================================================================

func TestService_GetAccount_RepairsDivergedView(t *testing.T) {
	// GIVEN: a view record corrupted behind the service's back (a crash
	//        between ledger append and view write looks the same)
	// WHEN: the account is read
	// THEN: the replayed state wins and the stored view is repaired

	svc, store := newTestService(t)
	acct := createStandardAccount(t, svc)
	ctx := context.Background()

	// Sabotage: zero out totals in the stored view.
	stale := *acct
	stale.TotalAssessment = 0
	stale.RemainingBalance = 0
	rec, err := json.Marshal(&stale)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "view/"+string(acct.ID), rec))

	repaired, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, m("45000.00"), repaired.TotalAssessment)
	assert.Equal(t, m("45000.00"), repaired.RemainingBalance)

	// The repair was persisted, not just computed.
	raw, err := store.Get(ctx, "view/"+string(acct.ID))
	require.NoError(t, err)
	var persisted accounts.Account
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, m("45000.00"), persisted.TotalAssessment)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestService_ApplyPayment_ConcurrentPaymentsSerialize(t *testing.T) {
	// Ten goroutines pay 1000.00 each with distinct references; the
	// per-account write slot must serialize them into exactly ten
	// transactions totalling 10000.00.

	svc, _ := newTestService(t)
	acct := createStandardAccount(t, svc)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApplyPayment(ctx, acct.ID, accounts.PaymentRequest{
				Tendered:  m("1000.00"),
				Channel:   "UNIONBANK",
				Reference: fmt.Sprintf("or-%03d", i),
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "payment %d", i)
	}

	after, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, m("10000.00"), after.TotalPaid)

	st, err := svc.GetStatement(ctx, acct.ID)
	require.NoError(t, err)
	payments := 0
	seen := map[uint64]bool{}
	for _, tx := range st.Transactions {
		assert.False(t, seen[tx.Sequence], "duplicate sequence %d", tx.Sequence)
		seen[tx.Sequence] = true
		if tx.Type == ledger.TypePayment {
			payments++
		}
	}
	assert.Equal(t, 10, payments)
}

// Compile-time check that the memory store satisfies the service's
// collaborator contract.
var _ storage.AtomicKV = (*memory.Store)(nil)
