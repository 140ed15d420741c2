/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Money crosses
  this boundary only as a decimal string with exactly two fraction digits
  ("6500.00"); minor-unit integers never leak to clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Amount strings are parsed (and rejected) in handlers; DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/money.go: ParseMoney / Money.String, the boundary conversion
*/
package api

import (
	"time"

	"github.com/campusworks/bursar-engine/accounts"
	"github.com/campusworks/bursar-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateAccountRequest opens a (student, term) account.
type CreateAccountRequest struct {
	StudentID       string `json:"student_id"`
	Semester        string `json:"semester"`
	AcademicYear    string `json:"academic_year"`
	TotalAssessment string `json:"total_assessment"`
}

// PaymentRequestDTO captures a payment against an account.
type PaymentRequestDTO struct {
	Amount      string `json:"amount"`
	Channel     string `json:"channel"`
	Reference   string `json:"reference"`
	Pending     bool   `json:"pending,omitempty"`
	Description string `json:"description,omitempty"`
}

// ChargeRequestDTO posts a FEE or ADJUSTMENT.
type ChargeRequestDTO struct {
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Period      string `json:"period"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
}

// ResolvePaymentRequest settles a pending payment.
type ResolvePaymentRequest struct {
	Status string `json:"status"`
}

// AdvancePeriodRequest moves the account's active exam window.
type AdvancePeriodRequest struct {
	Period string `json:"period"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID           string `json:"id"`
	StudentID    string `json:"student_id"`
	Semester     string `json:"semester"`
	AcademicYear string `json:"academic_year"`

	TotalAssessment  string `json:"total_assessment"`
	TotalPaid        string `json:"total_paid"`
	RemainingBalance string `json:"remaining_balance"`

	Periods []PeriodDTO `json:"periods"`

	OverpaymentCredit string `json:"overpayment_credit"`
	CurrentPeriod     string `json:"current_period"`
	ExamPermission    string `json:"exam_permission"`
	GradesVisible     bool   `json:"grades_visible"`

	Version   uint64 `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// PeriodDTO is one exam period's standing.
type PeriodDTO struct {
	Period   string `json:"period"`
	Assessed string `json:"assessed"`
	Due      string `json:"due"`
	Status   string `json:"status"`
	CanSit   bool   `json:"can_sit"`
}

// TransactionDTO represents a ledger entry in API responses.
type TransactionDTO struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Period      string `json:"period,omitempty"`
	Description string `json:"description,omitempty"`
	Channel     string `json:"channel,omitempty"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	Sequence    uint64 `json:"sequence"`
	CreatedAt   string `json:"created_at"`
}

// StatementDTO is the account plus its full history. Assessment carries
// the catalog's itemized lines behind the enrollment charges, when the
// institution configured them.
type StatementDTO struct {
	Account      AccountDTO          `json:"account"`
	Assessment   []AssessmentLineDTO `json:"assessment,omitempty"`
	Transactions []TransactionDTO    `json:"transactions"`
}

// AssessmentLineDTO is one line of the standard assessment.
type AssessmentLineDTO struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// PaymentOutcomeDTO is the receipt returned for a captured payment.
type PaymentOutcomeDTO struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	Channel       string `json:"channel"`
	Status        string `json:"status"`

	Tendered string `json:"tendered"`
	Fee      string `json:"fee"`
	Gross    string `json:"gross"`

	Allocations      []AllocationDTO `json:"allocations,omitempty"`
	OverpaymentAdded string          `json:"overpayment_added"`

	RemainingBalance string `json:"remaining_balance"`
	ExamPermission   string `json:"exam_permission"`

	Duplicate bool `json:"duplicate,omitempty"`
}

// AllocationDTO is one period's slice of a payment.
type AllocationDTO struct {
	Period string `json:"period"`
	Amount string `json:"amount"`
	NewDue string `json:"new_due"`
	Status string `json:"status"`
}

// ChannelDTO describes an accepted payment channel.
type ChannelDTO struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	FlatFee     string `json:"flat_fee"`
	PercentFee  string `json:"percent_fee"`
	Description string `json:"description,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(a *accounts.Account) AccountDTO {
	dto := AccountDTO{
		ID:                string(a.ID),
		StudentID:         a.StudentID,
		Semester:          a.Term.Semester,
		AcademicYear:      a.Term.AcademicYear,
		TotalAssessment:   a.TotalAssessment.String(),
		TotalPaid:         a.TotalPaid.String(),
		RemainingBalance:  a.RemainingBalance.String(),
		OverpaymentCredit: a.OverpaymentCredit.String(),
		CurrentPeriod:     string(a.CurrentPeriod),
		ExamPermission:    string(a.ExamPermission),
		GradesVisible:     a.IsGradeVisible(),
		Version:           a.Version,
		CreatedAt:         a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         a.UpdatedAt.Format(time.RFC3339),
	}
	for _, p := range accounts.Periods {
		dto.Periods = append(dto.Periods, PeriodDTO{
			Period:   string(p),
			Assessed: a.PeriodAssessed[p].String(),
			Due:      a.PeriodDue[p].String(),
			Status:   string(a.PeriodStatus[p]),
			CanSit:   a.CanSit(p),
		})
	}
	return dto
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		Type:        string(tx.Type),
		Amount:      tx.Amount.String(),
		Period:      tx.Period,
		Description: tx.Description,
		Channel:     tx.Channel,
		Reference:   tx.Reference,
		Status:      string(tx.Status),
		Sequence:    tx.Sequence,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}

func toOutcomeDTO(o accounts.PaymentOutcome) PaymentOutcomeDTO {
	dto := PaymentOutcomeDTO{
		AccountID:        string(o.AccountID),
		TransactionID:    string(o.TransactionID),
		Reference:        o.Reference,
		Channel:          o.Channel,
		Status:           string(o.Status),
		Tendered:         o.Tendered.String(),
		Fee:              o.Fee.String(),
		Gross:            o.Gross.String(),
		OverpaymentAdded: o.OverpaymentAdded.String(),
		RemainingBalance: o.RemainingBalance.String(),
		ExamPermission:   string(o.ExamPermission),
		Duplicate:        o.Duplicate,
	}
	for _, alloc := range o.Allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{
			Period: string(alloc.Period),
			Amount: alloc.Amount.String(),
			NewDue: alloc.NewDue.String(),
			Status: string(alloc.Status),
		})
	}
	return dto
}

func toChannelDTO(pm accounts.PaymentMethod) ChannelDTO {
	return ChannelDTO{
		Code:        pm.Code,
		Name:        pm.Name,
		FlatFee:     pm.FlatFee.String(),
		PercentFee:  pm.PercentFee.String(),
		Description: pm.Description,
	}
}
