/*
handlers.go - HTTP API handlers for the bursar engine

PURPOSE:
  Exposes the student accounts engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the account
  service. Amounts arrive and leave as decimal strings ("6500.00").

ENDPOINTS:
  Accounts:
    POST   /api/accounts                    Create account + assessment
    GET    /api/accounts/{id}               Account snapshot
    GET    /api/accounts/{id}/statement     Snapshot + full history
    POST   /api/accounts/{id}/payments      Capture a payment
    POST   /api/accounts/{id}/payments/{txID}/resolve  Settle a pending payment
    GET    /api/students/{studentID}/accounts          Lookup by student + term

  Channels:
    GET    /api/channels                    Accepted payment channels

  Admin:
    POST   /api/admin/accounts/{id}/charges Post FEE/ADJUSTMENT
    POST   /api/admin/accounts/{id}/period  Advance the exam period

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid amounts, unknown channels
  - 404: Account not found
  - 409: Reference conflict, account already exists, illegal transition
  - 503: Account busy or store unavailable (nothing applied; retry)
  - 500: Everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - accounts/service.go: The service these handlers delegate to
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campusworks/bursar-engine/accounts"
	"github.com/campusworks/bursar-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *accounts.Service
}

func NewHandler(svc *accounts.Service) *Handler {
	return &Handler{Service: svc}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount opens an account and posts the enrollment assessment.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.StudentID == "" || req.Semester == "" || req.AcademicYear == "" {
		writeError(w, http.StatusBadRequest, "student_id, semester and academic_year are required", nil)
		return
	}

	// An omitted total falls back to the catalog's assessment template.
	var total ledger.Money
	if req.TotalAssessment != "" {
		parsed, err := ledger.ParseMoney(req.TotalAssessment)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid total_assessment", err)
			return
		}
		total = parsed
	}

	term := accounts.Term{Semester: req.Semester, AcademicYear: req.AcademicYear}
	acct, err := h.Service.CreateAccount(r.Context(), req.StudentID, term, total)
	if errors.Is(err, ledger.ErrAccountExists) {
		// The existing account is returned so a retried enrollment is safe.
		writeJSON(w, http.StatusConflict, toAccountDTO(acct))
		return
	}
	if err != nil {
		writeServiceError(w, "Failed to create account", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// GetAccount returns the account snapshot.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Service.GetAccount(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// GetStatement returns the account plus its full transaction history.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	st, err := h.Service.GetStatement(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Failed to get statement", err)
		return
	}

	dto := StatementDTO{Account: toAccountDTO(st.Account)}
	for _, item := range st.Assessment {
		dto.Assessment = append(dto.Assessment, AssessmentLineDTO{
			Description: item.Description,
			Amount:      item.Amount.String(),
		})
	}
	dto.Transactions = make([]TransactionDTO, len(st.Transactions))
	for i, tx := range st.Transactions {
		dto.Transactions[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dto)
}

// FindAccount looks up the account for a student in a given term.
// GET /api/students/{studentID}/accounts?semester=...&academic_year=...
func (h *Handler) FindAccount(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	term := accounts.Term{
		Semester:     r.URL.Query().Get("semester"),
		AcademicYear: r.URL.Query().Get("academic_year"),
	}
	if term.Semester == "" || term.AcademicYear == "" {
		writeError(w, http.StatusBadRequest, "semester and academic_year query parameters are required", nil)
		return
	}

	acct, err := h.Service.FindAccount(r.Context(), studentID, term)
	if err != nil {
		writeServiceError(w, "Failed to find account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// SubmitPayment captures a payment through a channel.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req PaymentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reference == "" {
		writeError(w, http.StatusBadRequest, "reference is required", nil)
		return
	}

	amount, err := ledger.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	outcome, err := h.Service.ApplyPayment(r.Context(), id, accounts.PaymentRequest{
		Tendered:    amount,
		Channel:     req.Channel,
		Reference:   req.Reference,
		Pending:     req.Pending,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, "Failed to capture payment", err)
		return
	}

	status := http.StatusCreated
	if outcome.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, toOutcomeDTO(outcome))
}

// ResolvePayment settles a pending payment as COMPLETED or FAILED.
func (h *Handler) ResolvePayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	txID := ledger.TransactionID(chi.URLParam(r, "txID"))

	var req ResolvePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	to := ledger.Status(req.Status)
	if to != ledger.StatusCompleted && to != ledger.StatusFailed {
		writeError(w, http.StatusBadRequest, "status must be COMPLETED or FAILED", nil)
		return
	}

	outcome, err := h.Service.ResolvePayment(r.Context(), id, txID, to)
	if err != nil {
		writeServiceError(w, "Failed to resolve payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(outcome))
}

// =============================================================================
// CHANNEL HANDLERS
// =============================================================================

// ListChannels returns the accepted payment channels.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	methods := h.Service.Catalog().All()
	dtos := make([]ChannelDTO, len(methods))
	for i, pm := range methods {
		dtos[i] = toChannelDTO(pm)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateCharge posts a FEE or ADJUSTMENT against an account.
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req ChargeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reference == "" {
		writeError(w, http.StatusBadRequest, "reference is required", nil)
		return
	}

	period, err := accounts.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	amount, err := ledger.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	acct, err := h.Service.ApplyCharge(r.Context(), id, accounts.ChargeRequest{
		Type:        ledger.Type(req.Type),
		Amount:      amount,
		Period:      period,
		Description: req.Description,
		Reference:   req.Reference,
	})
	if err != nil {
		writeServiceError(w, "Failed to apply charge", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// AdvancePeriod moves the account's active exam window.
func (h *Handler) AdvancePeriod(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req AdvancePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, err := accounts.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	acct, err := h.Service.AdvancePeriod(r.Context(), id, period)
	if err != nil {
		writeServiceError(w, "Failed to advance period", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps the service error taxonomy to HTTP status codes.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrReferenceConflict),
		errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, ledger.ErrIllegalTransition):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
