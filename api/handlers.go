/*
handlers.go - HTTP API handlers for the installment ledger

PURPOSE:
  Exposes the ledger to the CRM UI. Handles HTTP request/response and JSON
  serialization, and delegates every rule to ledger.Ledger.

ENDPOINTS:
  Clients:
    GET    /api/clientes/{clienteId}/parcelas   List installments (?divida={id|contrato})
    GET    /api/clientes/{clienteId}/resumo     Billing summary
    POST   /api/clientes/{clienteId}/contrato   Generate the contract plan
    GET    /api/clientes/{clienteId}/dividas    List debts
    POST   /api/clientes/{clienteId}/dividas    Create a debt with its plan

  Debts:
    GET    /api/dividas/{id}                    Debt with its installments
    DELETE /api/dividas/{id}                    Delete debt (cascade)
    GET    /api/dividas/{id}/resumo             Debt summary

  Installments:
    GET    /api/parcelas/{id}                   Installment
    PUT    /api/parcelas/{id}                   Edit terms
    POST   /api/parcelas/{id}/pagamentos        Register payment
    PUT    /api/parcelas/{id}/pagamento         Edit payment
    POST   /api/parcelas/{id}/reabrir           Reopen a paid installment
    GET    /api/parcelas/{id}/historico         Audit history, newest first
    POST   /api/parcelas/{id}/comentarios       Add comment

  History:
    DELETE /api/historico/{entryId}             Delete entry (payments are retracted)

REQUEST FLOW:
  1. Decode JSON body (size-limited)
  2. Validate shape (go-playground/validator)
  3. Call the ledger with the request's Actor
  4. Serialize response
  5. Map ledger errors to HTTP status

ERROR HANDLING:
  - 400: Validation errors, invalid amounts, partial not confirmed
  - 404: Unknown installment, debt or history entry
  - 409: Status conflict, duplicate numero, concurrent modification
  - 422: Debt plan does not add up to its total
  - 503: Installment lock not acquired in time
  - 500: Anything else (logged)

SEE ALSO:
  - dto.go: Request/response data structures
  - identity.go: Actor resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/warp/installment-ledger/ledger"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Ledger
	Store  ledger.TxStore

	validate *validator.Validate
	log      zerolog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler serving l, backed by store.
func NewHandler(l *ledger.Ledger, store ledger.TxStore, log zerolog.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Ledger: l, Store: store, validate: v, log: log}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListInstallments returns a client's installments.
// GET /api/clientes/{clienteId}/parcelas?divida={id|contrato}
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	var filter ledger.InstallmentFilter
	switch divida := r.URL.Query().Get("divida"); divida {
	case "":
	case "contrato":
		filter.ContractOnly = true
	default:
		filter.DividaID = divida
	}

	ps, err := h.Ledger.ListInstallments(r.Context(), chi.URLParam(r, "clienteId"), filter)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list installments", err)
		return
	}
	writeJSON(w, http.StatusOK, toParcelaDTOs(ps))
}

// ClientSummary returns the billing overview of a client.
// GET /api/clientes/{clienteId}/resumo
func (h *Handler) ClientSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Ledger.SummarizeClient(r.Context(), chi.URLParam(r, "clienteId"))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to summarize client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientSummaryDTO(s))
}

// CreateContractPlan generates the original-contract installments.
// POST /api/clientes/{clienteId}/contrato
func (h *Handler) CreateContractPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	ps, err := h.Ledger.CreateContractPlan(r.Context(), chi.URLParam(r, "clienteId"), req.plan(), ActorFrom(r.Context()))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create contract plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toParcelaDTOs(ps))
}

// ListDebts returns a client's debts.
// GET /api/clientes/{clienteId}/dividas
func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Ledger.ListDebts(r.Context(), chi.URLParam(r, "clienteId"))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list debts", err)
		return
	}
	dtos := make([]DividaDTO, len(ds))
	for i, d := range ds {
		dtos[i] = toDividaDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDebt creates a debt and all its installments.
// POST /api/clientes/{clienteId}/dividas
func (h *Handler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	var req CreateDebtRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, ps, err := h.Ledger.CreateDebt(r.Context(), ledger.DebtInput{
		ClienteID: chi.URLParam(r, "clienteId"),
		Titulo:    req.Titulo,
		Descricao: req.Descricao,
		Plan:      req.plan(),
	}, ActorFrom(r.Context()))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create debt", err)
		return
	}
	writeJSON(w, http.StatusCreated, DividaWithParcelasDTO{Divida: toDividaDTO(d), Parcelas: toParcelaDTOs(ps)})
}

// =============================================================================
// DEBT HANDLERS
// =============================================================================

// GetDebt returns a debt with its installments.
// GET /api/dividas/{id}
func (h *Handler) GetDebt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := h.Ledger.GetDebt(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get debt", err)
		return
	}
	ps, err := h.Ledger.ListInstallments(ctx, d.ClienteID, ledger.InstallmentFilter{DividaID: d.ID})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list debt installments", err)
		return
	}
	writeJSON(w, http.StatusOK, DividaWithParcelasDTO{Divida: toDividaDTO(d), Parcelas: toParcelaDTOs(ps)})
}

// DeleteDebt removes a debt with its installments and their history.
// DELETE /api/dividas/{id}
func (h *Handler) DeleteDebt(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteDebt(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context())); err != nil {
		h.writeLedgerError(w, r, "Failed to delete debt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DebtSummary returns the totals of one debt.
// GET /api/dividas/{id}/resumo
func (h *Handler) DebtSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Ledger.SummarizeDebt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to summarize debt", err)
		return
	}
	writeJSON(w, http.StatusOK, DebtSummaryDTO{Divida: toDividaDTO(s.Divida), Resumo: toSummaryDTO(s.Summary)})
}

// =============================================================================
// INSTALLMENT HANDLERS
// =============================================================================

// GetInstallment returns one installment.
// GET /api/parcelas/{id}
func (h *Handler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.GetInstallment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get installment", err)
		return
	}
	writeJSON(w, http.StatusOK, toParcelaDTO(p))
}

// EditTerms changes numero, valor, due date or group label.
// PUT /api/parcelas/{id}
func (h *Handler) EditTerms(w http.ResponseWriter, r *http.Request) {
	var req EditTermsRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Ledger.EditInstallmentTerms(r.Context(), chi.URLParam(r, "id"), ledger.TermsEdit{
		NumeroParcela:  req.NumeroParcela,
		ValorParcela:   req.ValorParcela,
		DataVencimento: req.DataVencimento,
		GrupoDescricao: req.GrupoDescricao,
	}, ActorFrom(r.Context()))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to edit installment", err)
		return
	}
	writeJSON(w, http.StatusOK, toParcelaDTO(p))
}

// RegisterPayment credits a payment.
// POST /api/parcelas/{id}/pagamentos
func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Ledger.RegisterPayment(r.Context(), chi.URLParam(r, "id"), ledger.PaymentInput{
		Amount:         req.Valor,
		Date:           req.DataPagamento,
		Method:         req.Metodo,
		Notes:          req.Observacoes,
		ComprovanteURL: req.ComprovanteURL,
		Partial:        req.Parcial,
	}, ActorFrom(r.Context()))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to register payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toParcelaDTO(p))
}

// EditPayment corrects the current payment.
// PUT /api/parcelas/{id}/pagamento
func (h *Handler) EditPayment(w http.ResponseWriter, r *http.Request) {
	var req EditPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Ledger.EditPayment(r.Context(), chi.URLParam(r, "id"), ledger.PaymentEdit{
		Date:           req.DataPagamento,
		Method:         req.Metodo,
		Amount:         req.ValorPago,
		Notes:          req.Observacoes,
		ComprovanteURL: req.ComprovanteURL,
	}, ActorFrom(r.Context()))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to edit payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toParcelaDTO(p))
}

// ReopenPayment moves a paid installment back to an open status.
// POST /api/parcelas/{id}/reabrir
func (h *Handler) ReopenPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.ReopenPayment(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context()))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to reopen installment", err)
		return
	}
	writeJSON(w, http.StatusOK, toParcelaDTO(p))
}

// History returns the audit entries of an installment, newest first.
// GET /api/parcelas/{id}/historico
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get history", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddComment appends a remark to the history.
// POST /api/parcelas/{id}/comentarios
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.Ledger.AddComment(r.Context(), chi.URLParam(r, "id"), req.Texto, ActorFrom(r.Context()))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to add comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuditEntryDTO(entry))
}

// DeleteAuditEntry removes a history entry, retracting it if it is a payment.
// DELETE /api/historico/{entryId}
func (h *Handler) DeleteAuditEntry(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.DeleteAuditEntry(r.Context(), chi.URLParam(r, "entryId"), ActorFrom(r.Context()))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to delete history entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toParcelaDTO(p))
}

// Healthz reports whether the store answers.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the error response and
// returns false when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps a ledger error to its HTTP status.
func statusFor(err error) int {
	switch {
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrSumMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusServiceUnavailable:
		hlog.FromRequest(r).Warn().Err(err).Msg(message)
	case status >= http.StatusInternalServerError:
		hlog.FromRequest(r).Error().Err(err).Msg(message)
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = map[string]string{ve.Field: ve.Message}
	}
	writeJSON(w, status, resp)
}

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
