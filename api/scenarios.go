/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the store with realistic billing data for demos of the CRM
	financial tab. Every scenario goes through the ledger, so the audit
	history looks exactly like one produced by real users.

AVAILABLE SCENARIOS:

	em-dia:        Contract paid up to the current month
	inadimplente:  Overdue installments, one partial payment, a comment
	renegociacao:  Contract plus a renegotiation debt with down-payment,
	               a retracted payment and an edited payment

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create the contract plan and debts, dated relative to today
 3. Register payments, retractions and comments as a demo user

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "renegociacao"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/installment-ledger/ledger"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "em-dia",
		Name:        "Cliente em dia",
		Description: "12 parcelas de contrato, pagas até o mês corrente",
	},
	{
		ID:          "inadimplente",
		Name:        "Cliente inadimplente",
		Description: "Parcelas vencidas, um pagamento parcial e um comentário de cobrança",
	},
	{
		ID:          "renegociacao",
		Name:        "Renegociação",
		Description: "Contrato e uma dívida com entrada e grupos, com pagamento excluído e editado",
	},
}

var demoActor = ledger.Actor{ID: "demo", Name: "Demonstração"}

// ErrResetUnsupported is returned when the store cannot be cleared.
var ErrResetUnsupported = errors.New("store does not support reset")

type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		h.writeLedgerError(w, r, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

var errUnknownScenario = errors.New("unknown scenario")

// LoadScenarioByID resets the store and runs the named loader. Callers
// serialize calls; the HTTP handler holds h.mu.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "em-dia":
		load = h.loadEmDiaScenario
	case "inadimplente":
		load = h.loadInadimplenteScenario
	case "renegociacao":
		load = h.loadRenegociacaoScenario
	default:
		return fmt.Errorf("%w: %s", errUnknownScenario, id)
	}

	rs, ok := h.Store.(resetter)
	if !ok {
		return ErrResetUnsupported
	}
	if err := rs.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	h.currentScenario = id
	h.log.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadEmDiaScenario(ctx context.Context) error {
	today := h.Ledger.Today()
	ps, err := h.Ledger.CreateContractPlan(ctx, "cli-em-dia", ledger.Plan{
		ValorTotal:     decimal.NewFromInt(5400),
		NumeroParcelas: 12,
		DataInicio:     today.AddMonths(-3),
	}, demoActor)
	if err != nil {
		return err
	}
	// the installment due this month is paid too
	for _, p := range ps[:4] {
		if err := h.pay(ctx, p, p.ValorParcela, "pix", false); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadInadimplenteScenario(ctx context.Context) error {
	today := h.Ledger.Today()
	ps, err := h.Ledger.CreateContractPlan(ctx, "cli-inadimplente", ledger.Plan{
		ValorTotal:     decimal.NewFromInt(6000),
		NumeroParcelas: 6,
		DataInicio:     today.AddMonths(-4),
	}, demoActor)
	if err != nil {
		return err
	}
	if err := h.pay(ctx, ps[0], ps[0].ValorParcela, "boleto", false); err != nil {
		return err
	}
	if err := h.pay(ctx, ps[1], decimal.NewFromInt(400), "pix", true); err != nil {
		return err
	}
	_, err = h.Ledger.AddComment(ctx, ps[2].ID, "Cliente informou que regulariza até o fim do mês.", demoActor)
	return err
}

func (h *Handler) loadRenegociacaoScenario(ctx context.Context) error {
	today := h.Ledger.Today()
	contract, err := h.Ledger.CreateContractPlan(ctx, "cli-renegociacao", ledger.Plan{
		ValorTotal:     decimal.NewFromInt(3000),
		NumeroParcelas: 10,
		DataInicio:     today.AddMonths(-6),
	}, demoActor)
	if err != nil {
		return err
	}
	for _, p := range contract[:2] {
		if err := h.pay(ctx, p, p.ValorParcela, "cartao", false); err != nil {
			return err
		}
	}

	_, rows, err := h.Ledger.CreateDebt(ctx, ledger.DebtInput{
		ClienteID: "cli-renegociacao",
		Titulo:    "Acordo de renegociação",
		Descricao: "Parcelas 3 a 10 do contrato renegociadas",
		Plan: ledger.Plan{
			ValorTotal: decimal.NewFromInt(2400),
			DataInicio: today,
			Entrada:    decimal.NewNullDecimal(decimal.NewFromInt(400)),
			Grupos: []ledger.GrupoParcelas{
				{Quantidade: 4, ValorParcela: decimal.NewFromInt(250), Descricao: "Curto prazo"},
				{Quantidade: 4, ValorParcela: decimal.NewFromInt(250)},
			},
		},
	}, demoActor)
	if err != nil {
		return err
	}

	entrada := rows[0]
	if err := h.pay(ctx, entrada, entrada.ValorParcela, "dinheiro", false); err != nil {
		return err
	}
	method := "pix"
	if _, err := h.Ledger.EditPayment(ctx, entrada.ID, ledger.PaymentEdit{Method: &method}, demoActor); err != nil {
		return err
	}

	// A payment registered by mistake and then removed from the history.
	if err := h.pay(ctx, rows[1], decimal.NewFromInt(100), "pix", true); err != nil {
		return err
	}
	history, err := h.Ledger.History(ctx, rows[1].ID)
	if err != nil {
		return err
	}
	for _, e := range history {
		if e.Kind.IsPayment() {
			_, err = h.Ledger.DeleteAuditEntry(ctx, e.ID, demoActor)
			return err
		}
	}
	return nil
}

func (h *Handler) pay(ctx context.Context, p ledger.Parcela, amount decimal.Decimal, method string, partial bool) error {
	date := p.DataVencimento
	if today := h.Ledger.Today(); date.After(today) {
		date = today
	}
	_, err := h.Ledger.RegisterPayment(ctx, p.ID, ledger.PaymentInput{
		Amount:  amount,
		Date:    date,
		Method:  method,
		Partial: partial,
	}, demoActor)
	return err
}
