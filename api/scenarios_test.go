/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state on a real SQLite
	store: installments, payments, history entries and summary totals.
	They double as integration tests of the ledger over SQLite.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-ledger/ledger"
	"github.com/warp/installment-ledger/store/sqlite"
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var seq atomic.Int64
	l := ledger.New(store,
		ledger.WithClock(ledger.FixedClock(testNow)),
		ledger.WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	)
	return NewHandler(l, store, zerolog.Nop())
}

func TestScenario_EmDia(t *testing.T) {
	// GIVEN: The em-dia scenario
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "em-dia"))

	// THEN: Four of twelve installments are paid, none overdue
	s, err := h.Ledger.SummarizeClient(ctx, "cli-em-dia")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCounts{Pendente: 8, Pago: 4}, s.Contract.Counts)
	assert.Equal(t, "1800.00", s.Overall.Pago.StringFixed(2))
	assert.Equal(t, "3600.00", s.Overall.Pendente.StringFixed(2))
	assert.True(t, s.Overall.Atrasado.IsZero())
	assert.Empty(t, s.Debts)
}

func TestScenario_Inadimplente(t *testing.T) {
	// GIVEN: The inadimplente scenario
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "inadimplente"))

	// THEN: Overdue amounts include the unpaid part of the partial installment
	s, err := h.Ledger.SummarizeClient(ctx, "cli-inadimplente")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCounts{Pendente: 2, Atrasado: 2, Parcial: 1, Pago: 1}, s.Overall.Counts)
	assert.Equal(t, "1400.00", s.Overall.Pago.StringFixed(2))
	assert.Equal(t, "2600.00", s.Overall.Atrasado.StringFixed(2))
	assert.Equal(t, "2000.00", s.Overall.Pendente.StringFixed(2))

	// AND: The third installment carries the collection comment
	ps, err := h.Ledger.ListInstallments(ctx, "cli-inadimplente", ledger.InstallmentFilter{ContractOnly: true})
	require.NoError(t, err)
	require.Len(t, ps, 6)
	history, err := h.Ledger.History(ctx, ps[2].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.KindComentario, history[0].Kind)
	assert.Equal(t, "demo", history[0].AuthorID)
}

func TestScenario_Renegociacao(t *testing.T) {
	// GIVEN: The renegociacao scenario
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "renegociacao"))

	// THEN: The debt has a paid down-payment followed by two labelled groups
	debts, err := h.Ledger.ListDebts(ctx, "cli-renegociacao")
	require.NoError(t, err)
	require.Len(t, debts, 1)
	ps, err := h.Ledger.ListInstallments(ctx, "cli-renegociacao", ledger.InstallmentFilter{DividaID: debts[0].ID})
	require.NoError(t, err)
	require.Len(t, ps, 9)

	labels := make([]string, len(ps))
	for i, p := range ps {
		labels[i] = p.GrupoDescricao
	}
	assert.Equal(t, []string{"Entrada",
		"Curto prazo", "Curto prazo", "Curto prazo", "Curto prazo",
		"Grupo 2", "Grupo 2", "Grupo 2", "Grupo 2"}, labels)

	entrada := ps[0]
	assert.Equal(t, ledger.StatusPago, entrada.Status)
	assert.Equal(t, "pix", entrada.MetodoPagamento)
	history, err := h.Ledger.History(ctx, entrada.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ledger.KindEdicaoPagamento, history[0].Kind)
	assert.Equal(t, ledger.KindPagamento, history[1].Kind)

	// AND: The retracted payment left only its exclusao entry
	assert.Equal(t, ledger.StatusPendente, ps[1].Status)
	assert.False(t, ps[1].ValorPago.Valid)
	history, err = h.Ledger.History(ctx, ps[1].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.KindExclusao, history[0].Kind)
	assert.Equal(t, "100.00", history[0].Event.Amount.Decimal.StringFixed(2))

	// AND: Contract arrears are untouched by the debt
	s, err := h.Ledger.SummarizeClient(ctx, "cli-renegociacao")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCounts{Pendente: 4, Atrasado: 4, Pago: 2}, s.Contract.Counts)
	assert.Equal(t, "1200.00", s.Contract.Atrasado.StringFixed(2))
}

func TestScenario_ReloadClearsPreviousData(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "em-dia"))
	require.NoError(t, h.LoadScenarioByID(ctx, "inadimplente"))

	ps, err := h.Ledger.ListInstallments(ctx, "cli-em-dia", ledger.InstallmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, ps)

	err = h.LoadScenarioByID(ctx, "nope")
	assert.ErrorIs(t, err, errUnknownScenario)
}

func TestAPI_Scenarios(t *testing.T) {
	srv := newTestServer(t, RouterConfig{DemoScenarios: true})

	rec := srv.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))

	rec = srv.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "unknown"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			rec := srv.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": s.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = srv.do(http.MethodGet, "/api/scenarios/current", nil)
			assert.Equal(t, s.ID, decodeBody[ScenarioDTO](t, rec).ID)

			rec = srv.do(http.MethodGet, "/api/clientes/cli-"+s.ID+"/parcelas", nil)
			assert.NotEmpty(t, decodeBody[[]ParcelaDTO](t, rec))
		})
	}
}

func TestAPI_ScenariosNotMountedWithoutDemo(t *testing.T) {
	// GIVEN: A production router without demo scenarios
	srv := newTestServer(t, RouterConfig{Production: true})

	// WHEN: A client tries to load a scenario
	rec := srv.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "em-dia"},
		"X-Forwarded-Proto", "https")

	// THEN: The route does not exist and nothing was loaded
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = srv.do(http.MethodGet, "/api/clientes/cli-em-dia/parcelas", nil, "X-Forwarded-Proto", "https")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]ParcelaDTO](t, rec))
}
