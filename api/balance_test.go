/*
balance_test.go - Tests for the summary (resumo) endpoints

CORE DESIGN:
- Totals are recomputed from the current installments on every read
- Statuses are derived for today before aggregating, so a stored pendente
  past its due date counts as atrasado
- The unpaid part of an overdue partial installment counts as atrasado
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSummary_ContractAndDebts(t *testing.T) {
	// GIVEN: A contract of 3x300 from Apr 10 and an overdue debt of 2x150
	srv := newTestServer(t, RouterConfig{})
	parcelas := srv.seedContract("cli-1")
	rec := srv.do(http.MethodPost, "/api/clientes/cli-1/dividas", map[string]any{
		"titulo":         "Honorários extras",
		"valorTotal":     "300",
		"numeroParcelas": 2,
		"dataInicio":     "2025-02-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	debt := decodeBody[DividaWithParcelasDTO](t, rec)

	// WHEN: The first contract installment is paid and the first debt
	// installment partially paid
	rec = srv.do(http.MethodPost, "/api/parcelas/"+parcelas[0].ID+"/pagamentos", map[string]any{"valor": "300"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = srv.do(http.MethodPost, "/api/parcelas/"+debt.Parcelas[0].ID+"/pagamentos", map[string]any{"valor": "50", "parcial": true})
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: Contract, debt and overall totals are split by due date
	rec = srv.do(http.MethodGet, "/api/clientes/cli-1/resumo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s := decodeBody[ClientSummaryDTO](t, rec)

	assert.Equal(t, "900.00", s.Contrato.Total)
	assert.Equal(t, "300.00", s.Contrato.Pago)
	assert.Equal(t, "600.00", s.Contrato.Pendente)
	assert.Equal(t, "0.00", s.Contrato.Atrasado)
	require.NotNil(t, s.Contrato.NextDue)
	assert.Equal(t, parcelas[1].ID, s.Contrato.NextDue.ID)

	require.Len(t, s.Dividas, 1)
	d := s.Dividas[0].Resumo
	assert.Equal(t, "300.00", d.Total)
	assert.Equal(t, "50.00", d.Pago)
	assert.Equal(t, "250.00", d.Atrasado, "100 left on Feb 1 plus 150 due Mar 1")
	assert.Equal(t, 1, d.Counts["parcial"])
	assert.Equal(t, 1, d.Counts["atrasado"])

	assert.Equal(t, "1200.00", s.Geral.Total)
	assert.Equal(t, "350.00", s.Geral.Pago)
	assert.Equal(t, "600.00", s.Geral.Pendente)
	assert.Equal(t, "250.00", s.Geral.Atrasado)
	require.NotNil(t, s.Geral.NextDue)
	assert.Equal(t, debt.Parcelas[0].ID, s.Geral.NextDue.ID, "earliest unsettled installment")
}

func TestClientSummary_UnknownClientIsEmpty(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})

	rec := srv.do(http.MethodGet, "/api/clientes/nobody/resumo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s := decodeBody[ClientSummaryDTO](t, rec)
	assert.Equal(t, "0.00", s.Geral.Total)
	assert.Nil(t, s.Geral.NextDue)
	assert.Empty(t, s.Dividas)
}

func TestDebtSummary_NotFound(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	rec := srv.do(http.MethodGet, "/api/dividas/nope/resumo", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
