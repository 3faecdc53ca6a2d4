// Package storetest runs the same behavioural checks against every
// ledger.TxStore implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-ledger/ledger"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) ledger.TxStore

var created = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("InstallmentRoundTrip", func(t *testing.T) { testInstallmentRoundTrip(t, newStore(t)) })
	t.Run("VersionedUpdate", func(t *testing.T) { testVersionedUpdate(t, newStore(t)) })
	t.Run("DuplicateNumero", func(t *testing.T) { testDuplicateNumero(t, newStore(t)) })
	t.Run("ListFilters", func(t *testing.T) { testListFilters(t, newStore(t)) })
	t.Run("AuditOrdering", func(t *testing.T) { testAuditOrdering(t, newStore(t)) })
	t.Run("DebtCascade", func(t *testing.T) { testDebtCascade(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("LedgerScenario", func(t *testing.T) { testLedgerScenario(t, newStore(t)) })
}

func parcela(id, cliente, divida string, numero int) ledger.Parcela {
	return ledger.Parcela{
		ID:             id,
		ClienteID:      cliente,
		DividaID:       divida,
		NumeroParcela:  numero,
		ValorParcela:   decimal.RequireFromString("900"),
		DataVencimento: ledger.NewDate(2025, time.April, 10),
		Status:         ledger.StatusPendente,
		Version:        1,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func divida(id, cliente string) ledger.Divida {
	return ledger.Divida{
		ID:             id,
		ClienteID:      cliente,
		Titulo:         "Acordo",
		ValorTotal:     decimal.RequireFromString("300"),
		NumeroParcelas: 3,
		DataInicio:     ledger.NewDate(2025, time.April, 10),
		Grupos:         []ledger.GrupoParcelas{{Quantidade: 3, ValorParcela: decimal.RequireFromString("100"), Descricao: "Grupo 1"}},
		Entrada:        decimal.NullDecimal{},
		CreatedBy:      "user-ana",
		CreatedAt:      created,
	}
}

func testInstallmentRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	p := parcela("p1", "cli-1", "", 1)
	p.Status = ledger.StatusParcial
	p.ValorPago = decimal.NewNullDecimal(decimal.RequireFromString("300.50"))
	p.SaldoRestante = decimal.NewNullDecimal(decimal.RequireFromString("599.50"))
	p.DataPagamento = ledger.NewDate(2025, time.March, 14)
	p.MetodoPagamento = "pix"
	p.Observacoes = "primeira parte"
	p.GrupoDescricao = "Entrada"
	require.NoError(t, s.CreateInstallments(ctx, []ledger.Parcela{p}))

	got, err := s.GetInstallment(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, p.ClienteID, got.ClienteID)
	assert.Empty(t, got.DividaID)
	assert.True(t, p.ValorParcela.Equal(got.ValorParcela))
	require.True(t, got.ValorPago.Valid)
	assert.True(t, p.ValorPago.Decimal.Equal(got.ValorPago.Decimal))
	assert.True(t, p.SaldoRestante.Decimal.Equal(got.SaldoRestante.Decimal))
	assert.Equal(t, p.DataVencimento, got.DataVencimento)
	assert.Equal(t, p.DataPagamento, got.DataPagamento)
	assert.Equal(t, ledger.StatusParcial, got.Status)
	assert.Equal(t, "pix", got.MetodoPagamento)
	assert.Equal(t, "primeira parte", got.Observacoes)
	assert.Equal(t, "Entrada", got.GrupoDescricao)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, created.Equal(got.CreatedAt))
}

func testVersionedUpdate(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateInstallments(ctx, []ledger.Parcela{parcela("p1", "cli-1", "", 1)}))

	p, err := s.GetInstallment(ctx, "p1")
	require.NoError(t, err)
	p.MetodoPagamento = "boleto"
	require.NoError(t, s.UpdateInstallment(ctx, p))

	err = s.UpdateInstallment(ctx, p)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification, "stale version")

	got, err := s.GetInstallment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "boleto", got.MetodoPagamento)

	missing := parcela("nope", "cli-1", "", 9)
	assert.ErrorIs(t, s.UpdateInstallment(ctx, missing), ledger.ErrInstallmentNotFound)
}

func testDuplicateNumero(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateDebt(ctx, divida("d1", "cli-1")))
	require.NoError(t, s.CreateInstallments(ctx, []ledger.Parcela{
		parcela("p1", "cli-1", "", 1),
		parcela("p2", "cli-1", "", 2),
		parcela("d1-1", "cli-1", "d1", 1), // same numero, different owner
		parcela("o1", "cli-2", "", 1),     // same numero, different client
	}))

	err := s.CreateInstallments(ctx, []ledger.Parcela{parcela("p3", "cli-1", "", 2)})
	assert.ErrorIs(t, err, ledger.ErrDuplicateNumero)

	p, err := s.GetInstallment(ctx, "p1")
	require.NoError(t, err)
	p.NumeroParcela = 2
	assert.ErrorIs(t, s.UpdateInstallment(ctx, p), ledger.ErrDuplicateNumero)
}

func testListFilters(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateDebt(ctx, divida("d1", "cli-1")))
	require.NoError(t, s.CreateInstallments(ctx, []ledger.Parcela{
		parcela("d1-2", "cli-1", "d1", 2),
		parcela("p2", "cli-1", "", 2),
		parcela("d1-1", "cli-1", "d1", 1),
		parcela("p1", "cli-1", "", 1),
		parcela("x1", "cli-2", "", 1),
	}))

	ids := func(ps []ledger.Parcela) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.ID
		}
		return out
	}

	all, err := s.ListInstallments(ctx, "cli-1", ledger.InstallmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "d1-1", "d1-2"}, ids(all))

	contract, err := s.ListInstallments(ctx, "cli-1", ledger.InstallmentFilter{ContractOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids(contract))

	debt, err := s.ListInstallments(ctx, "cli-1", ledger.InstallmentFilter{DividaID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1-1", "d1-2"}, ids(debt))

	none, err := s.ListInstallments(ctx, "cli-9", ledger.InstallmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	d, err := s.GetDebt(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, d.Grupos, 1)
	assert.Equal(t, 3, d.Grupos[0].Quantidade)
	assert.False(t, d.Entrada.Valid)
	assert.Equal(t, "user-ana", d.CreatedBy)
}

func testAuditOrdering(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateInstallments(ctx, []ledger.Parcela{parcela("p1", "cli-1", "", 1)}))

	// Same timestamp: insertion order decides
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.AppendAuditEntry(ctx, ledger.AuditEntry{
			ID:        id,
			ParcelaID: "p1",
			AuthorID:  "user-ana",
			Kind:      ledger.KindComentario,
			Body:      id,
			CreatedAt: created,
		}))
	}
	require.NoError(t, s.AppendAuditEntry(ctx, ledger.AuditEntry{
		ID:        "e0",
		ParcelaID: "p1",
		AuthorID:  "user-ana",
		Kind:      ledger.KindPagamentoParcial,
		Body:      "older",
		CreatedAt: created.Add(-time.Hour),
		Event: ledger.Event{
			Amount:        decimal.NewNullDecimal(decimal.RequireFromString("300")),
			DataPagamento: ledger.NewDate(2025, time.March, 14),
		},
	}))

	entries, err := s.ListAuditEntries(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "e3", entries[0].ID)
	assert.Equal(t, "e2", entries[1].ID)
	assert.Equal(t, "e1", entries[2].ID)
	assert.Equal(t, "e0", entries[3].ID)

	e0, err := s.GetAuditEntry(ctx, "e0")
	require.NoError(t, err)
	assert.Equal(t, ledger.KindPagamentoParcial, e0.Kind)
	require.True(t, e0.Event.Amount.Valid)
	assert.True(t, e0.Event.Amount.Decimal.Equal(decimal.RequireFromString("300")))
	assert.Equal(t, ledger.NewDate(2025, time.March, 14), e0.Event.DataPagamento)

	require.NoError(t, s.DeleteAuditEntry(ctx, "e2"))
	assert.ErrorIs(t, s.DeleteAuditEntry(ctx, "e2"), ledger.ErrAuditEntryNotFound)
}

func testDebtCascade(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateDebt(ctx, divida("d1", "cli-1")))
	require.NoError(t, s.CreateInstallments(ctx, []ledger.Parcela{
		parcela("d1-1", "cli-1", "d1", 1),
		parcela("p1", "cli-1", "", 1),
	}))
	for _, e := range []ledger.AuditEntry{
		{ID: "e1", ParcelaID: "d1-1", AuthorID: "a", Kind: ledger.KindComentario, Body: "x", CreatedAt: created},
		{ID: "e2", ParcelaID: "p1", AuthorID: "a", Kind: ledger.KindComentario, Body: "y", CreatedAt: created},
	} {
		require.NoError(t, s.AppendAuditEntry(ctx, e))
	}

	require.NoError(t, s.DeleteDebt(ctx, "d1"))

	_, err := s.GetDebt(ctx, "d1")
	assert.ErrorIs(t, err, ledger.ErrDebtNotFound)
	_, err = s.GetInstallment(ctx, "d1-1")
	assert.ErrorIs(t, err, ledger.ErrInstallmentNotFound)
	_, err = s.GetAuditEntry(ctx, "e1")
	assert.ErrorIs(t, err, ledger.ErrAuditEntryNotFound)

	_, err = s.GetAuditEntry(ctx, "e2")
	assert.NoError(t, err, "contract history survives")
	assert.ErrorIs(t, s.DeleteDebt(ctx, "d1"), ledger.ErrDebtNotFound)
}

func testRollback(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		require.NoError(t, tx.CreateDebt(ctx, divida("d1", "cli-1")))
		require.NoError(t, tx.CreateInstallments(ctx, []ledger.Parcela{parcela("d1-1", "cli-1", "d1", 1)}))

		// Reads inside the transaction see its own writes
		got, err := tx.ListInstallments(ctx, "cli-1", ledger.InstallmentFilter{DividaID: "d1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetDebt(ctx, "d1")
	assert.ErrorIs(t, err, ledger.ErrDebtNotFound)
	_, err = s.GetInstallment(ctx, "d1-1")
	assert.ErrorIs(t, err, ledger.ErrInstallmentNotFound)
}

func testNotFound(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()

	_, err := s.GetInstallment(ctx, "x")
	assert.ErrorIs(t, err, ledger.ErrInstallmentNotFound)
	_, err = s.GetDebt(ctx, "x")
	assert.ErrorIs(t, err, ledger.ErrDebtNotFound)
	_, err = s.GetAuditEntry(ctx, "x")
	assert.ErrorIs(t, err, ledger.ErrAuditEntryNotFound)

	debts, err := s.ListDebts(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, debts)
	entries, err := s.ListAuditEntries(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// testLedgerScenario drives the ledger end to end on the store under test:
// 900 paid as 300 + 600, the 600 retracted, then the debt view summarized.
func testLedgerScenario(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	l := ledger.New(s, ledger.WithClock(ledger.FixedClock(created)))
	actor := ledger.Actor{ID: "user-ana", Name: "Ana"}

	d, rows, err := l.CreateDebt(ctx, ledger.DebtInput{
		ClienteID: "cli-1",
		Titulo:    "Acordo",
		Plan: ledger.Plan{
			ValorTotal:     decimal.RequireFromString("900"),
			NumeroParcelas: 1,
			DataInicio:     ledger.NewDate(2025, time.April, 10),
		},
	}, actor)
	require.NoError(t, err)
	id := rows[0].ID

	_, err = l.RegisterPayment(ctx, id, ledger.PaymentInput{
		Amount: decimal.RequireFromString("300"), Method: "pix", Partial: true,
	}, actor)
	require.NoError(t, err)
	p, err := l.RegisterPayment(ctx, id, ledger.PaymentInput{
		Amount: decimal.RequireFromString("600"), Method: "boleto",
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPago, p.Status)

	history, err := l.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, ledger.KindPagamento, history[0].Kind)

	p, err = l.DeleteAuditEntry(ctx, history[0].ID, actor)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusParcial, p.Status)
	assert.True(t, p.ValorPago.Decimal.Equal(decimal.RequireFromString("300")))
	assert.Equal(t, "pix", p.MetodoPagamento)

	summary, err := l.SummarizeDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, summary.Summary.Pendente.Equal(decimal.RequireFromString("600")))

	require.NoError(t, l.DeleteDebt(ctx, d.ID, actor))
	_, err = l.History(ctx, id)
	assert.ErrorIs(t, err, ledger.ErrInstallmentNotFound)
}
