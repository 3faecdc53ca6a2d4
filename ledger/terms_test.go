package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-ledger/ledger"
)

func TestEditInstallmentTerms_RaisingValorReopensBalance(t *testing.T) {
	// GIVEN: A pago installment of 900
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	f.pay(t, p.ID, "900", false)

	// WHEN: The installment amount is raised to 1000
	p, err := f.ledger.EditInstallmentTerms(f.ctx, p.ID, ledger.TermsEdit{ValorParcela: ptr(dec("1000"))}, ana)
	require.NoError(t, err)

	// THEN: The 900 already paid stays, 100 is open
	assert.Equal(t, ledger.StatusParcial, p.Status)
	requireNullMoney(t, "900", p.ValorPago)
	requireNullMoney(t, "100", p.SaldoRestante)

	e := f.history(t, p.ID)[0]
	assert.Equal(t, ledger.KindEdicao, e.Kind)
	fields := make([]string, 0, len(e.Event.Changes))
	for _, c := range e.Event.Changes {
		fields = append(fields, c.Field)
	}
	assert.Equal(t, []string{"Valor", "Status"}, fields)
}

func TestEditInstallmentTerms_LoweringValorSettles(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	f.pay(t, p.ID, "300", true)

	p, err := f.ledger.EditInstallmentTerms(f.ctx, p.ID, ledger.TermsEdit{ValorParcela: ptr(dec("250"))}, ana)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPago, p.Status)
	requireNullMoney(t, "250", p.ValorPago)
	assert.False(t, p.SaldoRestante.Valid)
	require.NoError(t, ledger.CheckInvariants(p))
}

func TestEditInstallmentTerms_DueDateDrivesUnpaidStatus(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)

	p, err := f.ledger.EditInstallmentTerms(f.ctx, p.ID, ledger.TermsEdit{DataVencimento: ptr(duePast)}, ana)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusAtrasado, p.Status)

	p, err = f.ledger.EditInstallmentTerms(f.ctx, p.ID, ledger.TermsEdit{DataVencimento: ptr(dueSoon)}, ana)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPendente, p.Status)
}

func TestEditInstallmentTerms_DueDateOnPaidKeepsPago(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	f.pay(t, p.ID, "900", false)

	p, err := f.ledger.EditInstallmentTerms(f.ctx, p.ID, ledger.TermsEdit{DataVencimento: ptr(duePast)}, ana)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPago, p.Status)
	assert.Equal(t, duePast, p.DataVencimento)
}

func TestEditInstallmentTerms_NumeroMustBeUnique(t *testing.T) {
	f := newTestLedger(t)
	rows, err := f.ledger.CreateContractPlan(f.ctx, "cli-x", ledger.Plan{
		ValorTotal:     dec("300"),
		NumeroParcelas: 3,
		DataInicio:     dueSoon,
	}, ana)
	require.NoError(t, err)

	_, err = f.ledger.EditInstallmentTerms(f.ctx, rows[0].ID, ledger.TermsEdit{NumeroParcela: ptr(2)}, ana)
	assert.ErrorIs(t, err, ledger.ErrDuplicateNumero)

	p, err := f.ledger.EditInstallmentTerms(f.ctx, rows[0].ID, ledger.TermsEdit{
		NumeroParcela:  ptr(7),
		GrupoDescricao: ptr("Renegociada"),
	}, ana)
	require.NoError(t, err)
	assert.Equal(t, 7, p.NumeroParcela)
	assert.Equal(t, "Renegociada", p.GrupoDescricao)
}

func TestEditInstallmentTerms_Validation(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)

	_, err := f.ledger.EditInstallmentTerms(f.ctx, p.ID, ledger.TermsEdit{ValorParcela: ptr(dec("0"))}, ana)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.ledger.EditInstallmentTerms(f.ctx, p.ID, ledger.TermsEdit{ValorParcela: ptr(dec("850.555"))}, ana)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.ledger.EditInstallmentTerms(f.ctx, p.ID, ledger.TermsEdit{NumeroParcela: ptr(0)}, ana)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.ledger.EditInstallmentTerms(f.ctx, p.ID, ledger.TermsEdit{DataVencimento: &ledger.Date{}}, ana)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestEditInstallmentTerms_NoChangeWritesNothing(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)

	got, err := f.ledger.EditInstallmentTerms(f.ctx, p.ID, ledger.TermsEdit{
		ValorParcela:   ptr(dec("900.00")),
		DataVencimento: ptr(ledger.NewDate(2025, time.April, 10)),
	}, ana)
	require.NoError(t, err)

	assert.Equal(t, p.Version, got.Version)
	assert.Empty(t, f.history(t, p.ID))
}
