package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-ledger/ledger"
)

// =============================================================================
// PLAN BUILDING
// =============================================================================

func TestPlanBuild_EqualSplitAbsorbsRemainderInLast(t *testing.T) {
	rows, err := ledger.Plan{
		ValorTotal:     dec("1000"),
		NumeroParcelas: 3,
		DataInicio:     ledger.NewDate(2025, time.January, 31),
	}.Build()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	requireMoney(t, "333.33", rows[0].ValorParcela)
	requireMoney(t, "333.33", rows[1].ValorParcela)
	requireMoney(t, "333.34", rows[2].ValorParcela)

	// Due dates stay on the last day of shorter months
	assert.Equal(t, "2025-01-31", rows[0].DataVencimento.String())
	assert.Equal(t, "2025-02-28", rows[1].DataVencimento.String())
	assert.Equal(t, "2025-03-31", rows[2].DataVencimento.String())

	for i, r := range rows {
		assert.Equal(t, i+1, r.NumeroParcela)
	}
}

func TestPlanBuild_Groups(t *testing.T) {
	rows, err := ledger.Plan{
		ValorTotal: dec("300"),
		DataInicio: dueSoon,
		Grupos:     []ledger.GrupoParcelas{{Quantidade: 3, ValorParcela: dec("100")}},
	}.Build()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	for _, r := range rows {
		requireMoney(t, "100", r.ValorParcela)
		assert.Equal(t, "Grupo 1", r.GrupoDescricao)
	}
}

func TestPlanBuild_GroupsMustMatchTotal(t *testing.T) {
	_, err := ledger.Plan{
		ValorTotal: dec("301"),
		DataInicio: dueSoon,
		Grupos:     []ledger.GrupoParcelas{{Quantidade: 3, ValorParcela: dec("100")}},
	}.Build()

	var mismatch *ledger.SumMismatchError
	require.True(t, errors.As(err, &mismatch))
	requireMoney(t, "301", mismatch.Declared)
	requireMoney(t, "300", mismatch.Computed)
	assert.ErrorIs(t, err, ledger.ErrSumMismatch)
}

func TestPlanBuild_ToleratesOneCent(t *testing.T) {
	_, err := ledger.Plan{
		ValorTotal: dec("300.01"),
		DataInicio: dueSoon,
		Grupos:     []ledger.GrupoParcelas{{Quantidade: 3, ValorParcela: dec("100")}},
	}.Build()
	assert.NoError(t, err)
}

func TestPlanBuild_EntradaComesFirst(t *testing.T) {
	rows, err := ledger.Plan{
		ValorTotal: dec("1000"),
		DataInicio: dueSoon,
		Entrada:    decimal.NewNullDecimal(dec("200")),
		Grupos: []ledger.GrupoParcelas{
			{Quantidade: 2, ValorParcela: dec("150"), Descricao: "Curto prazo"},
			{Quantidade: 2, ValorParcela: dec("250")},
		},
	}.Build()
	require.NoError(t, err)
	require.Len(t, rows, 5)

	labels := make([]string, len(rows))
	for i, r := range rows {
		labels[i] = r.GrupoDescricao
	}
	assert.Equal(t, []string{"Entrada", "Curto prazo", "Curto prazo", "Grupo 2", "Grupo 2"}, labels)
	requireMoney(t, "200", rows[0].ValorParcela)
	assert.Equal(t, dueSoon, rows[0].DataVencimento)
	assert.Equal(t, "2025-08-10", rows[4].DataVencimento.String())
}

func TestPlanBuild_Validation(t *testing.T) {
	cases := map[string]ledger.Plan{
		"zero total":      {ValorTotal: dec("0"), NumeroParcelas: 1, DataInicio: dueSoon},
		"no installments": {ValorTotal: dec("100"), NumeroParcelas: 0, DataInicio: dueSoon},
		"no start date":   {ValorTotal: dec("100"), NumeroParcelas: 1},
		"empty group":     {ValorTotal: dec("100"), DataInicio: dueSoon, Grupos: []ledger.GrupoParcelas{{Quantidade: 0, ValorParcela: dec("100")}}},
		"entrada alone":   {ValorTotal: dec("100"), NumeroParcelas: 1, DataInicio: dueSoon, Entrada: decimal.NewNullDecimal(dec("100"))},
		"too many splits": {ValorTotal: dec("0.02"), NumeroParcelas: 5, DataInicio: dueSoon},
	}
	for name, plan := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := plan.Build()
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestPlanBuild_RejectsSubCentAmounts(t *testing.T) {
	groups := []ledger.GrupoParcelas{{Quantidade: 1, ValorParcela: dec("100")}}
	cases := []struct {
		field string
		plan  ledger.Plan
	}{
		{"valorTotal", ledger.Plan{ValorTotal: dec("100.005"), NumeroParcelas: 1, DataInicio: dueSoon}},
		{"gruposParcelas[0].valorParcela", ledger.Plan{ValorTotal: dec("100"), DataInicio: dueSoon,
			Grupos: []ledger.GrupoParcelas{{Quantidade: 1, ValorParcela: dec("99.999")}}}},
		{"entrada", ledger.Plan{ValorTotal: dec("100"), DataInicio: dueSoon, Grupos: groups,
			Entrada: decimal.NewNullDecimal(dec("0.001"))}},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			_, err := tc.plan.Build()
			var verr *ledger.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

// =============================================================================
// DEBTS
// =============================================================================

func TestCreateDebt(t *testing.T) {
	f := newTestLedger(t)

	d, rows, err := f.ledger.CreateDebt(f.ctx, ledger.DebtInput{
		ClienteID: "cli-1",
		Titulo:    " Multa contratual ",
		Plan:      ledger.Plan{ValorTotal: dec("600"), NumeroParcelas: 2, DataInicio: duePast},
	}, ana)
	require.NoError(t, err)

	assert.Equal(t, "Multa contratual", d.Titulo)
	assert.Equal(t, 2, d.NumeroParcelas)
	assert.Equal(t, ana.ID, d.CreatedBy)
	require.Len(t, rows, 2)
	assert.Equal(t, d.ID, rows[0].DividaID)
	assert.Equal(t, ledger.StatusAtrasado, rows[0].Status, "first installment is already past due")
	assert.Equal(t, ledger.StatusPendente, rows[1].Status)

	listed, err := f.ledger.ListInstallments(f.ctx, "cli-1", ledger.InstallmentFilter{DividaID: d.ID})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	contract, err := f.ledger.ListInstallments(f.ctx, "cli-1", ledger.InstallmentFilter{ContractOnly: true})
	require.NoError(t, err)
	assert.Empty(t, contract)
}

func TestCreateDebt_SumMismatchWritesNothing(t *testing.T) {
	f := newTestLedger(t)

	_, _, err := f.ledger.CreateDebt(f.ctx, ledger.DebtInput{
		ClienteID: "cli-1",
		Titulo:    "Acordo",
		Plan: ledger.Plan{
			ValorTotal: dec("301"),
			DataInicio: dueSoon,
			Grupos:     []ledger.GrupoParcelas{{Quantidade: 3, ValorParcela: dec("100")}},
		},
	}, ana)
	require.ErrorIs(t, err, ledger.ErrSumMismatch)

	debts, err := f.ledger.ListDebts(f.ctx, "cli-1")
	require.NoError(t, err)
	assert.Empty(t, debts)
}

func TestCreateDebt_RequiresTitle(t *testing.T) {
	f := newTestLedger(t)
	_, _, err := f.ledger.CreateDebt(f.ctx, ledger.DebtInput{
		ClienteID: "cli-1",
		Plan:      ledger.Plan{ValorTotal: dec("100"), NumeroParcelas: 1, DataInicio: dueSoon},
	}, ana)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestDeleteDebt_CascadesWithoutOrphans(t *testing.T) {
	// GIVEN: A debt with payments and comments, next to contract installments
	f := newTestLedger(t)
	contract, err := f.ledger.CreateContractPlan(f.ctx, "cli-1", ledger.Plan{
		ValorTotal: dec("200"), NumeroParcelas: 2, DataInicio: dueSoon,
	}, ana)
	require.NoError(t, err)
	f.pay(t, contract[0].ID, "100", false)

	d, rows, err := f.ledger.CreateDebt(f.ctx, ledger.DebtInput{
		ClienteID: "cli-1",
		Titulo:    "Acordo",
		Plan:      ledger.Plan{ValorTotal: dec("300"), NumeroParcelas: 3, DataInicio: dueSoon},
	}, ana)
	require.NoError(t, err)
	f.pay(t, rows[0].ID, "50", true)
	c, err := f.ledger.AddComment(f.ctx, rows[1].ID, "cliente contestou", ana)
	require.NoError(t, err)
	paymentEntry := f.history(t, rows[0].ID)[0]

	// WHEN: The debt is deleted
	require.NoError(t, f.ledger.DeleteDebt(f.ctx, d.ID, ana))

	// THEN: Debt, installments and entries are gone
	_, err = f.ledger.GetDebt(f.ctx, d.ID)
	assert.ErrorIs(t, err, ledger.ErrDebtNotFound)
	for _, r := range rows {
		_, err = f.ledger.GetInstallment(f.ctx, r.ID)
		assert.ErrorIs(t, err, ledger.ErrInstallmentNotFound)
	}
	for _, id := range []string{c.ID, paymentEntry.ID} {
		_, err = f.store.GetAuditEntry(f.ctx, id)
		assert.ErrorIs(t, err, ledger.ErrAuditEntryNotFound)
	}

	// AND: The contract is untouched
	all, err := f.ledger.ListInstallments(f.ctx, "cli-1", ledger.InstallmentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, f.history(t, contract[0].ID), 1)

	assert.ErrorIs(t, f.ledger.DeleteDebt(f.ctx, d.ID, ana), ledger.ErrDebtNotFound)
}

func TestCreateContractPlan_OnlyOnce(t *testing.T) {
	f := newTestLedger(t)
	plan := ledger.Plan{ValorTotal: dec("1200"), NumeroParcelas: 12, DataInicio: dueSoon}

	rows, err := f.ledger.CreateContractPlan(f.ctx, "cli-1", plan, ana)
	require.NoError(t, err)
	assert.Len(t, rows, 12)
	assert.True(t, rows[0].IsContract())

	_, err = f.ledger.CreateContractPlan(f.ctx, "cli-1", plan, ana)
	assert.ErrorIs(t, err, ledger.ErrDuplicateNumero)

	// A debt for the same client is still allowed
	_, _, err = f.ledger.CreateDebt(f.ctx, ledger.DebtInput{ClienteID: "cli-1", Titulo: "Extra", Plan: plan}, ana)
	assert.NoError(t, err)
}
