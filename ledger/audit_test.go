package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-ledger/ledger"
)

// =============================================================================
// RETRACTION
// =============================================================================

func TestRetractPayment_RoundTrip(t *testing.T) {
	// Paying and then deleting the payment entry must leave the installment
	// exactly as it was before the payment.
	cases := []struct {
		name    string
		amount  string
		partial bool
		due     ledger.Date
		want    ledger.Status
	}{
		{"partial on pendente", "300", true, dueSoon, ledger.StatusPendente},
		{"full on pendente", "900", false, dueSoon, ledger.StatusPendente},
		{"partial on atrasado", "300", true, duePast, ledger.StatusAtrasado},
		{"overpayment on atrasado", "1200", false, duePast, ledger.StatusAtrasado},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestLedger(t)
			before := f.seed(t, "900", tc.due)
			f.pay(t, before.ID, tc.amount, tc.partial)
			entryID := f.history(t, before.ID)[0].ID

			after, err := f.ledger.DeleteAuditEntry(f.ctx, entryID, ana)
			require.NoError(t, err)

			assert.Equal(t, tc.want, after.Status)
			assert.False(t, after.ValorPago.Valid)
			assert.False(t, after.SaldoRestante.Valid)
			assert.True(t, after.DataPagamento.IsZero())
			assert.Empty(t, after.MetodoPagamento)

			entries := f.history(t, before.ID)
			require.Len(t, entries, 1, "payment entry removed, exclusao added")
			assert.Equal(t, ledger.KindExclusao, entries[0].Kind)
			assert.Equal(t, entryID, entries[0].Event.RetractedEntryID)
		})
	}
}

func TestRetractPayment_LatestOfTwoRestoresPreviousMetadata(t *testing.T) {
	// GIVEN: 300 via pix on the 10th, then 600 via boleto on the 12th
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	first := ledger.NewDate(2025, time.March, 10)
	second := ledger.NewDate(2025, time.March, 12)

	_, err := f.ledger.RegisterPayment(f.ctx, p.ID, ledger.PaymentInput{
		Amount: dec("300"), Date: first, Method: "pix", Partial: true,
	}, ana)
	require.NoError(t, err)
	_, err = f.ledger.RegisterPayment(f.ctx, p.ID, ledger.PaymentInput{
		Amount: dec("600"), Date: second, Method: "boleto",
	}, ana)
	require.NoError(t, err)

	// WHEN: The 600 payment is retracted
	latest := f.history(t, p.ID)[0]
	require.Equal(t, ledger.KindPagamento, latest.Kind)
	p, err = f.ledger.RetractPayment(f.ctx, latest.ID, bob)
	require.NoError(t, err)

	// THEN: The installment is back to the state after the first payment
	assert.Equal(t, ledger.StatusParcial, p.Status)
	requireNullMoney(t, "300", p.ValorPago)
	requireNullMoney(t, "600", p.SaldoRestante)
	assert.Equal(t, first, p.DataPagamento)
	assert.Equal(t, "pix", p.MetodoPagamento)

	exclusao := f.history(t, p.ID)[0]
	assert.Equal(t, ledger.KindExclusao, exclusao.Kind)
	requireNullMoney(t, "600", exclusao.Event.Amount)
	assert.Equal(t, bob.ID, exclusao.AuthorID)
}

func TestRetractPayment_OlderOfTwoKeepsCurrentMetadata(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	second := ledger.NewDate(2025, time.March, 12)

	f.pay(t, p.ID, "300", true)
	_, err := f.ledger.RegisterPayment(f.ctx, p.ID, ledger.PaymentInput{
		Amount: dec("600"), Date: second, Method: "boleto",
	}, ana)
	require.NoError(t, err)

	older := f.history(t, p.ID)[1]
	require.Equal(t, ledger.KindPagamentoParcial, older.Kind)
	p, err = f.ledger.RetractPayment(f.ctx, older.ID, ana)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusParcial, p.Status)
	requireNullMoney(t, "600", p.ValorPago)
	requireNullMoney(t, "300", p.SaldoRestante)
	assert.Equal(t, second, p.DataPagamento)
	assert.Equal(t, "boleto", p.MetodoPagamento)
}

func TestRetractPayment_OlderOfTwoSameDayKeepsMetadata(t *testing.T) {
	// GIVEN: Two partial pix payments on the same day
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	f.pay(t, p.ID, "300", true)
	f.pay(t, p.ID, "200", true)

	// WHEN: The older one is retracted
	older := f.history(t, p.ID)[1]
	requireNullMoney(t, "300", older.Event.Amount)
	p, err := f.ledger.RetractPayment(f.ctx, older.ID, ana)
	require.NoError(t, err)

	// THEN: The remaining payment keeps its date and method
	assert.Equal(t, ledger.StatusParcial, p.Status)
	requireNullMoney(t, "200", p.ValorPago)
	requireNullMoney(t, "700", p.SaldoRestante)
	assert.Equal(t, ledger.DateOf(now), p.DataPagamento)
	assert.Equal(t, "pix", p.MetodoPagamento)
}

func TestRetractPayment_AfterAmountEditKeepsMetadata(t *testing.T) {
	// GIVEN: A 300 partial payment later corrected to 500
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	f.pay(t, p.ID, "300", true)
	payment := f.history(t, p.ID)[0]
	_, err := f.ledger.EditPayment(f.ctx, p.ID, ledger.PaymentEdit{Amount: ptr(dec("500"))}, ana)
	require.NoError(t, err)

	// WHEN: The payment entry is retracted
	p, err = f.ledger.RetractPayment(f.ctx, payment.ID, ana)
	require.NoError(t, err)

	// THEN: The corrected surplus stays paid with its metadata
	assert.Equal(t, ledger.StatusParcial, p.Status)
	requireNullMoney(t, "200", p.ValorPago)
	assert.Equal(t, ledger.DateOf(now), p.DataPagamento)
	assert.Equal(t, "pix", p.MetodoPagamento)
}

func TestRetractPayment_Twice(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	f.pay(t, p.ID, "300", true)
	entryID := f.history(t, p.ID)[0].ID

	_, err := f.ledger.RetractPayment(f.ctx, entryID, ana)
	require.NoError(t, err)

	_, err = f.ledger.RetractPayment(f.ctx, entryID, ana)
	assert.ErrorIs(t, err, ledger.ErrAuditEntryNotFound)
}

func TestRetractPayment_RejectsNonPaymentEntry(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	c, err := f.ledger.AddComment(f.ctx, p.ID, "cliente pediu prazo", ana)
	require.NoError(t, err)

	_, err = f.ledger.RetractPayment(f.ctx, c.ID, ana)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestRetractPayment_AfterReopenLeavesNothingPaid(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	f.pay(t, p.ID, "900", false)
	payment := f.history(t, p.ID)[0]
	_, err := f.ledger.ReopenPayment(f.ctx, p.ID, ana)
	require.NoError(t, err)

	p, err = f.ledger.RetractPayment(f.ctx, payment.ID, ana)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPendente, p.Status)
	assert.False(t, p.ValorPago.Valid)

	exclusao := f.history(t, p.ID)[0]
	require.Equal(t, ledger.KindExclusao, exclusao.Kind)
	requireNullMoney(t, "0", exclusao.Event.Amount)
}

// =============================================================================
// COMMENTS AND ENTRY DELETION
// =============================================================================

func TestAddComment(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)

	e, err := f.ledger.AddComment(f.ctx, p.ID, "  ligar amanhã  ", ana)
	require.NoError(t, err)

	assert.Equal(t, ledger.KindComentario, e.Kind)
	assert.Equal(t, "ligar amanhã", e.Body)
	assert.Equal(t, now, e.CreatedAt)

	got, err := f.ledger.GetInstallment(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Version, got.Version, "comments never touch the installment")
}

func TestAddComment_Validation(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)

	_, err := f.ledger.AddComment(f.ctx, p.ID, "   ", ana)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.ledger.AddComment(f.ctx, "missing", "oi", ana)
	assert.ErrorIs(t, err, ledger.ErrInstallmentNotFound)
}

func TestAddComment_AnonymousActorIsSystem(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)

	e, err := f.ledger.AddComment(f.ctx, p.ID, "importado", ledger.Actor{})
	require.NoError(t, err)
	assert.Equal(t, ledger.SystemActor.ID, e.AuthorID)
	assert.Equal(t, ledger.SystemActor.Name, e.AuthorName)
}

func TestDeleteAuditEntry_CommentHasNoBalanceEffect(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)
	paid := f.pay(t, p.ID, "300", true)
	c, err := f.ledger.AddComment(f.ctx, p.ID, "parcial combinado", ana)
	require.NoError(t, err)

	got, err := f.ledger.DeleteAuditEntry(f.ctx, c.ID, ana)
	require.NoError(t, err)

	assert.Equal(t, paid.Version, got.Version)
	requireNullMoney(t, "300", got.ValorPago)
	entries := f.history(t, p.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindPagamentoParcial, entries[0].Kind)
}

func TestHistory_NewestFirstWithEqualTimestamps(t *testing.T) {
	f := newTestLedger(t)
	p := f.seed(t, "900", dueSoon)

	f.pay(t, p.ID, "100", true)
	_, err := f.ledger.AddComment(f.ctx, p.ID, "segundo", ana)
	require.NoError(t, err)
	f.pay(t, p.ID, "800", false)

	entries := f.history(t, p.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.KindPagamento, entries[0].Kind)
	assert.Equal(t, ledger.KindComentario, entries[1].Kind)
	assert.Equal(t, ledger.KindPagamentoParcial, entries[2].Kind)
}

func TestHistory_UnknownInstallment(t *testing.T) {
	f := newTestLedger(t)
	_, err := f.ledger.History(f.ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrInstallmentNotFound)
}
