package ledger_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-ledger/ledger"
)

// =============================================================================
// STATUS DERIVATION
// =============================================================================

func TestDeriveStatus(t *testing.T) {
	today := ledger.NewDate(2025, time.March, 15)
	yesterday := ledger.NewDate(2025, time.March, 14)

	tests := []struct {
		status ledger.Status
		due    ledger.Date
		want   ledger.Status
	}{
		{ledger.StatusPendente, today, ledger.StatusPendente},
		{ledger.StatusPendente, yesterday, ledger.StatusAtrasado},
		{ledger.StatusAtrasado, today, ledger.StatusPendente},
		{ledger.StatusParcial, yesterday, ledger.StatusParcial},
		{ledger.StatusPago, yesterday, ledger.StatusPago},
	}
	for _, tt := range tests {
		got := ledger.DeriveStatus(tt.status, tt.due, today)
		assert.Equal(t, tt.want, got, "%s due %s", tt.status, tt.due)
	}
}

func TestLedger_TodayUsesLocation(t *testing.T) {
	// 01:00 UTC on the 16th is still the 15th in São Paulo
	saoPaulo, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	l := ledger.New(nil,
		ledger.WithClock(ledger.FixedClock(time.Date(2025, time.March, 16, 1, 0, 0, 0, time.UTC))),
		ledger.WithLocation(saoPaulo),
	)
	assert.Equal(t, "2025-03-15", l.Today().String())
}

func TestCheckInvariants(t *testing.T) {
	valid := ledger.Parcela{ID: "p", ValorParcela: dec("900"), Status: ledger.StatusParcial,
		ValorPago: decimal.NewNullDecimal(dec("300")), SaldoRestante: decimal.NewNullDecimal(dec("600"))}
	require.NoError(t, ledger.CheckInvariants(valid))

	broken := map[string]func(p *ledger.Parcela){
		"overpaid":         func(p *ledger.Parcela) { p.ValorPago = decimal.NewNullDecimal(dec("901")) },
		"parcial no saldo": func(p *ledger.Parcela) { p.SaldoRestante = decimal.NullDecimal{} },
		"pago short":       func(p *ledger.Parcela) { p.Status = ledger.StatusPago },
		"pendente paid":    func(p *ledger.Parcela) { p.Status = ledger.StatusPendente },
		"unknown status":   func(p *ledger.Parcela) { p.Status = "quitado" },
	}
	for name, mutate := range broken {
		t.Run(name, func(t *testing.T) {
			p := valid
			mutate(&p)
			assert.ErrorIs(t, ledger.CheckInvariants(p), ledger.ErrInvariantViolation)
		})
	}
}

// =============================================================================
// DATES AND MONEY
// =============================================================================

func TestDate_AddMonthsClamps(t *testing.T) {
	start := ledger.NewDate(2024, time.January, 31)
	assert.Equal(t, "2024-02-29", start.AddMonths(1).String(), "leap year")
	assert.Equal(t, "2024-04-30", start.AddMonths(3).String())
	assert.Equal(t, "2025-01-31", start.AddMonths(12).String())
}

func TestDate_TextRoundTrip(t *testing.T) {
	var payload struct {
		Due  ledger.Date `json:"due"`
		Paid ledger.Date `json:"paid"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"due":"2025-04-10","paid":""}`), &payload))
	assert.Equal(t, dueSoon, payload.Due)
	assert.True(t, payload.Paid.IsZero())
	assert.Equal(t, "10/04/2025", payload.Due.Display())
	assert.Equal(t, "-", payload.Paid.Display())

	_, err := ledger.ParseDate("10/04/2025")
	assert.Error(t, err)
}

func TestFormatBRL(t *testing.T) {
	s := ledger.FormatBRL(dec("1234.5"))
	assert.Contains(t, s, "R$")
	assert.Contains(t, s, "234")
}
