/*
status.go - Installment state machine

STATES:
  pendente  -> nothing paid, due date today or later
  atrasado  -> nothing paid, due date passed
  parcial   -> 0 < valorPago < valorParcela, saldoRestante = the difference
  pago      -> valorPago = valorParcela, no saldoRestante

  atrasado is never written on its own: DeriveStatus recomputes it from
  the due date whenever a row is read or written. parcial and pago are
  only reached through payment operations or amount edits, and settle is
  the single place that maps an amount to one of them.

TRANSITIONS:
  pendente/atrasado --RegisterPayment(partial)--> parcial
  pendente/atrasado/parcial --RegisterPayment(full)--> pago
  pago --ReopenPayment--> pendente/atrasado
  parcial/pago --RetractPayment--> whatever the remaining amount implies
  any --EditInstallmentTerms--> recomputed from the new amount and due date
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DeriveStatus applies the due-date rule to an unpaid installment. Paid and
// partially paid installments keep their status.
func DeriveStatus(status Status, due Date, today Date) Status {
	if !status.IsOpen() {
		return status
	}
	if due.Before(today) {
		return StatusAtrasado
	}
	return StatusPendente
}

// Derive returns p with its status recomputed for today.
func Derive(p Parcela, today Date) Parcela {
	p.Status = DeriveStatus(p.Status, p.DataVencimento, today)
	return p
}

// settle recomputes status and saldoRestante from the amount paid.
// Amounts at or above valorParcela are capped to it.
func settle(p *Parcela, today Date) {
	paid := p.Paid()
	switch {
	case paid.GreaterThanOrEqual(p.ValorParcela):
		p.ValorPago = nullDecimal(p.ValorParcela)
		p.SaldoRestante = decimal.NullDecimal{}
		p.Status = StatusPago
	case paid.IsPositive():
		p.SaldoRestante = nullDecimal(p.ValorParcela.Sub(paid))
		p.Status = StatusParcial
	default:
		p.ValorPago = decimal.NullDecimal{}
		p.SaldoRestante = decimal.NullDecimal{}
		p.Status = DeriveStatus(StatusPendente, p.DataVencimento, today)
	}
}

// CheckInvariants verifies the amount/status invariants of an installment.
func CheckInvariants(p Parcela) error {
	paid := p.Paid()
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: parcela %s: %s", ErrInvariantViolation, p.ID, fmt.Sprintf(format, args...))
	}

	if !p.ValorParcela.IsPositive() {
		return fail("valorParcela %s is not positive", p.ValorParcela)
	}
	if paid.IsNegative() {
		return fail("valorPago %s is negative", paid)
	}
	if paid.GreaterThan(p.ValorParcela) {
		return fail("valorPago %s exceeds valorParcela %s", paid, p.ValorParcela)
	}

	switch p.Status {
	case StatusPago:
		if !paid.Equal(p.ValorParcela) {
			return fail("pago with valorPago %s != valorParcela %s", paid, p.ValorParcela)
		}
		if p.SaldoRestante.Valid && !p.SaldoRestante.Decimal.IsZero() {
			return fail("pago with saldoRestante %s", p.SaldoRestante.Decimal)
		}
	case StatusParcial:
		if !paid.IsPositive() || !paid.LessThan(p.ValorParcela) {
			return fail("parcial with valorPago %s outside (0, %s)", paid, p.ValorParcela)
		}
		if !p.SaldoRestante.Valid || !p.SaldoRestante.Decimal.Equal(p.ValorParcela.Sub(paid)) {
			return fail("parcial with inconsistent saldoRestante")
		}
	case StatusPendente, StatusAtrasado:
		if !paid.IsZero() {
			return fail("%s with valorPago %s", p.Status, paid)
		}
	default:
		return fail("unknown status %q", p.Status)
	}
	return nil
}
