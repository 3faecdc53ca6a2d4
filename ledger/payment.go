package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REGISTER PAYMENT (baixa)
// =============================================================================

// PaymentInput describes a payment against an installment.
type PaymentInput struct {
	Amount         decimal.Decimal
	Date           Date // zero means today
	Method         string
	Notes          string
	ComprovanteURL string

	// Partial must be set when Amount is below the outstanding balance.
	Partial bool
}

// RegisterPayment credits a payment. An amount covering the outstanding
// balance settles the installment; a smaller one requires in.Partial and
// leaves it parcial. Only the outstanding part of an overpayment is credited.
func (l *Ledger) RegisterPayment(ctx context.Context, parcelaID string, in PaymentInput, actor Actor) (Parcela, error) {
	if !in.Amount.IsPositive() {
		return Parcela{}, ErrInvalidAmount
	}
	if err := checkCents("valor", in.Amount); err != nil {
		return Parcela{}, err
	}

	return l.mutate(ctx, "register_payment", parcelaID, actor, func(_ Store, p *Parcela, today Date) (*pendingEntry, error) {
		if !p.Status.AcceptsPayment() {
			return nil, &StateConflictError{ParcelaID: p.ID, Operation: "register payment on", Status: p.Status}
		}

		outstanding := p.Outstanding()
		prev := p.meta()
		credited := in.Amount
		kind := KindPagamento

		if in.Amount.GreaterThanOrEqual(outstanding) {
			credited = outstanding
			p.ValorPago = nullDecimal(p.ValorParcela)
		} else {
			if !in.Partial {
				return nil, fmt.Errorf("%w: paid %s, outstanding %s",
					ErrPartialNotConfirmed, in.Amount.StringFixed(2), outstanding.StringFixed(2))
			}
			p.ValorPago = nullDecimal(p.Paid().Add(in.Amount))
			kind = KindPagamentoParcial
		}
		settle(p, today)

		date := in.Date
		if date.IsZero() {
			date = today
		}
		p.DataPagamento = date
		p.MetodoPagamento = in.Method
		if in.Notes != "" {
			p.Observacoes = in.Notes
		}
		if in.ComprovanteURL != "" {
			p.ComprovanteURL = in.ComprovanteURL
		}

		return &pendingEntry{
			kind: kind,
			event: Event{
				Amount:                  nullDecimal(credited),
				Balance:                 p.SaldoRestante,
				DataPagamento:           date,
				MetodoPagamento:         in.Method,
				PreviousDataPagamento:   prev.Date,
				PreviousMetodoPagamento: prev.Method,
			},
			notes: in.Notes,
		}, nil
	})
}

// =============================================================================
// EDIT PAYMENT
// =============================================================================

// PaymentEdit lists the payment fields to overwrite. Nil fields are kept.
// Amount is the corrected cumulative valorPago.
type PaymentEdit struct {
	Date           *Date
	Method         *string
	Amount         *decimal.Decimal
	Notes          *string
	ComprovanteURL *string
}

// EditPayment corrects the payment of a parcial or pago installment. An
// amount change recomputes status and balance; an amount above valorParcela
// is rejected. Due-date terms are never touched.
func (l *Ledger) EditPayment(ctx context.Context, parcelaID string, in PaymentEdit, actor Actor) (Parcela, error) {
	if in.Amount != nil {
		if !in.Amount.IsPositive() {
			return Parcela{}, ErrInvalidAmount
		}
		if err := checkCents("valorPago", *in.Amount); err != nil {
			return Parcela{}, err
		}
	}

	return l.mutate(ctx, "edit_payment", parcelaID, actor, func(_ Store, p *Parcela, today Date) (*pendingEntry, error) {
		if !p.Status.HasPayment() {
			return nil, &StateConflictError{ParcelaID: p.ID, Operation: "edit payment of", Status: p.Status}
		}

		var changes []FieldChange
		if in.Date != nil && !in.Date.Equal(p.DataPagamento) {
			changes = append(changes, FieldChange{Field: "Data de pagamento", Old: p.DataPagamento.Display(), New: in.Date.Display()})
			p.DataPagamento = *in.Date
		}
		if in.Method != nil && *in.Method != p.MetodoPagamento {
			changes = append(changes, FieldChange{Field: "Método", Old: orDash(p.MetodoPagamento), New: orDash(*in.Method)})
			p.MetodoPagamento = *in.Method
		}
		if in.Amount != nil && !in.Amount.Equal(p.Paid()) {
			if in.Amount.GreaterThan(p.ValorParcela) {
				return nil, invalid("valorPago", "%s exceeds valorParcela %s",
					in.Amount.StringFixed(2), p.ValorParcela.StringFixed(2))
			}
			changes = append(changes, FieldChange{Field: "Valor pago", Old: formatNull(p.ValorPago), New: FormatBRL(*in.Amount)})
			p.ValorPago = nullDecimal(*in.Amount)
			before := p.Status
			settle(p, today)
			if p.Status != before {
				changes = append(changes, FieldChange{Field: "Status", Old: string(before), New: string(p.Status)})
			}
		}
		if in.Notes != nil && *in.Notes != p.Observacoes {
			changes = append(changes, FieldChange{Field: "Observações", Old: orDash(p.Observacoes), New: orDash(*in.Notes)})
			p.Observacoes = *in.Notes
		}
		if in.ComprovanteURL != nil && *in.ComprovanteURL != p.ComprovanteURL {
			changes = append(changes, FieldChange{Field: "Comprovante", Old: orDash(p.ComprovanteURL), New: orDash(*in.ComprovanteURL)})
			p.ComprovanteURL = *in.ComprovanteURL
		}
		if len(changes) == 0 {
			return nil, nil
		}

		return &pendingEntry{
			kind:  KindEdicaoPagamento,
			event: Event{Amount: p.ValorPago, Balance: p.SaldoRestante, Changes: changes},
		}, nil
	})
}

// =============================================================================
// REOPEN (reabertura)
// =============================================================================

// ReopenPayment turns a pago installment back into an unpaid one. Only a
// new RegisterPayment can settle it again.
func (l *Ledger) ReopenPayment(ctx context.Context, parcelaID string, actor Actor) (Parcela, error) {
	return l.mutate(ctx, "reopen_payment", parcelaID, actor, func(_ Store, p *Parcela, today Date) (*pendingEntry, error) {
		if p.Status != StatusPago {
			return nil, &StateConflictError{ParcelaID: p.ID, Operation: "reopen", Status: p.Status}
		}

		prev := p.meta()
		cleared := p.Paid()
		p.clearPayment()
		settle(p, today)

		return &pendingEntry{
			kind: KindReabertura,
			event: Event{
				Amount:                  nullDecimal(cleared),
				PreviousDataPagamento:   prev.Date,
				PreviousMetodoPagamento: prev.Method,
			},
		}, nil
	})
}

// =============================================================================
// RETRACT (delete a historical payment)
// =============================================================================

// RetractPayment deletes a pagamento/pagamento_parcial entry and reverses
// the amount it credited. The amount comes from the entry's event payload.
// Payment date and method are cleared when nothing remains paid; otherwise
// the values the entry replaced are restored only if it is the newest
// payment entry of the installment and it replaced a payment.
func (l *Ledger) RetractPayment(ctx context.Context, entryID string, actor Actor) (Parcela, error) {
	entry, err := l.store.GetAuditEntry(ctx, entryID)
	if err != nil {
		return Parcela{}, err
	}
	if !entry.Kind.IsPayment() {
		return Parcela{}, invalid("entry", "%s entries do not carry a payment", entry.Kind)
	}

	return l.mutate(ctx, "retract_payment", entry.ParcelaID, actor, func(s Store, p *Parcela, today Date) (*pendingEntry, error) {
		// Re-read under the lock: a concurrent retraction may have won.
		current, err := s.GetAuditEntry(ctx, entryID)
		if err != nil {
			return nil, err
		}
		latest, err := isLatestPayment(ctx, s, p.ID, entryID)
		if err != nil {
			return nil, err
		}
		if err := s.DeleteAuditEntry(ctx, entryID); err != nil {
			return nil, err
		}

		before := p.Paid()
		remaining := before.Sub(current.Event.Amount.Decimal)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		p.ValorPago = nullDecimal(remaining)
		settle(p, today)

		switch {
		case p.Paid().IsZero():
			p.DataPagamento = Date{}
			p.MetodoPagamento = ""
		case latest && !current.Event.PreviousDataPagamento.IsZero():
			p.DataPagamento = current.Event.PreviousDataPagamento
			p.MetodoPagamento = current.Event.PreviousMetodoPagamento
		}

		return &pendingEntry{
			kind: KindExclusao,
			event: Event{
				Amount:           nullDecimal(before.Sub(remaining)),
				Balance:          p.SaldoRestante,
				RetractedEntryID: entryID,
			},
		}, nil
	})
}

// isLatestPayment reports whether entryID is the newest payment entry of
// the installment.
func isLatestPayment(ctx context.Context, s Store, parcelaID, entryID string) (bool, error) {
	entries, err := s.ListAuditEntries(ctx, parcelaID)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Kind.IsPayment() {
			return e.ID == entryID, nil
		}
	}
	return false, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
