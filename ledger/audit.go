/*
audit.go - Audit trail kinds, rendering and history

PURPOSE:
  Every state-changing operation appends exactly one AuditEntry in the
  same transaction as the installment update it describes. Comments are
  entries too, with no state effect.

KINDS:
  pagamento          full payment (installment became pago)
  pagamento_parcial  partial payment
  reabertura         paid installment reopened
  exclusao           a payment entry was deleted and its amount reversed
  edicao             installment terms edited
  edicao_pagamento   payment metadata or amount corrected
  comentario         free-form remark

DELETION:
  Deleting a pagamento/pagamento_parcial entry reverses it (RetractPayment).
  Deleting any other kind only removes the row.

The Body is rendered once, in Portuguese, when the entry is created. The
ledger never reads it back: amounts come from Event.
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type AuditKind string

const (
	KindPagamento        AuditKind = "pagamento"
	KindPagamentoParcial AuditKind = "pagamento_parcial"
	KindReabertura       AuditKind = "reabertura"
	KindExclusao         AuditKind = "exclusao"
	KindEdicao           AuditKind = "edicao"
	KindEdicaoPagamento  AuditKind = "edicao_pagamento"
	KindComentario       AuditKind = "comentario"
)

func (k AuditKind) IsValid() bool {
	switch k {
	case KindPagamento, KindPagamentoParcial, KindReabertura, KindExclusao,
		KindEdicao, KindEdicaoPagamento, KindComentario:
		return true
	}
	return false
}

// IsPayment reports whether deleting an entry of this kind reverses money.
func (k AuditKind) IsPayment() bool {
	return k == KindPagamento || k == KindPagamentoParcial
}

// Label is the display name used by the CRM history panel.
func (k AuditKind) Label() string {
	switch k {
	case KindPagamento:
		return "Pagamento"
	case KindPagamentoParcial:
		return "Pagamento parcial"
	case KindReabertura:
		return "Reabertura"
	case KindExclusao:
		return "Exclusão"
	case KindEdicao:
		return "Edição"
	case KindEdicaoPagamento:
		return "Edição de pagamento"
	default:
		return "Comentário"
	}
}

// =============================================================================
// BODY RENDERING
// =============================================================================

func renderBody(kind AuditKind, ev Event, notes string) string {
	var b strings.Builder
	switch kind {
	case KindPagamento:
		fmt.Fprintf(&b, "Pagamento de %s registrado", formatNull(ev.Amount))
		writeMethod(&b, ev.MetodoPagamento)
		b.WriteString(". Parcela quitada.")
	case KindPagamentoParcial:
		fmt.Fprintf(&b, "Pagamento parcial de %s registrado", formatNull(ev.Amount))
		writeMethod(&b, ev.MetodoPagamento)
		fmt.Fprintf(&b, ". Saldo restante: %s.", formatNull(ev.Balance))
	case KindReabertura:
		fmt.Fprintf(&b, "Pagamento reaberto. Valor de %s estornado.", formatNull(ev.Amount))
	case KindExclusao:
		fmt.Fprintf(&b, "Pagamento de %s excluído do histórico.", formatNull(ev.Amount))
		if ev.Balance.Valid {
			fmt.Fprintf(&b, " Saldo restante: %s.", formatNull(ev.Balance))
		}
	case KindEdicao:
		b.WriteString("Parcela editada: ")
		writeChanges(&b, ev.Changes)
	case KindEdicaoPagamento:
		b.WriteString("Pagamento editado: ")
		writeChanges(&b, ev.Changes)
	}
	if notes != "" {
		if b.Len() > 0 {
			b.WriteString(" Obs: ")
		}
		b.WriteString(notes)
	}
	return b.String()
}

func writeMethod(b *strings.Builder, method string) {
	if method != "" {
		fmt.Fprintf(b, " via %s", method)
	}
}

func writeChanges(b *strings.Builder, changes []FieldChange) {
	for i, c := range changes {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(b, "%s: %s → %s", c.Field, c.Old, c.New)
	}
	b.WriteString(".")
}

// =============================================================================
// HISTORY AND COMMENTS
// =============================================================================

// History returns the audit entries of an installment, newest first.
func (l *Ledger) History(ctx context.Context, parcelaID string) ([]AuditEntry, error) {
	if _, err := l.store.GetInstallment(ctx, parcelaID); err != nil {
		return nil, err
	}
	return l.store.ListAuditEntries(ctx, parcelaID)
}

// AddComment appends a free-form remark. It never changes the installment.
func (l *Ledger) AddComment(ctx context.Context, parcelaID, body string, actor Actor) (AuditEntry, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return AuditEntry{}, invalid("body", "comment cannot be empty")
	}

	var entry AuditEntry
	err := l.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetInstallment(ctx, parcelaID); err != nil {
			return err
		}
		entry = l.newEntry(parcelaID, KindComentario, Event{}, body, actor)
		return s.AppendAuditEntry(ctx, entry)
	})
	if err != nil {
		return AuditEntry{}, err
	}
	l.log.Info().Str("parcela_id", parcelaID).Str("entry_id", entry.ID).Msg("comment added")
	return entry, nil
}

// DeleteAuditEntry removes a history entry. Payment entries are retracted,
// reversing their amount; other kinds are removed with no balance effect.
// It returns the installment as it stands after the deletion.
func (l *Ledger) DeleteAuditEntry(ctx context.Context, entryID string, actor Actor) (Parcela, error) {
	entry, err := l.store.GetAuditEntry(ctx, entryID)
	if err != nil {
		return Parcela{}, err
	}
	if entry.Kind.IsPayment() {
		return l.RetractPayment(ctx, entryID, actor)
	}

	var p Parcela
	err = l.store.WithTx(ctx, func(s Store) error {
		if err := s.DeleteAuditEntry(ctx, entryID); err != nil {
			return err
		}
		p, err = s.GetInstallment(ctx, entry.ParcelaID)
		return err
	})
	if err != nil {
		return Parcela{}, err
	}
	l.log.Info().Str("parcela_id", entry.ParcelaID).Str("entry_id", entryID).
		Str("kind", string(entry.Kind)).Msg("audit entry removed")
	return Derive(p, l.today()), nil
}

func (l *Ledger) newEntry(parcelaID string, kind AuditKind, ev Event, body string, actor Actor) AuditEntry {
	if actor.ID == "" {
		actor = SystemActor
	}
	return AuditEntry{
		ID:         l.newID(),
		ParcelaID:  parcelaID,
		AuthorID:   actor.ID,
		AuthorName: actor.Name,
		CreatedAt:  l.clock().UTC().Truncate(time.Microsecond),
		Kind:       kind,
		Body:       body,
		Event:      ev,
	}
}
