package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// TermsEdit lists the contractual fields to change. Nil fields are kept.
type TermsEdit struct {
	NumeroParcela  *int
	ValorParcela   *decimal.Decimal
	DataVencimento *Date
	GrupoDescricao *string
}

func (in TermsEdit) validate() error {
	if in.ValorParcela != nil {
		if !in.ValorParcela.IsPositive() {
			return ErrInvalidAmount
		}
		if err := checkCents("valorParcela", *in.ValorParcela); err != nil {
			return err
		}
	}
	if in.NumeroParcela != nil && *in.NumeroParcela < 1 {
		return invalid("numeroParcela", "must be 1 or greater, got %d", *in.NumeroParcela)
	}
	if in.DataVencimento != nil && in.DataVencimento.IsZero() {
		return invalid("dataVencimento", "is required")
	}
	return nil
}

// EditInstallmentTerms changes number, amount, due date or group label in
// any status. Status follows the new terms: unpaid rows by due date, paid
// and partially paid rows by amount, so lowering valorParcela to or below
// valorPago settles the installment and raising it above reopens a balance.
func (l *Ledger) EditInstallmentTerms(ctx context.Context, parcelaID string, in TermsEdit, actor Actor) (Parcela, error) {
	if err := in.validate(); err != nil {
		return Parcela{}, err
	}

	return l.mutate(ctx, "edit_terms", parcelaID, actor, func(s Store, p *Parcela, today Date) (*pendingEntry, error) {
		var changes []FieldChange

		if in.NumeroParcela != nil && *in.NumeroParcela != p.NumeroParcela {
			if err := l.checkNumeroFree(ctx, s, *p, *in.NumeroParcela); err != nil {
				return nil, err
			}
			changes = append(changes, FieldChange{
				Field: "Número",
				Old:   strconv.Itoa(p.NumeroParcela),
				New:   strconv.Itoa(*in.NumeroParcela),
			})
			p.NumeroParcela = *in.NumeroParcela
		}
		if in.ValorParcela != nil && !in.ValorParcela.Equal(p.ValorParcela) {
			changes = append(changes, FieldChange{Field: "Valor", Old: FormatBRL(p.ValorParcela), New: FormatBRL(*in.ValorParcela)})
			p.ValorParcela = *in.ValorParcela
		}
		if in.DataVencimento != nil && !in.DataVencimento.Equal(p.DataVencimento) {
			changes = append(changes, FieldChange{Field: "Vencimento", Old: p.DataVencimento.Display(), New: in.DataVencimento.Display()})
			p.DataVencimento = *in.DataVencimento
		}
		if in.GrupoDescricao != nil && *in.GrupoDescricao != p.GrupoDescricao {
			changes = append(changes, FieldChange{Field: "Descrição", Old: orDash(p.GrupoDescricao), New: orDash(*in.GrupoDescricao)})
			p.GrupoDescricao = *in.GrupoDescricao
		}
		if len(changes) == 0 {
			return nil, nil
		}

		before, paidBefore := p.Status, p.ValorPago
		settle(p, today)
		if !p.ValorPago.Decimal.Equal(paidBefore.Decimal) {
			changes = append(changes, FieldChange{Field: "Valor pago", Old: formatNull(paidBefore), New: formatNull(p.ValorPago)})
		}
		if p.Status != before {
			changes = append(changes, FieldChange{Field: "Status", Old: string(before), New: string(p.Status)})
		}

		return &pendingEntry{
			kind:  KindEdicao,
			event: Event{Balance: p.SaldoRestante, Changes: changes},
		}, nil
	})
}

func (l *Ledger) checkNumeroFree(ctx context.Context, s Store, p Parcela, numero int) error {
	filter := InstallmentFilter{DividaID: p.DividaID, ContractOnly: p.IsContract()}
	siblings, err := s.ListInstallments(ctx, p.ClienteID, filter)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.ID != p.ID && sib.NumeroParcela == numero {
			return fmt.Errorf("%w: numero %d is taken by %s", ErrDuplicateNumero, numero, sib.ID)
		}
	}
	return nil
}
