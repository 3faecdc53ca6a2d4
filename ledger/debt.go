/*
debt.go - Debt grouping: turning a plan into installments

PLANS:
  Equal split:  NumeroParcelas installments of ValorTotal/N, rounded to
                cents. The last installment absorbs the rounding remainder,
                so 1000 / 3 = 333.33 + 333.33 + 333.34.
  Groups:       Optional Entrada (down payment, installment #1) followed by
                each group's Quantidade installments of ValorParcela.

  Installments are numbered from 1 in creation order and fall due one
  calendar month apart starting at DataInicio. Month arithmetic is always
  relative to DataInicio, so a plan starting on the 31st stays on the last
  day of shorter months without drifting.

CONSISTENCY:
  The generated amounts must add up to ValorTotal within SumTolerance.
  A mismatch fails with SumMismatchError before anything is written.

LIFECYCLE:
  CreateDebt writes the debt and all its installments in one transaction.
  DeleteDebt removes the debt, its installments and their audit entries
  (comments included). There is no undo.
*/
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Plan describes how a total is split into installments.
type Plan struct {
	ValorTotal     decimal.Decimal
	NumeroParcelas int
	DataInicio     Date
	Grupos         []GrupoParcelas
	Entrada        decimal.NullDecimal
}

func (pl Plan) validate() error {
	if !pl.ValorTotal.IsPositive() {
		return invalid("valorTotal", "must be positive")
	}
	if err := checkCents("valorTotal", pl.ValorTotal); err != nil {
		return err
	}
	if pl.DataInicio.IsZero() {
		return invalid("dataInicio", "is required")
	}
	if pl.Entrada.Valid && !pl.Entrada.Decimal.IsPositive() {
		return invalid("entrada", "must be positive when present")
	}
	if pl.Entrada.Valid {
		if err := checkCents("entrada", pl.Entrada.Decimal); err != nil {
			return err
		}
	}
	if len(pl.Grupos) == 0 {
		if pl.Entrada.Valid {
			return invalid("entrada", "requires installment groups")
		}
		if pl.NumeroParcelas < 1 {
			return invalid("numeroParcelas", "must be 1 or greater")
		}
		return nil
	}
	for i, g := range pl.Grupos {
		if g.Quantidade < 1 {
			return invalid(fmt.Sprintf("gruposParcelas[%d].quantidade", i), "must be 1 or greater")
		}
		if !g.ValorParcela.IsPositive() {
			return invalid(fmt.Sprintf("gruposParcelas[%d].valorParcela", i), "must be positive")
		}
		if err := checkCents(fmt.Sprintf("gruposParcelas[%d].valorParcela", i), g.ValorParcela); err != nil {
			return err
		}
	}
	return nil
}

// Build generates the installments of the plan. Rows carry numero, amount,
// due date and group label; ids and ownership are filled in by the caller.
func (pl Plan) Build() ([]Parcela, error) {
	if err := pl.validate(); err != nil {
		return nil, err
	}

	var rows []Parcela
	add := func(valor decimal.Decimal, label string) {
		rows = append(rows, Parcela{
			NumeroParcela:  len(rows) + 1,
			ValorParcela:   valor,
			DataVencimento: pl.DataInicio.AddMonths(len(rows)),
			Status:         StatusPendente,
			GrupoDescricao: label,
		})
	}

	if len(pl.Grupos) == 0 {
		n := decimal.NewFromInt(int64(pl.NumeroParcelas))
		base := pl.ValorTotal.DivRound(n, 2)
		last := pl.ValorTotal.Sub(base.Mul(n.Sub(decimal.NewFromInt(1))))
		if !base.IsPositive() || !last.IsPositive() {
			return nil, invalid("numeroParcelas", "%d installments leave no amount per installment", pl.NumeroParcelas)
		}
		for i := 0; i < pl.NumeroParcelas-1; i++ {
			add(base, "")
		}
		add(last, "")
	} else {
		if pl.Entrada.Valid {
			add(pl.Entrada.Decimal, "Entrada")
		}
		for k, g := range pl.Grupos {
			label := strings.TrimSpace(g.Descricao)
			if label == "" {
				label = fmt.Sprintf("Grupo %d", k+1)
			}
			for i := 0; i < g.Quantidade; i++ {
				add(g.ValorParcela, label)
			}
		}
	}

	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.ValorParcela)
	}
	if sum.Sub(pl.ValorTotal).Abs().GreaterThan(SumTolerance) {
		return nil, &SumMismatchError{Declared: pl.ValorTotal, Computed: sum}
	}
	return rows, nil
}

// =============================================================================
// DEBT OPERATIONS
// =============================================================================

// DebtInput is a request to create an ad-hoc debt.
type DebtInput struct {
	ClienteID string
	Titulo    string
	Descricao string
	Plan      Plan
}

// CreateDebt validates the plan and writes the debt with all its
// installments atomically.
func (l *Ledger) CreateDebt(ctx context.Context, in DebtInput, actor Actor) (Divida, []Parcela, error) {
	if strings.TrimSpace(in.ClienteID) == "" {
		return Divida{}, nil, invalid("clienteId", "is required")
	}
	if strings.TrimSpace(in.Titulo) == "" {
		return Divida{}, nil, invalid("titulo", "is required")
	}
	rows, err := in.Plan.Build()
	if err != nil {
		return Divida{}, nil, err
	}

	now := l.clock().UTC()
	d := Divida{
		ID:             l.newID(),
		ClienteID:      in.ClienteID,
		Titulo:         strings.TrimSpace(in.Titulo),
		Descricao:      in.Descricao,
		ValorTotal:     in.Plan.ValorTotal,
		NumeroParcelas: len(rows),
		DataInicio:     in.Plan.DataInicio,
		Grupos:         in.Plan.Grupos,
		Entrada:        in.Plan.Entrada,
		CreatedBy:      actor.ID,
		CreatedAt:      now,
	}
	rows = l.own(rows, in.ClienteID, d.ID)

	err = l.store.WithTx(ctx, func(s Store) error {
		if err := s.CreateDebt(ctx, d); err != nil {
			return err
		}
		return s.CreateInstallments(ctx, rows)
	})
	if err != nil {
		return Divida{}, nil, err
	}

	l.log.Info().Str("divida_id", d.ID).Str("cliente_id", d.ClienteID).
		Int("parcelas", len(rows)).Str("valor_total", d.ValorTotal.StringFixed(2)).Msg("debt created")
	return d, rows, nil
}

// CreateContractPlan generates the original-contract installments of a
// client. A client has at most one contract plan.
func (l *Ledger) CreateContractPlan(ctx context.Context, clienteID string, plan Plan, actor Actor) ([]Parcela, error) {
	if strings.TrimSpace(clienteID) == "" {
		return nil, invalid("clienteId", "is required")
	}
	rows, err := plan.Build()
	if err != nil {
		return nil, err
	}
	rows = l.own(rows, clienteID, "")

	err = l.store.WithTx(ctx, func(s Store) error {
		existing, err := s.ListInstallments(ctx, clienteID, InstallmentFilter{ContractOnly: true})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: client %s already has %d contract installments",
				ErrDuplicateNumero, clienteID, len(existing))
		}
		return s.CreateInstallments(ctx, rows)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().Str("cliente_id", clienteID).Str("actor", actor.ID).
		Int("parcelas", len(rows)).Msg("contract plan created")
	return rows, nil
}

func (l *Ledger) own(rows []Parcela, clienteID, dividaID string) []Parcela {
	now := l.clock().UTC()
	today := l.today()
	for i := range rows {
		rows[i].ID = l.newID()
		rows[i].ClienteID = clienteID
		rows[i].DividaID = dividaID
		rows[i].Status = DeriveStatus(StatusPendente, rows[i].DataVencimento, today)
		rows[i].Version = 1
		rows[i].CreatedAt = now
		rows[i].UpdatedAt = now
	}
	return rows
}

// GetDebt returns a debt by id.
func (l *Ledger) GetDebt(ctx context.Context, id string) (Divida, error) {
	return l.store.GetDebt(ctx, id)
}

// ListDebts returns a client's debts.
func (l *Ledger) ListDebts(ctx context.Context, clienteID string) ([]Divida, error) {
	return l.store.ListDebts(ctx, clienteID)
}

// DeleteDebt removes a debt with its installments and their history.
func (l *Ledger) DeleteDebt(ctx context.Context, id string, actor Actor) error {
	err := l.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetDebt(ctx, id); err != nil {
			return err
		}
		return s.DeleteDebt(ctx, id)
	})
	if err != nil {
		return err
	}
	l.log.Info().Str("divida_id", id).Str("actor", actor.ID).Msg("debt deleted")
	return nil
}
