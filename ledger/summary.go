package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// SUMMARY - Aggregates recomputed from the current installments
// =============================================================================

// StatusCounts counts installments per derived status.
type StatusCounts struct {
	Pendente int
	Atrasado int
	Parcial  int
	Pago     int
}

// Summary aggregates a set of installments.
//
//	Total    = sum of valorParcela
//	Pago     = sum of valorPago
//	Pendente = outstanding on installments not yet due
//	Atrasado = outstanding on installments past due (partials included)
type Summary struct {
	Total    decimal.Decimal
	Pago     decimal.Decimal
	Pendente decimal.Decimal
	Atrasado decimal.Decimal
	Counts   StatusCounts

	// NextDue is the earliest unsettled installment, if any.
	NextDue *Parcela
}

// Summarize computes a Summary for today. Statuses are derived first, so
// stored rows with a stale pendente are counted as atrasado.
func Summarize(ps []Parcela, today Date) Summary {
	s := Summary{Total: decimal.Zero, Pago: decimal.Zero, Pendente: decimal.Zero, Atrasado: decimal.Zero}
	for _, p := range ps {
		p = Derive(p, today)
		s.Total = s.Total.Add(p.ValorParcela)
		s.Pago = s.Pago.Add(p.Paid())

		switch p.Status {
		case StatusPendente:
			s.Counts.Pendente++
		case StatusAtrasado:
			s.Counts.Atrasado++
		case StatusParcial:
			s.Counts.Parcial++
		case StatusPago:
			s.Counts.Pago++
			continue
		}

		if p.DataVencimento.Before(today) {
			s.Atrasado = s.Atrasado.Add(p.Outstanding())
		} else {
			s.Pendente = s.Pendente.Add(p.Outstanding())
		}
		if s.NextDue == nil || p.DataVencimento.Before(s.NextDue.DataVencimento) {
			next := p
			s.NextDue = &next
		}
	}
	return s
}

// DebtSummary pairs a debt with the summary of its installments.
type DebtSummary struct {
	Divida  Divida
	Summary Summary
}

// ClientSummary is the billing overview of one client.
type ClientSummary struct {
	ClienteID string
	Overall   Summary
	Contract  Summary
	Debts     []DebtSummary
}

// SummarizeClient loads a client's installments and debts and aggregates them
// overall, for the original contract and per debt.
func (l *Ledger) SummarizeClient(ctx context.Context, clienteID string) (ClientSummary, error) {
	var (
		parcelas []Parcela
		dividas  []Divida
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		parcelas, err = l.store.ListInstallments(gctx, clienteID, InstallmentFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		dividas, err = l.store.ListDebts(gctx, clienteID)
		return err
	})
	if err := g.Wait(); err != nil {
		return ClientSummary{}, err
	}

	today := l.today()
	byDebt := make(map[string][]Parcela)
	for _, p := range parcelas {
		byDebt[p.DividaID] = append(byDebt[p.DividaID], p)
	}

	out := ClientSummary{
		ClienteID: clienteID,
		Overall:   Summarize(parcelas, today),
		Contract:  Summarize(byDebt[""], today),
		Debts:     make([]DebtSummary, 0, len(dividas)),
	}
	for _, d := range dividas {
		out.Debts = append(out.Debts, DebtSummary{Divida: d, Summary: Summarize(byDebt[d.ID], today)})
	}
	return out, nil
}

// SummarizeDebt aggregates the installments of one debt.
func (l *Ledger) SummarizeDebt(ctx context.Context, dividaID string) (DebtSummary, error) {
	d, err := l.store.GetDebt(ctx, dividaID)
	if err != nil {
		return DebtSummary{}, err
	}
	ps, err := l.store.ListInstallments(ctx, d.ClienteID, InstallmentFilter{DividaID: d.ID})
	if err != nil {
		return DebtSummary{}, err
	}
	return DebtSummary{Divida: d, Summary: Summarize(ps, l.today())}, nil
}
