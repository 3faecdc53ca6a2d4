/*
Package ledger provides the installment payment ledger.

PURPOSE:
  Tracks what a client owes through scheduled installments (parcelas),
  either from the original contract or from ad-hoc debts (dividas), and
  how much of each installment has been paid. Every change to an
  installment is recorded in an audit trail that can also undo it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Parcela: A single installment with its payment state
  - Divida: An ad-hoc debt owning a generated set of parcelas
  - AuditEntry: An append-only history record with a typed event payload
  - Actor: Who performed an operation (resolved outside the ledger)

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, never float64
  2. Absence is explicit: valorPago/saldoRestante use decimal.NullDecimal
  3. Typed history: Audit entries carry a Kind and a structured Event,
     so nothing is ever parsed back out of comment text
  4. Versioned rows: Every Parcela carries an optimistic-concurrency token

USAGE:
  p := ledger.Parcela{
      ClienteID:      "cli-1",
      NumeroParcela:  1,
      ValorParcela:   decimal.NewFromInt(900),
      DataVencimento: ledger.NewDate(2025, time.March, 10),
      Status:         ledger.StatusPendente,
  }

SEE ALSO:
  - status.go: pendente/atrasado derivation
  - payment.go: Payment Processor operations
  - audit.go: Audit trail kinds and rendering
  - debt.go: Debt grouping
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPendente Status = "pendente" // Not paid, not yet due
	StatusAtrasado Status = "atrasado" // Not paid, past due (derived from pendente)
	StatusParcial  Status = "parcial"  // Partially paid, saldoRestante > 0
	StatusPago     Status = "pago"     // Fully paid
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPendente, StatusAtrasado, StatusParcial, StatusPago:
		return true
	}
	return false
}

// IsOpen reports whether nothing has been paid yet.
func (s Status) IsOpen() bool { return s == StatusPendente || s == StatusAtrasado }

// AcceptsPayment reports whether RegisterPayment may run in this status.
func (s Status) AcceptsPayment() bool { return s.IsOpen() || s == StatusParcial }

// HasPayment reports whether payment metadata may be edited in this status.
func (s Status) HasPayment() bool { return s == StatusParcial || s == StatusPago }

// =============================================================================
// PARCELA - A single scheduled installment
// =============================================================================

// Parcela is an installment owed by a client. DividaID is empty when the
// installment belongs to the original contract.
type Parcela struct {
	ID             string
	ClienteID      string
	DividaID       string
	NumeroParcela  int
	ValorParcela   decimal.Decimal
	DataVencimento Date
	Status         Status

	// Payment state. ValorPago is cumulative; SaldoRestante is only set
	// while the installment is parcial.
	ValorPago     decimal.NullDecimal
	SaldoRestante decimal.NullDecimal

	// Payment metadata, set once a payment exists.
	DataPagamento   Date
	MetodoPagamento string
	Observacoes     string
	ComprovanteURL  string

	GrupoDescricao string

	// Version is incremented by the store on every update.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsContract reports whether the installment belongs to the original contract.
func (p Parcela) IsContract() bool { return p.DividaID == "" }

// Paid returns the amount credited so far (zero when absent).
func (p Parcela) Paid() decimal.Decimal {
	if !p.ValorPago.Valid {
		return decimal.Zero
	}
	return p.ValorPago.Decimal
}

// Outstanding returns what is still owed on the installment.
func (p Parcela) Outstanding() decimal.Decimal {
	if p.SaldoRestante.Valid {
		return p.SaldoRestante.Decimal
	}
	out := p.ValorParcela.Sub(p.Paid())
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// paymentMeta captures the fields a payment sets, so a retraction can put
// them back.
type paymentMeta struct {
	Date   Date
	Method string
}

func (p Parcela) meta() paymentMeta {
	return paymentMeta{Date: p.DataPagamento, Method: p.MetodoPagamento}
}

func (p *Parcela) clearPayment() {
	p.ValorPago = decimal.NullDecimal{}
	p.SaldoRestante = decimal.NullDecimal{}
	p.DataPagamento = Date{}
	p.MetodoPagamento = ""
}

// =============================================================================
// DIVIDA - Ad-hoc debt owning its own installments
// =============================================================================

// GrupoParcelas is one block of equal installments in a custom plan.
type GrupoParcelas struct {
	Quantidade   int             `json:"quantidade"`
	ValorParcela decimal.Decimal `json:"valorParcela"`
	Descricao    string          `json:"descricao,omitempty"`
}

// Divida is an ad-hoc debt, distinct from the original contract.
type Divida struct {
	ID             string
	ClienteID      string
	Titulo         string
	Descricao      string
	ValorTotal     decimal.Decimal
	NumeroParcelas int
	DataInicio     Date

	// Custom plan. When Grupos is empty the debt was split evenly.
	Grupos  []GrupoParcelas
	Entrada decimal.NullDecimal

	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// AUDIT ENTRY - Append-only history record
// =============================================================================

// AuditEntry records one state-changing event (or a free comment) on a Parcela.
type AuditEntry struct {
	ID         string
	ParcelaID  string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
	Kind       AuditKind
	Body       string
	Event      Event
}

// Event is the structured payload of an audit entry.
type Event struct {
	// Amount is the credited amount for payments, the reversed amount for
	// retractions and the cleared amount for reopenings.
	Amount decimal.NullDecimal `json:"amount,omitempty"`

	// Balance is the saldoRestante after the event.
	Balance decimal.NullDecimal `json:"balance,omitempty"`

	// RetractedEntryID points at the payment entry an exclusao undid.
	RetractedEntryID string `json:"retracted_entry_id,omitempty"`

	// Changes lists field edits as old -> new.
	Changes []FieldChange `json:"changes,omitempty"`

	// Payment metadata set by this event and the values it replaced.
	DataPagamento           Date   `json:"data_pagamento,omitempty"`
	MetodoPagamento         string `json:"metodo_pagamento,omitempty"`
	PreviousDataPagamento   Date   `json:"previous_data_pagamento,omitempty"`
	PreviousMetodoPagamento string `json:"previous_metodo_pagamento,omitempty"`
}

// FieldChange is a single edited field rendered for display.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// =============================================================================
// ACTOR
// =============================================================================

// Actor identifies who performed an operation. The ledger treats it as opaque.
type Actor struct {
	ID   string
	Name string
}

// SystemActor is used when no user is attached to the request.
var SystemActor = Actor{ID: "system", Name: "Sistema"}
