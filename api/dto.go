/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures exchanged with the CRM UI. Domain types in
  ledger carry no JSON tags; everything the wire sees is declared here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts are decimal strings with two places ("300.00"); requests accept
  numbers or strings. Dates are "YYYY-MM-DD". Absent payment fields are null.

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required, ranges). Business rules stay in the ledger.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/installment-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// PaymentRequest registers a payment (baixa).
type PaymentRequest struct {
	Valor          decimal.Decimal `json:"valor"`
	DataPagamento  ledger.Date     `json:"dataPagamento"`
	Metodo         string          `json:"metodoPagamento" validate:"max=50"`
	Observacoes    string          `json:"observacoes" validate:"max=2000"`
	ComprovanteURL string          `json:"comprovanteUrl" validate:"omitempty,url"`
	Parcial        bool            `json:"parcial"`
}

// EditPaymentRequest corrects an existing payment. Omitted fields are kept.
type EditPaymentRequest struct {
	DataPagamento  *ledger.Date     `json:"dataPagamento"`
	Metodo         *string          `json:"metodoPagamento" validate:"omitempty,max=50"`
	ValorPago      *decimal.Decimal `json:"valorPago"`
	Observacoes    *string          `json:"observacoes" validate:"omitempty,max=2000"`
	ComprovanteURL *string          `json:"comprovanteUrl" validate:"omitempty,url"`
}

// EditTermsRequest changes the contractual fields of an installment.
type EditTermsRequest struct {
	NumeroParcela  *int             `json:"numeroParcela" validate:"omitempty,min=1"`
	ValorParcela   *decimal.Decimal `json:"valorParcela"`
	DataVencimento *ledger.Date     `json:"dataVencimento"`
	GrupoDescricao *string          `json:"grupoDescricao" validate:"omitempty,max=200"`
}

// CommentRequest appends a free-form remark.
type CommentRequest struct {
	Texto string `json:"texto" validate:"required,max=2000"`
}

// PlanRequest describes how a total is split into installments.
type PlanRequest struct {
	ValorTotal     decimal.Decimal        `json:"valorTotal"`
	NumeroParcelas int                    `json:"numeroParcelas" validate:"min=0,max=600"`
	DataInicio     ledger.Date            `json:"dataInicio"`
	Grupos         []ledger.GrupoParcelas `json:"gruposParcelas" validate:"max=50"`
	Entrada        decimal.NullDecimal    `json:"entrada"`
}

func (r PlanRequest) plan() ledger.Plan {
	return ledger.Plan{
		ValorTotal:     r.ValorTotal,
		NumeroParcelas: r.NumeroParcelas,
		DataInicio:     r.DataInicio,
		Grupos:         r.Grupos,
		Entrada:        r.Entrada,
	}
}

// CreateDebtRequest creates an ad-hoc debt with its installments.
type CreateDebtRequest struct {
	Titulo    string `json:"titulo" validate:"required,max=200"`
	Descricao string `json:"descricao" validate:"max=2000"`
	PlanRequest
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ParcelaDTO represents an installment in API responses.
type ParcelaDTO struct {
	ID              string  `json:"id"`
	ClienteID       string  `json:"clienteId"`
	DividaID        *string `json:"dividaId"`
	NumeroParcela   int     `json:"numeroParcela"`
	ValorParcela    string  `json:"valorParcela"`
	DataVencimento  string  `json:"dataVencimento"`
	Status          string  `json:"status"`
	ValorPago       *string `json:"valorPago"`
	SaldoRestante   *string `json:"saldoRestante"`
	DataPagamento   *string `json:"dataPagamento"`
	MetodoPagamento *string `json:"metodoPagamento"`
	Observacoes     string  `json:"observacoes,omitempty"`
	ComprovanteURL  string  `json:"comprovanteUrl,omitempty"`
	GrupoDescricao  string  `json:"grupoDescricao,omitempty"`
	Version         int64   `json:"version"`
	UpdatedAt       string  `json:"updatedAt"`
}

func toParcelaDTO(p ledger.Parcela) ParcelaDTO {
	return ParcelaDTO{
		ID:              p.ID,
		ClienteID:       p.ClienteID,
		DividaID:        optString(p.DividaID),
		NumeroParcela:   p.NumeroParcela,
		ValorParcela:    p.ValorParcela.StringFixed(2),
		DataVencimento:  p.DataVencimento.String(),
		Status:          string(p.Status),
		ValorPago:       optMoney(p.ValorPago),
		SaldoRestante:   optMoney(p.SaldoRestante),
		DataPagamento:   optDate(p.DataPagamento),
		MetodoPagamento: optString(p.MetodoPagamento),
		Observacoes:     p.Observacoes,
		ComprovanteURL:  p.ComprovanteURL,
		GrupoDescricao:  p.GrupoDescricao,
		Version:         p.Version,
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	}
}

func toParcelaDTOs(ps []ledger.Parcela) []ParcelaDTO {
	dtos := make([]ParcelaDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toParcelaDTO(p)
	}
	return dtos
}

// DividaDTO represents a debt in API responses.
type DividaDTO struct {
	ID             string                 `json:"id"`
	ClienteID      string                 `json:"clienteId"`
	Titulo         string                 `json:"titulo"`
	Descricao      string                 `json:"descricao,omitempty"`
	ValorTotal     string                 `json:"valorTotal"`
	NumeroParcelas int                    `json:"numeroParcelas"`
	DataInicio     string                 `json:"dataInicio"`
	Grupos         []ledger.GrupoParcelas `json:"gruposParcelas,omitempty"`
	Entrada        *string                `json:"entrada"`
	CreatedBy      string                 `json:"createdBy,omitempty"`
	CreatedAt      string                 `json:"createdAt"`
}

func toDividaDTO(d ledger.Divida) DividaDTO {
	return DividaDTO{
		ID:             d.ID,
		ClienteID:      d.ClienteID,
		Titulo:         d.Titulo,
		Descricao:      d.Descricao,
		ValorTotal:     d.ValorTotal.StringFixed(2),
		NumeroParcelas: d.NumeroParcelas,
		DataInicio:     d.DataInicio.String(),
		Grupos:         d.Grupos,
		Entrada:        optMoney(d.Entrada),
		CreatedBy:      d.CreatedBy,
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
	}
}

// DividaWithParcelasDTO is returned when a debt is created or fetched.
type DividaWithParcelasDTO struct {
	Divida   DividaDTO    `json:"divida"`
	Parcelas []ParcelaDTO `json:"parcelas"`
}

// AuditEntryDTO represents a history entry.
type AuditEntryDTO struct {
	ID         string   `json:"id"`
	ParcelaID  string   `json:"parcelaId"`
	AuthorID   string   `json:"authorId"`
	AuthorName string   `json:"authorName"`
	CreatedAt  string   `json:"createdAt"`
	Kind       string   `json:"kind"`
	Label      string   `json:"label"`
	Body       string   `json:"body"`
	Event      EventDTO `json:"event"`
}

// EventDTO is the structured payload of a history entry.
type EventDTO struct {
	Valor                   *string              `json:"valor,omitempty"`
	SaldoRestante           *string              `json:"saldoRestante,omitempty"`
	RetractedEntryID        *string              `json:"retractedEntryId,omitempty"`
	Changes                 []ledger.FieldChange `json:"changes,omitempty"`
	DataPagamento           *string              `json:"dataPagamento,omitempty"`
	MetodoPagamento         *string              `json:"metodoPagamento,omitempty"`
	PreviousDataPagamento   *string              `json:"previousDataPagamento,omitempty"`
	PreviousMetodoPagamento *string              `json:"previousMetodoPagamento,omitempty"`
}

func toEventDTO(ev ledger.Event) EventDTO {
	return EventDTO{
		Valor:                   optMoney(ev.Amount),
		SaldoRestante:           optMoney(ev.Balance),
		RetractedEntryID:        optString(ev.RetractedEntryID),
		Changes:                 ev.Changes,
		DataPagamento:           optDate(ev.DataPagamento),
		MetodoPagamento:         optString(ev.MetodoPagamento),
		PreviousDataPagamento:   optDate(ev.PreviousDataPagamento),
		PreviousMetodoPagamento: optString(ev.PreviousMetodoPagamento),
	}
}

func toAuditEntryDTO(e ledger.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		ParcelaID:  e.ParcelaID,
		AuthorID:   e.AuthorID,
		AuthorName: e.AuthorName,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339Nano),
		Kind:       string(e.Kind),
		Label:      e.Kind.Label(),
		Body:       e.Body,
		Event:      toEventDTO(e.Event),
	}
}

// SummaryDTO aggregates a set of installments.
type SummaryDTO struct {
	Total    string         `json:"total"`
	Pago     string         `json:"pago"`
	Pendente string         `json:"pendente"`
	Atrasado string         `json:"atrasado"`
	Counts   map[string]int `json:"counts"`
	NextDue  *ParcelaDTO    `json:"proximoVencimento"`
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	dto := SummaryDTO{
		Total:    s.Total.StringFixed(2),
		Pago:     s.Pago.StringFixed(2),
		Pendente: s.Pendente.StringFixed(2),
		Atrasado: s.Atrasado.StringFixed(2),
		Counts: map[string]int{
			string(ledger.StatusPendente): s.Counts.Pendente,
			string(ledger.StatusAtrasado): s.Counts.Atrasado,
			string(ledger.StatusParcial):  s.Counts.Parcial,
			string(ledger.StatusPago):     s.Counts.Pago,
		},
	}
	if s.NextDue != nil {
		next := toParcelaDTO(*s.NextDue)
		dto.NextDue = &next
	}
	return dto
}

// DebtSummaryDTO pairs a debt with its totals.
type DebtSummaryDTO struct {
	Divida DividaDTO  `json:"divida"`
	Resumo SummaryDTO `json:"resumo"`
}

// ClientSummaryDTO is the billing overview of a client.
type ClientSummaryDTO struct {
	ClienteID string           `json:"clienteId"`
	Geral     SummaryDTO       `json:"geral"`
	Contrato  SummaryDTO       `json:"contrato"`
	Dividas   []DebtSummaryDTO `json:"dividas"`
}

func toClientSummaryDTO(s ledger.ClientSummary) ClientSummaryDTO {
	dto := ClientSummaryDTO{
		ClienteID: s.ClienteID,
		Geral:     toSummaryDTO(s.Overall),
		Contrato:  toSummaryDTO(s.Contract),
		Dividas:   make([]DebtSummaryDTO, len(s.Debts)),
	}
	for i, d := range s.Debts {
		dto.Dividas[i] = DebtSummaryDTO{Divida: toDividaDTO(d.Divida), Resumo: toSummaryDTO(d.Summary)}
	}
	return dto
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// HELPERS
// =============================================================================

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optMoney(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.StringFixed(2)
	return &s
}

func optDate(d ledger.Date) *string {
	if d.IsZero() {
		return nil
	}
	s := d.String()
	return &s
}
