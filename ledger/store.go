/*
store.go - Persistence interfaces for installments, debts and audit entries

PURPOSE:
  Defines the boundary between the ledger and the relational record store.
  The store holds no business rules: it trusts the ledger to hand it
  validated rows.

KEY INTERFACES:
  InstallmentStore: Parcela rows (bulk create, get, list, versioned update)
  DebtStore:        Divida rows (create, get, list, cascading delete)
  AuditStore:       AuditEntry rows (append, get, list newest first, delete)
  Store:            All three
  TxStore:          Store plus WithTx for atomic multi-row writes

OPTIMISTIC CONCURRENCY:
  UpdateInstallment only writes when the stored version equals p.Version
  and then increments it. A mismatch returns ErrConcurrentModification.

ATOMICITY:
  An installment update and the audit entry describing it are written in
  one WithTx call. Debt creation (debt + all installments) and deletion
  (debt + installments + entries) are single WithTx calls too.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL
*/
package ledger

import "context"

// InstallmentFilter narrows ListInstallments.
type InstallmentFilter struct {
	// DividaID selects the installments of one debt.
	DividaID string

	// ContractOnly selects installments that belong to no debt.
	ContractOnly bool
}

// Matches reports whether p passes the filter.
func (f InstallmentFilter) Matches(p Parcela) bool {
	switch {
	case f.ContractOnly:
		return p.DividaID == ""
	case f.DividaID != "":
		return p.DividaID == f.DividaID
	default:
		return true
	}
}

// InstallmentStore persists Parcela rows.
type InstallmentStore interface {
	// CreateInstallments inserts all rows or none.
	CreateInstallments(ctx context.Context, ps []Parcela) error

	// GetInstallment returns ErrInstallmentNotFound for unknown ids.
	GetInstallment(ctx context.Context, id string) (Parcela, error)

	// ListInstallments returns a client's installments ordered by
	// debt, then numeroParcela.
	ListInstallments(ctx context.Context, clienteID string, filter InstallmentFilter) ([]Parcela, error)

	// UpdateInstallment writes p if the stored version equals p.Version.
	UpdateInstallment(ctx context.Context, p Parcela) error
}

// DebtStore persists Divida rows.
type DebtStore interface {
	CreateDebt(ctx context.Context, d Divida) error

	// GetDebt returns ErrDebtNotFound for unknown ids.
	GetDebt(ctx context.Context, id string) (Divida, error)

	ListDebts(ctx context.Context, clienteID string) ([]Divida, error)

	// DeleteDebt removes the debt, its installments and their audit entries.
	DeleteDebt(ctx context.Context, id string) error
}

// AuditStore persists AuditEntry rows.
type AuditStore interface {
	AppendAuditEntry(ctx context.Context, e AuditEntry) error

	// GetAuditEntry returns ErrAuditEntryNotFound for unknown ids.
	GetAuditEntry(ctx context.Context, id string) (AuditEntry, error)

	// ListAuditEntries returns an installment's entries, newest first.
	ListAuditEntries(ctx context.Context, parcelaID string) ([]AuditEntry, error)

	DeleteAuditEntry(ctx context.Context, id string) error
}

// Store is the full record store.
type Store interface {
	InstallmentStore
	DebtStore
	AuditStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Locker serializes read-modify-write cycles on a single key.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned
	// function releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
