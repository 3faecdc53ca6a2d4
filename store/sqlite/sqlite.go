/*
Package sqlite provides a SQLite-backed ledger.TxStore.

PURPOSE:
  Persists installments, debts and audit entries for single-node
  deployments and local development. store/postgres is the multi-node
  counterpart with the same schema.

KEY TABLES:
  dividas:        Ad-hoc debts (plan groups as JSON)
  parcelas:       Installments, contract ones have divida_id NULL
  audit_entries:  History per installment (event payload as JSON)

CONSTRAINTS:
  - idx_parcelas_numero: numero_parcela is unique per client and owner
    (contract or debt). Violations surface as ledger.ErrDuplicateNumero.
  - parcelas.status is CHECKed against the four known statuses.
  - Deleting a debt removes its installments and their entries in the
    same transaction.

MONEY:
  Amounts are TEXT holding the decimal string. decimal.Decimal and
  decimal.NullDecimal implement sql.Scanner/driver.Valuer, so they are
  bound and scanned directly.

CONCURRENCY:
  Writes are serialized with a mutex and all statements inside WithTx go
  through the *sql.Tx. ":memory:" databases are per connection, so the
  pool is capped to one connection for them.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/installment-ledger/ledger"
)

// Timestamps are stored in a fixed-width layout so TEXT ordering matches
// time ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	records
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{records: records{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dividas (
		id TEXT PRIMARY KEY,
		cliente_id TEXT NOT NULL,
		titulo TEXT NOT NULL,
		descricao TEXT,
		valor_total TEXT NOT NULL,
		numero_parcelas INTEGER NOT NULL,
		data_inicio TEXT NOT NULL,
		grupos_json TEXT,
		entrada TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dividas_cliente
		ON dividas(cliente_id, created_at);

	CREATE TABLE IF NOT EXISTS parcelas (
		id TEXT PRIMARY KEY,
		cliente_id TEXT NOT NULL,
		divida_id TEXT REFERENCES dividas(id) ON DELETE CASCADE,
		numero_parcela INTEGER NOT NULL,
		valor_parcela TEXT NOT NULL,
		data_vencimento TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pendente', 'atrasado', 'parcial', 'pago')),
		valor_pago TEXT,
		saldo_restante TEXT,
		data_pagamento TEXT,
		metodo_pagamento TEXT,
		observacoes TEXT,
		comprovante_url TEXT,
		grupo_descricao TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_parcelas_numero
		ON parcelas(cliente_id, COALESCE(divida_id, ''), numero_parcela);
	CREATE INDEX IF NOT EXISTS idx_parcelas_divida
		ON parcelas(divida_id);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		parcela_id TEXT NOT NULL REFERENCES parcelas(id) ON DELETE CASCADE,
		author_id TEXT NOT NULL,
		author_name TEXT,
		kind TEXT NOT NULL,
		body TEXT NOT NULL,
		event_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_parcela
		ON audit_entries(parcela_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes every row. Used when loading demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"audit_entries", "parcelas", "dividas"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(records{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Writes outside WithTx run in their own transaction.

func (s *Store) CreateInstallments(ctx context.Context, ps []ledger.Parcela) error {
	return s.WithTx(ctx, func(tx ledger.Store) error { return tx.CreateInstallments(ctx, ps) })
}

func (s *Store) UpdateInstallment(ctx context.Context, p ledger.Parcela) error {
	return s.WithTx(ctx, func(tx ledger.Store) error { return tx.UpdateInstallment(ctx, p) })
}

func (s *Store) CreateDebt(ctx context.Context, d ledger.Divida) error {
	return s.WithTx(ctx, func(tx ledger.Store) error { return tx.CreateDebt(ctx, d) })
}

func (s *Store) DeleteDebt(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx ledger.Store) error { return tx.DeleteDebt(ctx, id) })
}

func (s *Store) AppendAuditEntry(ctx context.Context, e ledger.AuditEntry) error {
	return s.WithTx(ctx, func(tx ledger.Store) error { return tx.AppendAuditEntry(ctx, e) })
}

func (s *Store) DeleteAuditEntry(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx ledger.Store) error { return tx.DeleteAuditEntry(ctx, id) })
}

// =============================================================================
// RECORDS - Statements shared by the pool and by transactions
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type records struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------
// Installments
// -----------------------------------------------------------------------------

const parcelaColumns = `
	id, cliente_id, divida_id, numero_parcela, valor_parcela, data_vencimento, status,
	valor_pago, saldo_restante, data_pagamento, metodo_pagamento, observacoes,
	comprovante_url, grupo_descricao, version, created_at, updated_at`

func (r records) CreateInstallments(ctx context.Context, ps []ledger.Parcela) error {
	query := `INSERT INTO parcelas (` + parcelaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, p := range ps {
		_, err := r.q.ExecContext(ctx, query,
			p.ID,
			p.ClienteID,
			nullString(p.DividaID),
			p.NumeroParcela,
			p.ValorParcela,
			p.DataVencimento.String(),
			string(p.Status),
			p.ValorPago,
			p.SaldoRestante,
			nullString(p.DataPagamento.String()),
			nullString(p.MetodoPagamento),
			nullString(p.Observacoes),
			nullString(p.ComprovanteURL),
			nullString(p.GrupoDescricao),
			p.Version,
			formatTime(p.CreatedAt),
			formatTime(p.UpdatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: numero %d", ledger.ErrDuplicateNumero, p.NumeroParcela)
			}
			return fmt.Errorf("failed to insert parcela %s: %w", p.ID, err)
		}
	}
	return nil
}

func (r records) GetInstallment(ctx context.Context, id string) (ledger.Parcela, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+parcelaColumns+` FROM parcelas WHERE id = ?`, id)
	p, err := scanParcela(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Parcela{}, fmt.Errorf("%w: %s", ledger.ErrInstallmentNotFound, id)
	}
	return p, err
}

func (r records) ListInstallments(ctx context.Context, clienteID string, filter ledger.InstallmentFilter) ([]ledger.Parcela, error) {
	query := `SELECT ` + parcelaColumns + ` FROM parcelas WHERE cliente_id = ?`
	args := []any{clienteID}
	switch {
	case filter.ContractOnly:
		query += ` AND divida_id IS NULL`
	case filter.DividaID != "":
		query += ` AND divida_id = ?`
		args = append(args, filter.DividaID)
	}
	query += ` ORDER BY COALESCE(divida_id, ''), numero_parcela`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query parcelas: %w", err)
	}
	defer rows.Close()

	result := make([]ledger.Parcela, 0)
	for rows.Next() {
		p, err := scanParcela(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r records) UpdateInstallment(ctx context.Context, p ledger.Parcela) error {
	query := `
		UPDATE parcelas SET
			numero_parcela = ?, valor_parcela = ?, data_vencimento = ?, status = ?,
			valor_pago = ?, saldo_restante = ?, data_pagamento = ?, metodo_pagamento = ?,
			observacoes = ?, comprovante_url = ?, grupo_descricao = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := r.q.ExecContext(ctx, query,
		p.NumeroParcela,
		p.ValorParcela,
		p.DataVencimento.String(),
		string(p.Status),
		p.ValorPago,
		p.SaldoRestante,
		nullString(p.DataPagamento.String()),
		nullString(p.MetodoPagamento),
		nullString(p.Observacoes),
		nullString(p.ComprovanteURL),
		nullString(p.GrupoDescricao),
		formatTime(p.UpdatedAt),
		p.ID,
		p.Version,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: numero %d", ledger.ErrDuplicateNumero, p.NumeroParcela)
		}
		return fmt.Errorf("failed to update parcela %s: %w", p.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetInstallment(ctx, p.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: parcela %s changed since version %d",
			ledger.ErrConcurrentModification, p.ID, p.Version)
	}
	return nil
}

func scanParcela(row scanner) (ledger.Parcela, error) {
	var (
		p           ledger.Parcela
		dividaID    sql.NullString
		vencimento  string
		status      string
		pagamento   sql.NullString
		metodo      sql.NullString
		observacoes sql.NullString
		comprovante sql.NullString
		grupo       sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(
		&p.ID, &p.ClienteID, &dividaID, &p.NumeroParcela, &p.ValorParcela, &vencimento, &status,
		&p.ValorPago, &p.SaldoRestante, &pagamento, &metodo, &observacoes,
		&comprovante, &grupo, &p.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan parcela: %w", err)
	}

	p.DividaID = dividaID.String
	p.Status = ledger.Status(status)
	if p.DataVencimento, err = ledger.ParseDate(vencimento); err != nil {
		return p, fmt.Errorf("failed to parse data_vencimento of %s: %w", p.ID, err)
	}
	if pagamento.Valid {
		if p.DataPagamento, err = ledger.ParseDate(pagamento.String); err != nil {
			return p, fmt.Errorf("failed to parse data_pagamento of %s: %w", p.ID, err)
		}
	}
	p.MetodoPagamento = metodo.String
	p.Observacoes = observacoes.String
	p.ComprovanteURL = comprovante.String
	p.GrupoDescricao = grupo.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// -----------------------------------------------------------------------------
// Debts
// -----------------------------------------------------------------------------

const dividaColumns = `
	id, cliente_id, titulo, descricao, valor_total, numero_parcelas, data_inicio,
	grupos_json, entrada, created_by, created_at`

func (r records) CreateDebt(ctx context.Context, d ledger.Divida) error {
	grupos, err := json.Marshal(d.Grupos)
	if err != nil {
		return fmt.Errorf("failed to encode grupos: %w", err)
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO dividas (`+dividaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.ClienteID,
		d.Titulo,
		nullString(d.Descricao),
		d.ValorTotal,
		d.NumeroParcelas,
		d.DataInicio.String(),
		string(grupos),
		d.Entrada,
		nullString(d.CreatedBy),
		formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert divida %s: %w", d.ID, err)
	}
	return nil
}

func (r records) GetDebt(ctx context.Context, id string) (ledger.Divida, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+dividaColumns+` FROM dividas WHERE id = ?`, id)
	d, err := scanDivida(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Divida{}, fmt.Errorf("%w: %s", ledger.ErrDebtNotFound, id)
	}
	return d, err
}

func (r records) ListDebts(ctx context.Context, clienteID string) ([]ledger.Divida, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+dividaColumns+` FROM dividas WHERE cliente_id = ? ORDER BY created_at, rowid`,
		clienteID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query dividas: %w", err)
	}
	defer rows.Close()

	result := make([]ledger.Divida, 0)
	for rows.Next() {
		d, err := scanDivida(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r records) DeleteDebt(ctx context.Context, id string) error {
	if _, err := r.GetDebt(ctx, id); err != nil {
		return err
	}

	statements := []string{
		`DELETE FROM audit_entries WHERE parcela_id IN (SELECT id FROM parcelas WHERE divida_id = ?)`,
		`DELETE FROM parcelas WHERE divida_id = ?`,
		`DELETE FROM dividas WHERE id = ?`,
	}
	for _, stmt := range statements {
		if _, err := r.q.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete divida %s: %w", id, err)
		}
	}
	return nil
}

func scanDivida(row scanner) (ledger.Divida, error) {
	var (
		d         ledger.Divida
		descricao sql.NullString
		inicio    string
		grupos    sql.NullString
		createdBy sql.NullString
		createdAt string
	)

	err := row.Scan(
		&d.ID, &d.ClienteID, &d.Titulo, &descricao, &d.ValorTotal, &d.NumeroParcelas, &inicio,
		&grupos, &d.Entrada, &createdBy, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("failed to scan divida: %w", err)
	}

	d.Descricao = descricao.String
	if d.DataInicio, err = ledger.ParseDate(inicio); err != nil {
		return d, fmt.Errorf("failed to parse data_inicio of %s: %w", d.ID, err)
	}
	if grupos.Valid && grupos.String != "" && grupos.String != "null" {
		if err := json.Unmarshal([]byte(grupos.String), &d.Grupos); err != nil {
			return d, fmt.Errorf("failed to decode grupos of %s: %w", d.ID, err)
		}
	}
	d.CreatedBy = createdBy.String
	d.CreatedAt = parseTime(createdAt)
	return d, nil
}

// -----------------------------------------------------------------------------
// Audit entries
// -----------------------------------------------------------------------------

const auditColumns = `id, parcela_id, author_id, author_name, kind, body, event_json, created_at`

func (r records) AppendAuditEntry(ctx context.Context, e ledger.AuditEntry) error {
	event, err := json.Marshal(e.Event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO audit_entries (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.ParcelaID,
		e.AuthorID,
		nullString(e.AuthorName),
		string(e.Kind),
		e.Body,
		string(event),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return fmt.Errorf("%w: %s", ledger.ErrInstallmentNotFound, e.ParcelaID)
		}
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (r records) GetAuditEntry(ctx context.Context, id string) (ledger.AuditEntry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_entries WHERE id = ?`, id)
	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.AuditEntry{}, fmt.Errorf("%w: %s", ledger.ErrAuditEntryNotFound, id)
	}
	return e, err
}

func (r records) ListAuditEntries(ctx context.Context, parcelaID string) ([]ledger.AuditEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE parcela_id = ?
		 ORDER BY created_at DESC, rowid DESC`,
		parcelaID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	result := make([]ledger.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r records) DeleteAuditEntry(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM audit_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete audit entry %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrAuditEntryNotFound, id)
	}
	return nil
}

func scanAuditEntry(row scanner) (ledger.AuditEntry, error) {
	var (
		e          ledger.AuditEntry
		authorName sql.NullString
		kind       string
		event      sql.NullString
		createdAt  string
	)

	err := row.Scan(&e.ID, &e.ParcelaID, &e.AuthorID, &authorName, &kind, &e.Body, &event, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	e.AuthorName = authorName.String
	e.Kind = ledger.AuditKind(kind)
	e.CreatedAt = parseTime(createdAt)
	if event.Valid && event.String != "" {
		if err := json.Unmarshal([]byte(event.String), &e.Event); err != nil {
			return e, fmt.Errorf("failed to decode event of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

var _ ledger.TxStore = (*Store)(nil)
