/*
Package postgres provides a PostgreSQL-backed ledger.TxStore.

PURPOSE:
  The multi-node store. Several API processes can share one database;
  combined with the Redis lock, payment operations on one installment are
  serialized across all of them.

TRANSACTIONS:
  WithTx runs at REPEATABLE READ. Inside a transaction the installment is
  read with SELECT ... FOR UPDATE, so a concurrent writer blocks until we
  commit. A serialization failure (40001) is reported as
  ledger.ErrConcurrentModification, the same error a stale version gives.

MONEY:
  NUMERIC(14,2) columns. Values are bound as decimal strings and selected
  as ::text, then parsed with shopspring/decimal, so no float ever touches
  an amount.

ORDERING:
  audit_entries and dividas carry a BIGSERIAL seq that breaks ties between
  rows created in the same instant.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/installment-ledger/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS dividas (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	cliente_id TEXT NOT NULL,
	titulo TEXT NOT NULL,
	descricao TEXT,
	valor_total NUMERIC(14,2) NOT NULL,
	numero_parcelas INTEGER NOT NULL,
	data_inicio DATE NOT NULL,
	grupos JSONB,
	entrada NUMERIC(14,2),
	created_by TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dividas_cliente ON dividas (cliente_id, created_at);

CREATE TABLE IF NOT EXISTS parcelas (
	id TEXT PRIMARY KEY,
	cliente_id TEXT NOT NULL,
	divida_id TEXT REFERENCES dividas(id) ON DELETE CASCADE,
	numero_parcela INTEGER NOT NULL,
	valor_parcela NUMERIC(14,2) NOT NULL CHECK (valor_parcela > 0),
	data_vencimento DATE NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pendente', 'atrasado', 'parcial', 'pago')),
	valor_pago NUMERIC(14,2),
	saldo_restante NUMERIC(14,2),
	data_pagamento DATE,
	metodo_pagamento TEXT,
	observacoes TEXT,
	comprovante_url TEXT,
	grupo_descricao TEXT,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_parcelas_numero
	ON parcelas (cliente_id, COALESCE(divida_id, ''), numero_parcela);
CREATE INDEX IF NOT EXISTS idx_parcelas_divida ON parcelas (divida_id);

CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	parcela_id TEXT NOT NULL REFERENCES parcelas(id) ON DELETE CASCADE,
	author_id TEXT NOT NULL,
	author_name TEXT,
	kind TEXT NOT NULL,
	body TEXT NOT NULL,
	event JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entries_parcela ON audit_entries (parcela_id, created_at DESC, seq DESC);
`

// Store implements ledger.TxStore on a pgx pool.
type Store struct {
	records
	pool *pgxpool.Pool
}

// Connect opens a pool, verifies it and applies the schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. Call Migrate before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{records: records{q: pool}, pool: pool}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Reset deletes every row. Used when loading demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE audit_entries, parcelas, dividas`)
	return err
}

// WithTx wraps fn in a repeatable-read transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(records{q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("postgres: commit tx: %w", err))
	}
	return nil
}

// Multi-statement writes outside WithTx get their own transaction.

func (s *Store) CreateInstallments(ctx context.Context, ps []ledger.Parcela) error {
	return s.WithTx(ctx, func(tx ledger.Store) error { return tx.CreateInstallments(ctx, ps) })
}

func (s *Store) DeleteDebt(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx ledger.Store) error { return tx.DeleteDebt(ctx, id) })
}

// =============================================================================
// RECORDS
// =============================================================================

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type records struct {
	q    querier
	inTx bool
}

// -----------------------------------------------------------------------------
// Installments
// -----------------------------------------------------------------------------

const parcelaSelect = `
SELECT id, cliente_id, divida_id, numero_parcela, valor_parcela::text, data_vencimento::text, status,
       valor_pago::text, saldo_restante::text, data_pagamento::text, metodo_pagamento, observacoes,
       comprovante_url, grupo_descricao, version, created_at, updated_at
FROM parcelas`

func (r records) CreateInstallments(ctx context.Context, ps []ledger.Parcela) error {
	const query = `
		INSERT INTO parcelas (
			id, cliente_id, divida_id, numero_parcela, valor_parcela, data_vencimento, status,
			valor_pago, saldo_restante, data_pagamento, metodo_pagamento, observacoes,
			comprovante_url, grupo_descricao, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::date, $7, $8::numeric, $9::numeric, $10::date,
			$11, $12, $13, $14, $15, $16, $17)`

	batch := &pgx.Batch{}
	for _, p := range ps {
		batch.Queue(query,
			p.ID,
			p.ClienteID,
			text(p.DividaID),
			p.NumeroParcela,
			p.ValorParcela.String(),
			p.DataVencimento.String(),
			string(p.Status),
			numeric(p.ValorPago),
			numeric(p.SaldoRestante),
			text(p.DataPagamento.String()),
			text(p.MetodoPagamento),
			text(p.Observacoes),
			text(p.ComprovanteURL),
			text(p.GrupoDescricao),
			p.Version,
			p.CreatedAt,
			p.UpdatedAt,
		)
	}

	results := r.q.SendBatch(ctx, batch)
	defer results.Close()

	for _, p := range ps {
		if _, err := results.Exec(); err != nil {
			return mapError(fmt.Errorf("postgres: insert parcela %s: %w", p.ID, err))
		}
	}
	return results.Close()
}

func (r records) GetInstallment(ctx context.Context, id string) (ledger.Parcela, error) {
	query := parcelaSelect + ` WHERE id = $1`
	if r.inTx {
		query += ` FOR UPDATE`
	}
	p, err := scanParcela(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Parcela{}, fmt.Errorf("%w: %s", ledger.ErrInstallmentNotFound, id)
	}
	return p, mapError(err)
}

func (r records) ListInstallments(ctx context.Context, clienteID string, filter ledger.InstallmentFilter) ([]ledger.Parcela, error) {
	query := parcelaSelect + ` WHERE cliente_id = $1`
	args := []any{clienteID}
	switch {
	case filter.ContractOnly:
		query += ` AND divida_id IS NULL`
	case filter.DividaID != "":
		query += ` AND divida_id = $2`
		args = append(args, filter.DividaID)
	}
	query += ` ORDER BY COALESCE(divida_id, ''), numero_parcela`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query parcelas: %w", err)
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
	const query = `
		UPDATE parcelas SET
			numero_parcela = $1, valor_parcela = $2::numeric, data_vencimento = $3::date, status = $4,
			valor_pago = $5::numeric, saldo_restante = $6::numeric, data_pagamento = $7::date,
			metodo_pagamento = $8, observacoes = $9, comprovante_url = $10, grupo_descricao = $11,
			version = version + 1, updated_at = $12
		WHERE id = $13 AND version = $14`

	tag, err := r.q.Exec(ctx, query,
		p.NumeroParcela,
		p.ValorParcela.String(),
		p.DataVencimento.String(),
		string(p.Status),
		numeric(p.ValorPago),
		numeric(p.SaldoRestante),
		text(p.DataPagamento.String()),
		text(p.MetodoPagamento),
		text(p.Observacoes),
		text(p.ComprovanteURL),
		text(p.GrupoDescricao),
		p.UpdatedAt,
		p.ID,
		p.Version,
	)
	if err != nil {
		return mapError(fmt.Errorf("postgres: update parcela %s: %w", p.ID, err))
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetInstallment(ctx, p.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: parcela %s changed since version %d",
			ledger.ErrConcurrentModification, p.ID, p.Version)
	}
	return nil
}

func scanParcela(row pgx.Row) (ledger.Parcela, error) {
	var (
		p                            ledger.Parcela
		dividaID                     pgtype.Text
		valor, vencimento, status    string
		pago, saldo, pagamento       pgtype.Text
		metodo, observacoes, comprov pgtype.Text
		grupo                        pgtype.Text
	)

	err := row.Scan(
		&p.ID, &p.ClienteID, &dividaID, &p.NumeroParcela, &valor, &vencimento, &status,
		&pago, &saldo, &pagamento, &metodo, &observacoes,
		&comprov, &grupo, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("postgres: scan parcela: %w", err)
	}

	p.DividaID = dividaID.String
	p.Status = ledger.Status(status)
	if p.ValorParcela, err = decimal.NewFromString(valor); err != nil {
		return p, fmt.Errorf("postgres: parcela %s valor_parcela: %w", p.ID, err)
	}
	if p.DataVencimento, err = ledger.ParseDate(vencimento); err != nil {
		return p, fmt.Errorf("postgres: parcela %s data_vencimento: %w", p.ID, err)
	}
	if p.ValorPago, err = parseNumeric(pago); err != nil {
		return p, fmt.Errorf("postgres: parcela %s valor_pago: %w", p.ID, err)
	}
	if p.SaldoRestante, err = parseNumeric(saldo); err != nil {
		return p, fmt.Errorf("postgres: parcela %s saldo_restante: %w", p.ID, err)
	}
	if pagamento.Valid {
		if p.DataPagamento, err = ledger.ParseDate(pagamento.String); err != nil {
			return p, fmt.Errorf("postgres: parcela %s data_pagamento: %w", p.ID, err)
		}
	}
	p.MetodoPagamento = metodo.String
	p.Observacoes = observacoes.String
	p.ComprovanteURL = comprov.String
	p.GrupoDescricao = grupo.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// -----------------------------------------------------------------------------
// Debts
// -----------------------------------------------------------------------------

const dividaSelect = `
SELECT id, cliente_id, titulo, descricao, valor_total::text, numero_parcelas, data_inicio::text,
       grupos::text, entrada::text, created_by, created_at
FROM dividas`

func (r records) CreateDebt(ctx context.Context, d ledger.Divida) error {
	grupos, err := json.Marshal(d.Grupos)
	if err != nil {
		return fmt.Errorf("postgres: encode grupos: %w", err)
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO dividas (
			id, cliente_id, titulo, descricao, valor_total, numero_parcelas, data_inicio,
			grupos, entrada, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::date, $8::jsonb, $9::numeric, $10, $11)`,
		d.ID,
		d.ClienteID,
		d.Titulo,
		text(d.Descricao),
		d.ValorTotal.String(),
		d.NumeroParcelas,
		d.DataInicio.String(),
		string(grupos),
		numeric(d.Entrada),
		text(d.CreatedBy),
		d.CreatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("postgres: insert divida %s: %w", d.ID, err))
	}
	return nil
}

func (r records) GetDebt(ctx context.Context, id string) (ledger.Divida, error) {
	d, err := scanDivida(r.q.QueryRow(ctx, dividaSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Divida{}, fmt.Errorf("%w: %s", ledger.ErrDebtNotFound, id)
	}
	return d, err
}

func (r records) ListDebts(ctx context.Context, clienteID string) ([]ledger.Divida, error) {
	rows, err := r.q.Query(ctx, dividaSelect+` WHERE cliente_id = $1 ORDER BY created_at, seq`, clienteID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query dividas: %w", err)
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
		`DELETE FROM audit_entries WHERE parcela_id IN (SELECT id FROM parcelas WHERE divida_id = $1)`,
		`DELETE FROM parcelas WHERE divida_id = $1`,
		`DELETE FROM dividas WHERE id = $1`,
	}
	for _, stmt := range statements {
		if _, err := r.q.Exec(ctx, stmt, id); err != nil {
			return mapError(fmt.Errorf("postgres: delete divida %s: %w", id, err))
		}
	}
	return nil
}

func scanDivida(row pgx.Row) (ledger.Divida, error) {
	var (
		d                  ledger.Divida
		descricao, grupos  pgtype.Text
		entrada, createdBy pgtype.Text
		valorTotal, inicio string
	)

	err := row.Scan(
		&d.ID, &d.ClienteID, &d.Titulo, &descricao, &valorTotal, &d.NumeroParcelas, &inicio,
		&grupos, &entrada, &createdBy, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("postgres: scan divida: %w", err)
	}

	d.Descricao = descricao.String
	if d.ValorTotal, err = decimal.NewFromString(valorTotal); err != nil {
		return d, fmt.Errorf("postgres: divida %s valor_total: %w", d.ID, err)
	}
	if d.DataInicio, err = ledger.ParseDate(inicio); err != nil {
		return d, fmt.Errorf("postgres: divida %s data_inicio: %w", d.ID, err)
	}
	if grupos.Valid && grupos.String != "null" {
		if err := json.Unmarshal([]byte(grupos.String), &d.Grupos); err != nil {
			return d, fmt.Errorf("postgres: decode grupos of %s: %w", d.ID, err)
		}
	}
	if d.Entrada, err = parseNumeric(entrada); err != nil {
		return d, fmt.Errorf("postgres: divida %s entrada: %w", d.ID, err)
	}
	d.CreatedBy = createdBy.String
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

// -----------------------------------------------------------------------------
// Audit entries
// -----------------------------------------------------------------------------

const auditSelect = `
SELECT id, parcela_id, author_id, author_name, kind, body, event::text, created_at
FROM audit_entries`

func (r records) AppendAuditEntry(ctx context.Context, e ledger.AuditEntry) error {
	event, err := json.Marshal(e.Event)
	if err != nil {
		return fmt.Errorf("postgres: encode event: %w", err)
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO audit_entries (id, parcela_id, author_id, author_name, kind, body, event, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		e.ID,
		e.ParcelaID,
		e.AuthorID,
		text(e.AuthorName),
		string(e.Kind),
		e.Body,
		string(event),
		e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: %s", ledger.ErrInstallmentNotFound, e.ParcelaID)
		}
		return mapError(fmt.Errorf("postgres: insert audit entry: %w", err))
	}
	return nil
}

func (r records) GetAuditEntry(ctx context.Context, id string) (ledger.AuditEntry, error) {
	e, err := scanAuditEntry(r.q.QueryRow(ctx, auditSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.AuditEntry{}, fmt.Errorf("%w: %s", ledger.ErrAuditEntryNotFound, id)
	}
	return e, err
}

func (r records) ListAuditEntries(ctx context.Context, parcelaID string) ([]ledger.AuditEntry, error) {
	rows, err := r.q.Query(ctx, auditSelect+` WHERE parcela_id = $1 ORDER BY created_at DESC, seq DESC`, parcelaID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit entries: %w", err)
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
	tag, err := r.q.Exec(ctx, `DELETE FROM audit_entries WHERE id = $1`, id)
	if err != nil {
		return mapError(fmt.Errorf("postgres: delete audit entry %s: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrAuditEntryNotFound, id)
	}
	return nil
}

func scanAuditEntry(row pgx.Row) (ledger.AuditEntry, error) {
	var (
		e          ledger.AuditEntry
		authorName pgtype.Text
		kind       string
		event      pgtype.Text
	)

	err := row.Scan(&e.ID, &e.ParcelaID, &e.AuthorID, &authorName, &kind, &e.Body, &event, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("postgres: scan audit entry: %w", err)
	}

	e.AuthorName = authorName.String
	e.Kind = ledger.AuditKind(kind)
	e.CreatedAt = e.CreatedAt.UTC()
	if event.Valid && event.String != "" {
		if err := json.Unmarshal([]byte(event.String), &e.Event); err != nil {
			return e, fmt.Errorf("postgres: decode event of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// text binds "" as NULL. Strings are sent in text format, which lets the
// server cast them to the column type.
func text(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func numeric(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	return text(d.Decimal.String())
}

func parseNumeric(t pgtype.Text) (decimal.NullDecimal, error) {
	if !t.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(t.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// mapError translates constraint and serialization failures into ledger
// errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateNumero, pgErr.ConstraintName)
	case "40001":
		return fmt.Errorf("%w: %s", ledger.ErrConcurrentModification, pgErr.Message)
	}
	return err
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ querier        = (*pgxpool.Pool)(nil)
	_ querier        = pgx.Tx(nil)
)
