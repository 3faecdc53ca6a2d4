// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/installment-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	parcelas map[string]row[ledger.Parcela]
	dividas  map[string]row[ledger.Divida]
	entries  map[string]row[ledger.AuditEntry]
	seq      int64
}

// row remembers insertion order, which breaks ties between equal timestamps.
type row[T any] struct {
	seq int64
	v   T
}

func NewMemory() *Memory {
	return &Memory{
		parcelas: make(map[string]row[ledger.Parcela]),
		dividas:  make(map[string]row[ledger.Divida]),
		entries:  make(map[string]row[ledger.AuditEntry]),
	}
}

func (m *Memory) next() int64 {
	m.seq++
	return m.seq
}

// -----------------------------------------------------------------------------
// Installments
// -----------------------------------------------------------------------------

func (m *Memory) CreateInstallments(_ context.Context, ps []ledger.Parcela) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createInstallmentsLocked(ps)
}

func (m *Memory) createInstallmentsLocked(ps []ledger.Parcela) error {
	// Check everything first so a failure leaves no partial batch.
	seen := make(map[numeroKey]bool, len(ps))
	for _, p := range ps {
		if _, ok := m.parcelas[p.ID]; ok {
			return fmt.Errorf("parcela %s already exists", p.ID)
		}
		k := keyOf(p)
		if seen[k] || m.numeroTakenLocked(p) {
			return fmt.Errorf("%w: numero %d", ledger.ErrDuplicateNumero, p.NumeroParcela)
		}
		seen[k] = true
	}
	for _, p := range ps {
		m.parcelas[p.ID] = row[ledger.Parcela]{seq: m.next(), v: p}
	}
	return nil
}

func (m *Memory) GetInstallment(_ context.Context, id string) (ledger.Parcela, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInstallmentLocked(id)
}

func (m *Memory) getInstallmentLocked(id string) (ledger.Parcela, error) {
	r, ok := m.parcelas[id]
	if !ok {
		return ledger.Parcela{}, fmt.Errorf("%w: %s", ledger.ErrInstallmentNotFound, id)
	}
	return r.v, nil
}

func (m *Memory) ListInstallments(_ context.Context, clienteID string, filter ledger.InstallmentFilter) ([]ledger.Parcela, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInstallmentsLocked(clienteID, filter), nil
}

func (m *Memory) listInstallmentsLocked(clienteID string, filter ledger.InstallmentFilter) []ledger.Parcela {
	result := make([]ledger.Parcela, 0)
	for _, r := range m.parcelas {
		if r.v.ClienteID == clienteID && filter.Matches(r.v) {
			result = append(result, r.v)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DividaID != result[j].DividaID {
			return result[i].DividaID < result[j].DividaID
		}
		return result[i].NumeroParcela < result[j].NumeroParcela
	})
	return result
}

func (m *Memory) UpdateInstallment(_ context.Context, p ledger.Parcela) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateInstallmentLocked(p)
}

func (m *Memory) updateInstallmentLocked(p ledger.Parcela) error {
	r, ok := m.parcelas[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrInstallmentNotFound, p.ID)
	}
	if r.v.Version != p.Version {
		return fmt.Errorf("%w: parcela %s at version %d, write based on %d",
			ledger.ErrConcurrentModification, p.ID, r.v.Version, p.Version)
	}
	if p.NumeroParcela != r.v.NumeroParcela && m.numeroTakenLocked(p) {
		return fmt.Errorf("%w: numero %d", ledger.ErrDuplicateNumero, p.NumeroParcela)
	}
	p.Version++
	m.parcelas[p.ID] = row[ledger.Parcela]{seq: r.seq, v: p}
	return nil
}

type numeroKey struct {
	clienteID string
	dividaID  string
	numero    int
}

func keyOf(p ledger.Parcela) numeroKey {
	return numeroKey{clienteID: p.ClienteID, dividaID: p.DividaID, numero: p.NumeroParcela}
}

func (m *Memory) numeroTakenLocked(p ledger.Parcela) bool {
	k := keyOf(p)
	for id, r := range m.parcelas {
		if id != p.ID && keyOf(r.v) == k {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Debts
// -----------------------------------------------------------------------------

func (m *Memory) CreateDebt(_ context.Context, d ledger.Divida) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createDebtLocked(d)
}

func (m *Memory) createDebtLocked(d ledger.Divida) error {
	if _, ok := m.dividas[d.ID]; ok {
		return fmt.Errorf("divida %s already exists", d.ID)
	}
	d.Grupos = append([]ledger.GrupoParcelas(nil), d.Grupos...)
	m.dividas[d.ID] = row[ledger.Divida]{seq: m.next(), v: d}
	return nil
}

func (m *Memory) GetDebt(_ context.Context, id string) (ledger.Divida, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDebtLocked(id)
}

func (m *Memory) getDebtLocked(id string) (ledger.Divida, error) {
	r, ok := m.dividas[id]
	if !ok {
		return ledger.Divida{}, fmt.Errorf("%w: %s", ledger.ErrDebtNotFound, id)
	}
	return r.v, nil
}

func (m *Memory) ListDebts(_ context.Context, clienteID string) ([]ledger.Divida, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDebtsLocked(clienteID), nil
}

func (m *Memory) listDebtsLocked(clienteID string) []ledger.Divida {
	var rows []row[ledger.Divida]
	for _, r := range m.dividas {
		if r.v.ClienteID == clienteID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].v.CreatedAt.Equal(rows[j].v.CreatedAt) {
			return rows[i].v.CreatedAt.Before(rows[j].v.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	result := make([]ledger.Divida, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.v)
	}
	return result
}

func (m *Memory) DeleteDebt(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteDebtLocked(id)
}

func (m *Memory) deleteDebtLocked(id string) error {
	if _, ok := m.dividas[id]; !ok {
		return fmt.Errorf("%w: %s", ledger.ErrDebtNotFound, id)
	}
	for pid, r := range m.parcelas {
		if r.v.DividaID != id {
			continue
		}
		for eid, e := range m.entries {
			if e.v.ParcelaID == pid {
				delete(m.entries, eid)
			}
		}
		delete(m.parcelas, pid)
	}
	delete(m.dividas, id)
	return nil
}

// -----------------------------------------------------------------------------
// Audit entries
// -----------------------------------------------------------------------------

func (m *Memory) AppendAuditEntry(_ context.Context, e ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditEntryLocked(e)
}

func (m *Memory) appendAuditEntryLocked(e ledger.AuditEntry) error {
	if _, ok := m.parcelas[e.ParcelaID]; !ok {
		return fmt.Errorf("%w: %s", ledger.ErrInstallmentNotFound, e.ParcelaID)
	}
	m.entries[e.ID] = row[ledger.AuditEntry]{seq: m.next(), v: e}
	return nil
}

func (m *Memory) GetAuditEntry(_ context.Context, id string) (ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAuditEntryLocked(id)
}

func (m *Memory) getAuditEntryLocked(id string) (ledger.AuditEntry, error) {
	r, ok := m.entries[id]
	if !ok {
		return ledger.AuditEntry{}, fmt.Errorf("%w: %s", ledger.ErrAuditEntryNotFound, id)
	}
	return r.v, nil
}

func (m *Memory) ListAuditEntries(_ context.Context, parcelaID string) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAuditEntriesLocked(parcelaID), nil
}

func (m *Memory) listAuditEntriesLocked(parcelaID string) []ledger.AuditEntry {
	var rows []row[ledger.AuditEntry]
	for _, r := range m.entries {
		if r.v.ParcelaID == parcelaID {
			rows = append(rows, r)
		}
	}
	// Newest first
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].v.CreatedAt.Equal(rows[j].v.CreatedAt) {
			return rows[i].v.CreatedAt.After(rows[j].v.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	result := make([]ledger.AuditEntry, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.v)
	}
	return result
}

func (m *Memory) DeleteAuditEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteAuditEntryLocked(id)
}

func (m *Memory) deleteAuditEntryLocked(id string) error {
	if _, ok := m.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAuditEntryNotFound, id)
	}
	delete(m.entries, id)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	parcelas map[string]row[ledger.Parcela]
	dividas  map[string]row[ledger.Divida]
	entries  map[string]row[ledger.AuditEntry]
	seq      int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	return memorySnapshot{
		parcelas: cloneMap(tm.parcelas),
		dividas:  cloneMap(tm.dividas),
		entries:  cloneMap(tm.entries),
		seq:      tm.seq,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.parcelas = s.parcelas
	tm.dividas = s.dividas
	tm.entries = s.entries
	tm.seq = s.seq
}

func cloneMap[T any](src map[string]row[T]) map[string]row[T] {
	dst := make(map[string]row[T], len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// txMemoryView runs inside WithTx, which already holds the write lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateInstallments(_ context.Context, ps []ledger.Parcela) error {
	return tv.parent.createInstallmentsLocked(ps)
}

func (tv *txMemoryView) GetInstallment(_ context.Context, id string) (ledger.Parcela, error) {
	return tv.parent.getInstallmentLocked(id)
}

func (tv *txMemoryView) ListInstallments(_ context.Context, clienteID string, filter ledger.InstallmentFilter) ([]ledger.Parcela, error) {
	return tv.parent.listInstallmentsLocked(clienteID, filter), nil
}

func (tv *txMemoryView) UpdateInstallment(_ context.Context, p ledger.Parcela) error {
	return tv.parent.updateInstallmentLocked(p)
}

func (tv *txMemoryView) CreateDebt(_ context.Context, d ledger.Divida) error {
	return tv.parent.createDebtLocked(d)
}

func (tv *txMemoryView) GetDebt(_ context.Context, id string) (ledger.Divida, error) {
	return tv.parent.getDebtLocked(id)
}

func (tv *txMemoryView) ListDebts(_ context.Context, clienteID string) ([]ledger.Divida, error) {
	return tv.parent.listDebtsLocked(clienteID), nil
}

func (tv *txMemoryView) DeleteDebt(_ context.Context, id string) error {
	return tv.parent.deleteDebtLocked(id)
}

func (tv *txMemoryView) AppendAuditEntry(_ context.Context, e ledger.AuditEntry) error {
	return tv.parent.appendAuditEntryLocked(e)
}

func (tv *txMemoryView) GetAuditEntry(_ context.Context, id string) (ledger.AuditEntry, error) {
	return tv.parent.getAuditEntryLocked(id)
}

func (tv *txMemoryView) ListAuditEntries(_ context.Context, parcelaID string) ([]ledger.AuditEntry, error) {
	return tv.parent.listAuditEntriesLocked(parcelaID), nil
}

func (tv *txMemoryView) DeleteAuditEntry(_ context.Context, id string) error {
	return tv.parent.deleteAuditEntryLocked(id)
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parcelas = make(map[string]row[ledger.Parcela])
	m.dividas = make(map[string]row[ledger.Divida])
	m.entries = make(map[string]row[ledger.AuditEntry])
	return nil
}
