/*
ledger.go - The installment ledger service

PURPOSE:
  Ledger is the Payment Processor: every operation that changes an
  installment goes through it, and it is the only writer of audit entries.

UNIT OF WORK:
  Each mutating operation runs the same cycle inside mutate():
  1. Take the per-installment lock ("parcela:<id>")
  2. Open a store transaction
  3. Read the installment and derive pendente/atrasado for today
  4. Apply the operation (pure, in memory)
  5. Check invariants
  6. Write the installment (version-checked) and append one audit entry
  7. Commit, release the lock

  If any step fails nothing is applied. Two concurrent operations on the
  same installment are serialized by the lock; if a writer outside this
  process slips in between, the version check rejects the stale write with
  ErrConcurrentModification.

EXAMPLE:
  l := ledger.New(store, ledger.WithLogger(log))
  p, err := l.RegisterPayment(ctx, "parc-1", ledger.PaymentInput{
      Amount:  decimal.NewFromInt(300),
      Method:  "pix",
      Partial: true,
  }, actor)

SEE ALSO:
  - payment.go: RegisterPayment, EditPayment, ReopenPayment, RetractPayment
  - terms.go: EditInstallmentTerms
  - debt.go: CreateDebt, CreateContractPlan, DeleteDebt
  - summary.go: Aggregated totals
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/installment-ledger/lock"
)

// Ledger applies payment operations to installments.
type Ledger struct {
	store  TxStore
	locker Locker
	clock  Clock
	loc    *time.Location
	newID  func() string
	log    zerolog.Logger
}

type Option func(*Ledger)

// WithLocker replaces the default in-process keyed mutex.
func WithLocker(locker Locker) Option { return func(l *Ledger) { l.locker = locker } }

func WithClock(clock Clock) Option { return func(l *Ledger) { l.clock = clock } }

// WithLocation sets the timezone that decides what "today" is.
func WithLocation(loc *time.Location) Option { return func(l *Ledger) { l.loc = loc } }

func WithIDGenerator(fn func() string) Option { return func(l *Ledger) { l.newID = fn } }

func WithLogger(log zerolog.Logger) Option { return func(l *Ledger) { l.log = log } }

func New(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		locker: lock.NewKeyed(),
		clock:  time.Now,
		loc:    time.UTC,
		newID:  uuid.NewString,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today returns the current calendar date in the ledger's timezone.
func (l *Ledger) Today() Date { return l.today() }

func (l *Ledger) today() Date { return DateOf(l.clock().In(l.loc)) }

func lockKey(parcelaID string) string { return "parcela:" + parcelaID }

// change applies one operation to p. Returning a nil entry means nothing
// changed and nothing is written.
type change func(s Store, p *Parcela, today Date) (*pendingEntry, error)

// pendingEntry is the audit entry an operation wants appended.
type pendingEntry struct {
	kind  AuditKind
	event Event
	notes string
}

func (l *Ledger) mutate(ctx context.Context, op, parcelaID string, actor Actor, fn change) (Parcela, error) {
	unlock, err := l.locker.Lock(ctx, lockKey(parcelaID))
	if err != nil {
		return Parcela{}, err
	}
	defer unlock()

	today := l.today()
	var (
		result Parcela
		entry  *AuditEntry
	)
	err = l.store.WithTx(ctx, func(s Store) error {
		p, err := s.GetInstallment(ctx, parcelaID)
		if err != nil {
			return err
		}
		p = Derive(p, today)

		pending, err := fn(s, &p, today)
		if err != nil {
			return err
		}
		if pending == nil {
			result = p
			return nil
		}
		if err := CheckInvariants(p); err != nil {
			return err
		}

		p.UpdatedAt = l.clock().UTC()
		if err := s.UpdateInstallment(ctx, p); err != nil {
			return err
		}
		p.Version++

		e := l.newEntry(p.ID, pending.kind, pending.event, renderBody(pending.kind, pending.event, pending.notes), actor)
		if err := s.AppendAuditEntry(ctx, e); err != nil {
			return err
		}
		result, entry = p, &e
		return nil
	})
	if err != nil {
		l.log.Debug().Err(err).Str("op", op).Str("parcela_id", parcelaID).Msg("operation rejected")
		return Parcela{}, err
	}

	if entry != nil {
		l.log.Info().
			Str("op", op).
			Str("parcela_id", parcelaID).
			Str("status", string(result.Status)).
			Str("kind", string(entry.Kind)).
			Str("actor", entry.AuthorID).
			Msg("installment updated")
	}
	return result, nil
}

// =============================================================================
// READS
// =============================================================================

// GetInstallment returns one installment with its status derived for today.
func (l *Ledger) GetInstallment(ctx context.Context, id string) (Parcela, error) {
	p, err := l.store.GetInstallment(ctx, id)
	if err != nil {
		return Parcela{}, err
	}
	return Derive(p, l.today()), nil
}

// ListInstallments returns a client's installments with derived statuses.
func (l *Ledger) ListInstallments(ctx context.Context, clienteID string, filter InstallmentFilter) ([]Parcela, error) {
	ps, err := l.store.ListInstallments(ctx, clienteID, filter)
	if err != nil {
		return nil, err
	}
	today := l.today()
	for i := range ps {
		ps[i] = Derive(ps[i], today)
	}
	return ps, nil
}
