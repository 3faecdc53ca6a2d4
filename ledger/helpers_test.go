package ledger_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-ledger/ledger"
	"github.com/warp/installment-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// now is pinned so that due dates before March 15 2025 are overdue.
var now = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

var (
	ana = ledger.Actor{ID: "user-ana", Name: "Ana"}
	bob = ledger.Actor{ID: "user-bob", Name: "Bruno"}

	dueSoon = ledger.NewDate(2025, time.April, 10)
	duePast = ledger.NewDate(2025, time.March, 1)
)

type fixture struct {
	ctx    context.Context
	ledger *ledger.Ledger
	store  *store.TxMemory
	seeded int
}

func newTestLedger(t *testing.T) *fixture {
	t.Helper()
	var n int64
	s := store.NewTxMemory()
	l := ledger.New(s,
		ledger.WithClock(ledger.FixedClock(now)),
		ledger.WithIDGenerator(func() string {
			return fmt.Sprintf("id-%d", atomic.AddInt64(&n, 1))
		}),
	)
	return &fixture{ctx: context.Background(), ledger: l, store: s}
}

// seed stores a fresh unpaid contract installment for its own client.
func (f *fixture) seed(t *testing.T, valor string, due ledger.Date) ledger.Parcela {
	t.Helper()
	f.seeded++
	p := ledger.Parcela{
		ID:             fmt.Sprintf("parc-%d", f.seeded),
		ClienteID:      fmt.Sprintf("cli-%d", f.seeded),
		NumeroParcela:  1,
		ValorParcela:   dec(valor),
		DataVencimento: due,
		Status:         ledger.StatusPendente,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, f.store.CreateInstallments(f.ctx, []ledger.Parcela{p}))
	return p
}

func (f *fixture) pay(t *testing.T, id, amount string, partial bool) ledger.Parcela {
	t.Helper()
	p, err := f.ledger.RegisterPayment(f.ctx, id, ledger.PaymentInput{
		Amount:  dec(amount),
		Method:  "pix",
		Partial: partial,
	}, ana)
	require.NoError(t, err)
	return p
}

func (f *fixture) history(t *testing.T, id string) []ledger.AuditEntry {
	t.Helper()
	entries, err := f.ledger.History(f.ctx, id)
	require.NoError(t, err)
	return entries
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func requireNullMoney(t *testing.T, want string, got decimal.NullDecimal) {
	t.Helper()
	require.True(t, got.Valid, "expected a value, got null")
	requireMoney(t, want, got.Decimal)
}

func ptr[T any](v T) *T { return &v }
