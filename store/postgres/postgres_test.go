package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/installment-ledger/ledger"
	"github.com/warp/installment-ledger/ledger/storetest"
	"github.com/warp/installment-ledger/store/postgres"
)

// Set LEDGER_TEST_PG_DSN to a disposable database to run these tests.
// Every subtest truncates the ledger tables.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	store, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))
	t.Cleanup(store.Close)
	return store
}

func TestPostgres_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.TxStore { return newTestStore(t) })
}
