package mysql

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/inventory"
	"github.com/warp/stock-engine/inventory/storetest"
)

// getMySQLStore connects to MYSQL_DSN or skips. The tables are emptied so
// every subtest starts clean.
func getMySQLStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}
	store, err := New(dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	_, err = store.DB().ExecContext(ctx, `DELETE FROM stock_log`)
	require.NoError(t, err)
	_, err = store.DB().ExecContext(ctx, `DELETE FROM items`)
	require.NoError(t, err)
	return store
}

func TestMySQL_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) inventory.Store {
		return getMySQLStore(t)
	})
}

func TestIsDuplicateEntry(t *testing.T) {
	assert.True(t, isDuplicateEntry(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.False(t, isDuplicateEntry(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"}))
	assert.False(t, isDuplicateEntry(errors.New("duplicate")))
}

func TestNew_InvalidDSN(t *testing.T) {
	_, err := New("not a dsn")
	assert.Error(t, err)
}
