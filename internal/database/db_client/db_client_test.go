package db_client

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	require.Equal(t, "postgres://auction_user:p%40ss@db:5432/auction_db",
		DSN("db", "5432", "auction_user", "p@ss", "auction_db"))
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(schema)).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS users`).WillReturnError(errors.New("permission denied"))
	require.ErrorContains(t, Migrate(context.Background(), db), "apply schema")
}

func TestSchema_CoversStoreTables(t *testing.T) {
	for _, table := range []string{"users", "items", "auctions", "bids", "auction_watchlist", "transactions", "notifications"} {
		require.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
