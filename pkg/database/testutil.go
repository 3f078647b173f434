package database

import (
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

// NewMockPool creates a pgxmock pool for repository tests. It satisfies Pool,
// so it can be handed to any repository or to RunInTx. Call
// ExpectationsWereMet() at the end of each test.
func NewMockPool() (pgxmock.PgxPoolIface, error) {
	return pgxmock.NewPool()
}

// NewResult builds a command tag for ExpectExec(...).WillReturnResult.
func NewResult(op string, rows int64) pgconn.CommandTag {
	return pgxmock.NewResult(op, rows)
}
