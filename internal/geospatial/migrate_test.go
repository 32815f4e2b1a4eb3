package geospatial

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func names(t *testing.T) []string {
	t.Helper()
	n, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, n)
	return n
}

func expectLock(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func expectUnlock(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func TestMigrationNamesSorted(t *testing.T) {
	n := names(t)
	assert.Equal(t, "001_siting_schema.sql", n[0])
	assert.IsIncreasing(t, n)
}

func TestMigrate_FreshDB(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectLock(mock)
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS siting").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM siting.schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, name := range names(t) {
		mock.ExpectExec(".*").WillReturnResult(pgxmock.NewResult("EXEC", 0))
		mock.ExpectExec("INSERT INTO siting.schema_migrations").
			WithArgs(name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	expectUnlock(mock)

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_AllApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectLock(mock)
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS siting").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	rows := pgxmock.NewRows([]string{"filename"})
	for _, name := range names(t) {
		rows.AddRow(name)
	}
	mock.ExpectQuery("SELECT filename FROM siting.schema_migrations").WillReturnRows(rows)
	expectUnlock(mock)

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface, first string)
		wantMsg string
	}{
		{
			name: "lock",
			setup: func(mock pgxmock.PgxPoolIface, _ string) {
				mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(migrationLockID).WillReturnError(fmt.Errorf("could not obtain lock"))
			},
			wantMsg: "acquire migration advisory lock",
		},
		{
			name: "ensure table",
			setup: func(mock pgxmock.PgxPoolIface, _ string) {
				expectLock(mock)
				mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS siting").WillReturnError(fmt.Errorf("permission denied"))
				expectUnlock(mock)
			},
			wantMsg: "ensure migration table",
		},
		{
			name: "query applied",
			setup: func(mock pgxmock.PgxPoolIface, _ string) {
				expectLock(mock)
				mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS siting").WillReturnResult(pgxmock.NewResult("CREATE", 0))
				mock.ExpectQuery("SELECT filename FROM siting.schema_migrations").WillReturnError(fmt.Errorf("relation does not exist"))
				expectUnlock(mock)
			},
			wantMsg: "query applied migrations",
		},
		{
			name: "apply",
			setup: func(mock pgxmock.PgxPoolIface, _ string) {
				expectLock(mock)
				mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS siting").WillReturnResult(pgxmock.NewResult("CREATE", 0))
				mock.ExpectQuery("SELECT filename FROM siting.schema_migrations").WillReturnRows(pgxmock.NewRows([]string{"filename"}))
				mock.ExpectExec(".*").WillReturnError(fmt.Errorf("syntax error"))
				expectUnlock(mock)
			},
			wantMsg: "apply migration",
		},
		{
			name: "record",
			setup: func(mock pgxmock.PgxPoolIface, first string) {
				expectLock(mock)
				mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS siting").WillReturnResult(pgxmock.NewResult("CREATE", 0))
				mock.ExpectQuery("SELECT filename FROM siting.schema_migrations").WillReturnRows(pgxmock.NewRows([]string{"filename"}))
				mock.ExpectExec(".*").WillReturnResult(pgxmock.NewResult("EXEC", 0))
				mock.ExpectExec("INSERT INTO siting.schema_migrations").WithArgs(first).WillReturnError(fmt.Errorf("disk full"))
				expectUnlock(mock)
			},
			wantMsg: "record migration",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.setup(mock, names(t)[0])
			err = Migrate(context.Background(), mock)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	all := names(t)
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS siting").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM siting.schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow(all[0]))

	pending, err := Pending(context.Background(), mock)
	require.NoError(t, err)
	assert.Equal(t, all[1:], pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppliedMigrations_ScanError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"filename"}).
		AddRow("001_siting_schema.sql").
		RowError(0, fmt.Errorf("scan error"))
	mock.ExpectQuery("SELECT filename FROM siting.schema_migrations").WillReturnRows(rows)

	_, err = appliedMigrations(context.Background(), mock)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
