package persistence

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, DialectPostgres), mock
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &Store{dialect: DialectSQLite}
	assert.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))
}

func TestPostgresWorkflowCASMiss(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE maintenance_workflows SET current_state = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	wf := &MaintenanceWorkflow{ID: "wf-1", CurrentState: "DECISION_MADE", Version: 3}
	err := store.UpdateWorkflow(context.Background(), wf, "OWNER_NOTIFIED")
	require.ErrorIs(t, err, ErrStaleWrite)
	assert.Equal(t, int64(3), wf.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWorkflowCASHit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $11 AND current_state = $12 AND version = $13")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"wf-1", "OWNER_NOTIFIED", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	wf := &MaintenanceWorkflow{ID: "wf-1", CurrentState: "DECISION_MADE", Version: 3}
	require.NoError(t, store.UpdateWorkflow(context.Background(), wf, "OWNER_NOTIFIED"))
	assert.Equal(t, int64(4), wf.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM leases WHERE id = $1")).
		WithArgs("lease-404").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetLease(context.Background(), "lease-404")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPaymentsQuery(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "lease_id", "due_date", "amount_due", "amount_paid", "status", "paid_date"}).
		AddRow("p-2", "lease-1", "2024-02-01", 1000.0, nil, "overdue", nil).
		AddRow("p-1", "lease-1", "2024-01-01", 1000.0, 1100.0, "paid", "2024-01-02")
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE lease_id = $1 ORDER BY due_date DESC LIMIT $2")).
		WithArgs("lease-1", 6).
		WillReturnRows(rows)

	payments, err := store.ListRecentPayments(context.Background(), "lease-1", 6)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.InDelta(t, 1000, payments[0].Arrears(), 1e-9)
	assert.InDelta(t, -100, payments[1].Arrears(), 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}
