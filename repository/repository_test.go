package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"storefront-service/models"
	"storefront-service/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func TestEventRecord_FirstDelivery(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "processed_events"`) + `.*ON CONFLICT \("event_id"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	first, err := store.Events().Record(context.Background(), &models.ProcessedEvent{
		EventID:    "evt_1",
		EventType:  "checkout.session.completed",
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRecord_Duplicate(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "processed_events"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	first, err := store.Events().Record(context.Background(), &models.ProcessedEvent{EventID: "evt_1", EventType: "x", ReceivedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, first)
}

func TestEventRecord_Error(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "processed_events"`)).
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	_, err := store.Events().Record(context.Background(), &models.ProcessedEvent{EventID: "evt_1", EventType: "x", ReceivedAt: time.Now()})
	assert.Error(t, err)
}

func TestEventPurgeBefore(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "processed_events" WHERE received_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	n, err := store.Events().PurgeBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestOrderFindByID_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE "orders"."id" = $1`) + `.*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{}))

	o, err := store.Orders().FindByID(context.Background(), 42)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Nil(t, o)
}

func TestOrderFindByID_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "customer_email", "status", "total", "shipping_cost", "created_at", "updated_at"}).
		AddRow(42, "buyer@example.com", "pending", "25.99", "4.99", now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders"`)).
		WillReturnRows(rows)

	o, err := store.Orders().FindByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint(42), o.ID)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Equal(t, "25.99", o.Total.StringFixed(2))
}

func TestOrderFindLatestPendingByEmail(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE LOWER(customer_email) = $1 AND status = $2 ORDER BY created_at DESC`)).
		WithArgs("buyer@example.com", "pending", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(7, "pending"))

	o, err := store.Orders().FindLatestPendingByEmail(context.Background(), "Buyer@Example.com")
	require.NoError(t, err)
	assert.Equal(t, uint(7), o.ID)
}

func TestOrderFindAwaitingFulfillment_PagesByID(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE (fulfillment_order_id IS NOT NULL AND fulfillment_order_id <> '') AND status IN ($1,$2) AND id > $3 ORDER BY id ASC LIMIT`)).
		WithArgs("paid", "in_production", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "fulfillment_order_id"}).
			AddRow(6, "paid", "pf-6").
			AddRow(9, "in_production", "pf-9"))

	orders, err := store.Orders().FindAwaitingFulfillment(context.Background(),
		[]models.OrderStatus{models.StatusPaid, models.StatusInProduction}, 5, 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, uint(6), orders[0].ID)
	assert.Equal(t, uint(9), orders[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderApplyPayment_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.Orders().ApplyPayment(context.Background(), 99, repository.PaymentUpdate{
		Status: models.StatusPaid,
		Total:  decimal.RequireFromString("10.00"),
		PaidAt: time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOrderReplaceItems_EmptyOnlyDeletes(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "order_items" WHERE order_id = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := store.Orders().ReplaceItems(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCartMarkRecoveredBySession(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "abandoned_carts" SET`) + `.*` +
		regexp.QuoteMeta(`WHERE id = (SELECT id FROM "abandoned_carts" WHERE checkout_session_id = $`) + `.*LIMIT`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	recovered, err := store.Carts().MarkRecoveredBySession(context.Background(), "cs_1", time.Now())
	require.NoError(t, err)
	assert.True(t, recovered)
}

func TestCartMarkRecoveredByEmail_NoMatch(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "abandoned_carts" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	recovered, err := store.Carts().MarkRecoveredByEmail(context.Background(), "buyer@example.com", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.False(t, recovered)
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.Transaction(context.Background(), func(tx repository.Store) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
