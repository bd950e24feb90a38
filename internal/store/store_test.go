package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// anyTime accepts any value, used for timestamps we can't predict exactly.
var anyTime = ArgumentMatcherFunc(func(v interface{}) bool {
	return true
})

var orderColumns = []string{"order_id", "product_name", "price", "image_url", "status", "ordered_at", "return_eligible", "return_deadline", "reminded", "scraped_at"}

// newTestStore builds a Store backed by a fresh pgxmock pool with the
// connection and schema expectations already satisfied.
func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	mockPool.ExpectExec(flexibleSQLMatcher(schemaSQL)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func testOrder() schemas.Order {
	return schemas.Order{
		OrderID:        "FN1234567890",
		ProductName:    "Puma Men Black Sneakers",
		Price:          2499.00,
		ImageURL:       "https://assets.ajio.com/medias/puma-black-sneakers.jpg",
		Status:         schemas.StatusDelivered,
		OrderedAt:      time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		ReturnEligible: true,
		ReturnDeadline: time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC),
		ScrapedAt:      time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return error if schema creation fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		schemaErr := errors.New("permission denied")
		mockPool.ExpectExec(flexibleSQLMatcher(schemaSQL)).WillReturnError(schemaErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, schemaErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestUpsertOrders(t *testing.T) {
	ctx := context.Background()

	t.Run("should upsert a batch of orders in one transaction", func(t *testing.T) {
		store, mockPool := newTestStore(t)
		o := testOrder()

		mockPool.ExpectBegin()
		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(upsertOrderSQL)).
			WithArgs(
				o.OrderID, o.ProductName, o.Price, o.ImageURL, string(o.Status),
				anyTime, o.ReturnEligible, anyTime, o.Reminded, anyTime,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback() // deferred rollback after commit is a no-op

		err := store.UpsertOrders(ctx, []schemas.Order{o})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should be a no-op for an empty slice", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		err := store.UpsertOrders(ctx, nil)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when an upsert fails", func(t *testing.T) {
		store, mockPool := newTestStore(t)
		o := testOrder()
		execErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(upsertOrderSQL)).
			WithArgs(
				o.OrderID, o.ProductName, o.Price, o.ImageURL, string(o.Status),
				anyTime, o.ReturnEligible, anyTime, o.Reminded, anyTime,
			).
			WillReturnError(execErr)
		mockPool.ExpectRollback()

		err := store.UpsertOrders(ctx, []schemas.Order{o})
		require.Error(t, err)
		assert.Contains(t, err.Error(), o.OrderID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestListOrders(t *testing.T) {
	store, mockPool := newTestStore(t)
	o := testOrder()

	rows := pgxmock.NewRows(orderColumns).
		AddRow(o.OrderID, o.ProductName, o.Price, o.ImageURL, string(o.Status), &o.OrderedAt, o.ReturnEligible, &o.ReturnDeadline, false, o.ScrapedAt).
		AddRow("FN0000000001", "Nike Running Tee", 999.0, "", "shipped", (*time.Time)(nil), false, (*time.Time)(nil), false, o.ScrapedAt)

	mockPool.ExpectQuery("SELECT (.+) FROM orders").WillReturnRows(rows)

	orders, err := store.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, o.OrderID, orders[0].OrderID)
	assert.Equal(t, schemas.StatusDelivered, orders[0].Status)
	assert.Equal(t, o.ImageURL, orders[0].ImageURL)
	assert.True(t, orders[0].ReturnEligible)
	assert.Equal(t, o.ReturnDeadline, orders[0].ReturnDeadline)

	// NULL timestamps map back to the zero time.
	assert.True(t, orders[1].OrderedAt.IsZero())
	assert.True(t, orders[1].ReturnDeadline.IsZero())
	assert.False(t, orders[1].ReturnEligible)
	assert.False(t, orders[1].ReturnWindowOpen(time.Now()))

	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestDueBefore(t *testing.T) {
	store, mockPool := newTestStore(t)
	o := testOrder()
	cutoff := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(orderColumns).
		AddRow(o.OrderID, o.ProductName, o.Price, o.ImageURL, string(o.Status), &o.OrderedAt, o.ReturnEligible, &o.ReturnDeadline, false, o.ScrapedAt)

	mockPool.ExpectQuery("SELECT (.+) FROM orders").
		WithArgs(cutoff).
		WillReturnRows(rows)

	orders, err := store.DueBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o.OrderID, orders[0].OrderID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestMarkReminded(t *testing.T) {
	t.Run("should flip the reminded flag", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectExec("UPDATE orders SET reminded").
			WithArgs("FN1234567890").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := store.MarkReminded(context.Background(), "FN1234567890")
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should error for an unknown order id", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectExec("UPDATE orders SET reminded").
			WithArgs("NOPE").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := store.MarkReminded(context.Background(), "NOPE")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no order with id")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
