package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store provides a PostgreSQL implementation of the schemas.OrderStore interface.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS orders (
    order_id        TEXT PRIMARY KEY,
    product_name    TEXT NOT NULL,
    price           DOUBLE PRECISION NOT NULL DEFAULT 0,
    image_url       TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'unknown',
    ordered_at      TIMESTAMPTZ,
    return_eligible BOOLEAN NOT NULL DEFAULT FALSE,
    return_deadline TIMESTAMPTZ,
    reminded        BOOLEAN NOT NULL DEFAULT FALSE,
    scraped_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_return_deadline ON orders (return_deadline) WHERE NOT reminded;
`

// New creates a new store instance, verifies the connection and ensures the
// schema exists.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to ensure orders schema: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const upsertOrderSQL = `
        INSERT INTO orders (order_id, product_name, price, image_url, status, ordered_at, return_eligible, return_deadline, reminded, scraped_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (order_id) DO UPDATE SET
            product_name = EXCLUDED.product_name,
            price = EXCLUDED.price,
            image_url = EXCLUDED.image_url,
            status = EXCLUDED.status,
            return_eligible = EXCLUDED.return_eligible,
            return_deadline = EXCLUDED.return_deadline,
            scraped_at = EXCLUDED.scraped_at;
    `

// UpsertOrders saves a batch of scraped orders in a single transaction.
// Re-scraping the same account is idempotent; the reminded flag is preserved
// on conflict so a refresh never re-arms a reminder.
func (s *Store) UpsertOrders(ctx context.Context, orders []schemas.Order) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit returns ErrTxClosed; that is fine.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	batch := &pgx.Batch{}
	for _, o := range orders {
		scrapedAt := o.ScrapedAt
		if scrapedAt.IsZero() {
			scrapedAt = time.Now()
		}
		batch.Queue(upsertOrderSQL,
			o.OrderID, o.ProductName, o.Price, o.ImageURL, string(o.Status),
			nullableTime(o.OrderedAt), o.ReturnEligible, nullableTime(o.ReturnDeadline),
			o.Reminded, scrapedAt.UTC(),
		)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}

	var batchErr error
	for i := range orders {
		if _, err := br.Exec(); err != nil {
			batchErr = fmt.Errorf("failed to upsert order %s (index %d): %w", orders[i].OrderID, i, err)
			break
		}
	}
	if closeErr := br.Close(); closeErr != nil && batchErr == nil {
		batchErr = fmt.Errorf("failed to close batch results: %w", closeErr)
	}
	if batchErr != nil {
		return batchErr
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debug("Orders persisted", zap.Int("count", len(orders)))
	return nil
}

// ListOrders retrieves every stored order, most recently scraped first.
func (s *Store) ListOrders(ctx context.Context) ([]schemas.Order, error) {
	query := `
        SELECT order_id, product_name, price, image_url, status, ordered_at, return_eligible, return_deadline, reminded, scraped_at
        FROM orders
        ORDER BY scraped_at DESC, order_id ASC;
    `
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// DueBefore retrieves orders whose return deadline falls before the cutoff and
// that have not yet been reminded.
func (s *Store) DueBefore(ctx context.Context, cutoff time.Time) ([]schemas.Order, error) {
	query := `
        SELECT order_id, product_name, price, image_url, status, ordered_at, return_eligible, return_deadline, reminded, scraped_at
        FROM orders
        WHERE return_deadline IS NOT NULL
          AND return_deadline <= $1
          AND NOT reminded
        ORDER BY return_deadline ASC;
    `
	rows, err := s.pool.Query(ctx, query, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// MarkReminded records that a reminder was issued for the given order ID.
func (s *Store) MarkReminded(ctx context.Context, orderID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET reminded = TRUE WHERE order_id = $1;`, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order %s reminded: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no order with id %s", orderID)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func scanOrders(rows pgx.Rows) ([]schemas.Order, error) {
	var orders []schemas.Order
	for rows.Next() {
		var (
			o         schemas.Order
			statusStr string
			orderedAt *time.Time
			deadline  *time.Time
		)
		err := rows.Scan(
			&o.OrderID, &o.ProductName, &o.Price, &o.ImageURL, &statusStr,
			&orderedAt, &o.ReturnEligible, &deadline, &o.Reminded, &o.ScrapedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		o.Status = schemas.OrderStatus(statusStr)
		if orderedAt != nil {
			o.OrderedAt = *orderedAt
		}
		if deadline != nil {
			o.ReturnDeadline = *deadline
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return orders, nil
}

// nullableTime maps the zero time to NULL so partial scrapes don't fabricate
// epoch timestamps.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
