package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/bloom-paywall/server/internal/config"
	"github.com/bloom-paywall/server/internal/metrics"
)

const defaultUsagesTableName = "payment_usages"

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db        *sql.DB
	ownsDB    bool   // Track if we created the DB connection (for Close())
	tableName string // Configurable table name (default: "payment_usages")
	metrics   *metrics.Metrics
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig, tableName string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// Close() error during initialization cleanup is not actionable;
		// the connection failure is the error the caller needs.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{
		db:        db,
		ownsDB:    true,
		tableName: tableNameOrDefault(tableName),
	}

	if err := store.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store using an existing
// connection pool shared with other repositories.
func NewPostgresStoreWithDB(db *sql.DB, tableName string) (*PostgresStore, error) {
	store := &PostgresStore{
		db:        db,
		ownsDB:    false,
		tableName: tableNameOrDefault(tableName),
	}

	if err := store.createTable(); err != nil {
		return nil, err
	}

	return store, nil
}

func tableNameOrDefault(name string) string {
	if name == "" {
		return defaultUsagesTableName
	}
	return name
}

// createTable creates the usage table if it doesn't exist.
// The composite primary key (transaction_id, content_id) is what makes
// RecordUsage atomic under concurrency.
func (s *PostgresStore) createTable() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			transaction_id TEXT NOT NULL,
			content_id     TEXT NOT NULL,
			user_address   TEXT NOT NULL,
			amount         TEXT NOT NULL,
			consumed_at    TIMESTAMPTZ NOT NULL,
			metadata       JSONB,
			PRIMARY KEY (transaction_id, content_id)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_consumed_at ON %s (consumed_at);
	`, s.tableName, s.tableName, s.tableName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create usage table: %w", err)
	}
	return nil
}

// RecordUsage marks a transaction as consumed for a content resource.
// ON CONFLICT DO NOTHING plus the RowsAffected check turns the primary key
// into the race arbiter: the losing request of a concurrent pair observes
// zero affected rows and gets ErrAlreadyUsed.
func (s *PostgresStore) RecordUsage(ctx context.Context, usage PaymentUsage) error {
	defer metrics.MeasureDBQuery(s.metrics, "record_usage", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	metadataJSON, err := json.Marshal(usage.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	consumedAt := usage.ConsumedAt
	if consumedAt.IsZero() {
		consumedAt = time.Now()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (transaction_id, content_id, user_address, amount, consumed_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_id, content_id) DO NOTHING
	`, s.tableName)

	result, err := s.db.ExecContext(ctx, query,
		NormalizeTxID(usage.TransactionID),
		usage.ContentID,
		usage.UserAddress,
		usage.Amount,
		consumedAt.UTC(),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Conflict: a concurrent request consumed this transaction first.
		return ErrAlreadyUsed
	}

	return nil
}

// HasBeenUsed reports whether a transaction has been consumed for the content.
func (s *PostgresStore) HasBeenUsed(ctx context.Context, txID, contentID string) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "has_been_used", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s WHERE transaction_id = $1 AND content_id = $2
		)
	`, s.tableName)

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, NormalizeTxID(txID), contentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check usage: %w", err)
	}
	return exists, nil
}

// GetUsage retrieves the usage record for a (transaction, content) pair.
func (s *PostgresStore) GetUsage(ctx context.Context, txID, contentID string) (PaymentUsage, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_usage", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT transaction_id, content_id, user_address, amount, consumed_at, metadata
		FROM %s WHERE transaction_id = $1 AND content_id = $2
	`, s.tableName)

	var usage PaymentUsage
	var metadataJSON []byte
	err := s.db.QueryRowContext(ctx, query, NormalizeTxID(txID), contentID).Scan(
		&usage.TransactionID,
		&usage.ContentID,
		&usage.UserAddress,
		&usage.Amount,
		&usage.ConsumedAt,
		&metadataJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentUsage{}, ErrNotFound
	}
	if err != nil {
		return PaymentUsage{}, fmt.Errorf("get usage: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &usage.Metadata); err != nil {
			return PaymentUsage{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return usage, nil
}

// ArchiveOldUsages deletes usage records consumed before the given time.
func (s *PostgresStore) ArchiveOldUsages(ctx context.Context, olderThan time.Time) (int64, error) {
	defer metrics.MeasureDBQuery(s.metrics, "archive_usages", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE consumed_at < $1`, s.tableName)

	result, err := s.db.ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("archive usages: %w", err)
	}
	return result.RowsAffected()
}

// Close releases the connection pool when this store owns it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
