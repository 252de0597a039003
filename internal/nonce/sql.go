package nonce

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore persists nonces in the nonces table. Atomicity of TryInsert rides
// on the table's primary key over the nonce value: the insert either lands or
// reports a conflict, closing the concurrent-replay race at the storage
// level rather than in application code.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) TryInsert(ctx context.Context, value, consumerKey string, timestamp int64) (bool, error) {
	if value == "" {
		return false, errors.New("nonce: value is required")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO nonces (value, consumer_key, ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (value) DO NOTHING`,
		value, consumerKey, timestamp)
	if err != nil {
		return false, fmt.Errorf("nonce: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("nonce: rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) Find(ctx context.Context, value string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		`SELECT value, consumer_key, ts FROM nonces WHERE value = $1`, value).
		Scan(&rec.Value, &rec.ConsumerKey, &rec.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("nonce: find: %w", err)
	}
	return &rec, nil
}

func (s *SQLStore) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nonces WHERE ts < $1`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("nonce: prune: %w", err)
	}
	return res.RowsAffected()
}
