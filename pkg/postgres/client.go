// Package postgres wraps database/sql with the lib/pq driver, pool settings
// from config, a transaction helper, and the schema the job service needs.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/config"
	_ "github.com/lib/pq"
)

// Schema creates the jobs table. Result holds the ordered top-K list as a
// JSON array of {phrase, count}.
const Schema = `
CREATE TABLE IF NOT EXISTS phrase_jobs (
    id          BIGSERIAL PRIMARY KEY,
    input_path  TEXT        NOT NULL,
    top_k       INTEGER     NOT NULL,
    delimiter   TEXT        NOT NULL,
    status      TEXT        NOT NULL DEFAULT 'PENDING',
    attempts    INTEGER     NOT NULL DEFAULT 0,
    result      JSONB,
    error       TEXT,
    error_stage TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS phrase_jobs_status_idx ON phrase_jobs (status);
`

// Client wraps a pooled PostgreSQL connection.
type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

// New opens a pool and verifies it with a ping.
func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

// Migrate applies Schema. It is idempotent.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the pool.
func (c *Client) Close() error {
	return c.DB.Close()
}

// InTx runs fn in a transaction, committing if it returns nil and rolling
// back otherwise.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
