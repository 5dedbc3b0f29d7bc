package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// Client manages a ClickHouse connection pool.
type Client struct {
	db *sql.DB
}

// NewClient opens a pool and pings the server.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		Port:            9000,
		User:            "default",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}

	db, err := sql.Open("clickhouse", buildDSN(*cfg))
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an existing pool.
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// DB returns *sql.DB for direct use.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Health performs health check.
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes connection pool.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// InitSchema runs idempotent DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// InsertBatch sends rows as a single block. query is an
// "INSERT INTO table (cols)" statement without a VALUES clause.
func (c *Client) InsertBatch(ctx context.Context, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func buildDSN(cfg ClientConfig) string {
	scheme := "clickhouse://"
	if cfg.UseHTTP {
		scheme = "http://"
	}
	dsn := fmt.Sprintf("%s%s:%s@%s:%d/%s",
		scheme, cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	params := make([]string, 0, 5)
	if cfg.DialTimeout > 0 {
		params = append(params, fmt.Sprintf("dial_timeout=%s", cfg.DialTimeout))
	}
	if cfg.ReadTimeout > 0 {
		params = append(params, fmt.Sprintf("read_timeout=%s", cfg.ReadTimeout))
	}
	if cfg.MaxExecTime > 0 {
		params = append(params, fmt.Sprintf("max_execution_time=%d", int(cfg.MaxExecTime.Seconds())))
	}
	if cfg.AsyncInsert {
		params = append(params, "async_insert=1")
		if cfg.WaitForAsync {
			params = append(params, "wait_for_async_insert=1")
		}
	}
	for i, p := range params {
		sep := "&"
		if i == 0 {
			sep = "?"
		}
		dsn += sep + p
	}
	return dsn
}
