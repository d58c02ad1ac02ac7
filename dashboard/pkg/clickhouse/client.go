package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/acme/truckair/dashboard/pkg/trucktelem"
)

type ClientConfig struct {
	Logger   *slog.Logger
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Addr == "" {
		return errors.New("clickhouse addr is required")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	return nil
}

func (cfg ClientConfig) options() *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
	if cfg.Secure {
		opts.TLS = &tls.Config{}
	}
	return opts
}

// Client executes dashboard queries against a ClickHouse table holding the
// same wide truck rows as the InfluxDB measurement.
type Client struct {
	log  *slog.Logger
	conn driver.Conn
}

func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(cfg.options())
	if err != nil {
		return nil, fmt.Errorf("failed to create clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	cfg.Logger.Info("clickhouse: connected", "addr", cfg.Addr, "database", cfg.Database)
	return &Client{log: cfg.Logger, conn: conn}, nil
}

func (c *Client) Execute(ctx context.Context, q trucktelem.Query) (trucktelem.Result, error) {
	tables := make([]trucktelem.Table, 0, len(q.Statements))
	for _, stmt := range q.Statements {
		if err := ctx.Err(); err != nil {
			return trucktelem.Result{}, err
		}
		table, err := c.query(ctx, stmt)
		if err != nil {
			return trucktelem.Result{}, err
		}
		tables = append(tables, table)
	}
	return trucktelem.ResultFromTables(tables), nil
}

func (c *Client) query(ctx context.Context, stmt trucktelem.Statement) (trucktelem.Table, error) {
	args := make([]any, 0, len(stmt.Params))
	for name, v := range stmt.Params {
		args = append(args, clickhouse.Named(name, v))
	}

	start := time.Now()
	rows, err := c.conn.Query(ctx, stmt.SQL, args...)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns := rows.Columns()
	columnTypes := rows.ColumnTypes()

	var table trucktelem.Table
	for rows.Next() {
		values := make([]any, len(columnTypes))
		for i, ct := range columnTypes {
			values[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(values...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = deref(reflect.ValueOf(values[i]).Elem().Interface())
		}
		table = append(table, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	c.log.Debug("clickhouse: statement completed",
		"field", stmt.Field,
		"rows", len(table),
		"duration", time.Since(start).String())
	return table, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// deref unwraps Nullable columns, which scan into pointers. A nil pointer
// becomes an untyped nil so the value reads as absent.
func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}
