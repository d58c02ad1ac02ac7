package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"github.com/acme/truckair/dashboard/pkg/trucktelem"
)

type ClientConfig struct {
	Logger       *slog.Logger
	Host         string
	Token        string
	Organization string
	Database     string
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Host == "" {
		return errors.New("influxdb host is required")
	}
	if cfg.Token == "" {
		return errors.New("influxdb token is required")
	}
	if cfg.Database == "" {
		return errors.New("influxdb database is required")
	}
	return nil
}

// Client executes dashboard queries against InfluxDB 3 using the official SDK.
// Each statement becomes one result table.
type Client struct {
	log    *slog.Logger
	client *influxdb3.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:         cfg.Host,
		Token:        cfg.Token,
		Organization: cfg.Organization,
		Database:     cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}
	return &Client{log: cfg.Logger, client: client}, nil
}

func (c *Client) Execute(ctx context.Context, q trucktelem.Query) (trucktelem.Result, error) {
	tables := make([]trucktelem.Table, 0, len(q.Statements))
	for _, stmt := range q.Statements {
		if err := ctx.Err(); err != nil {
			return trucktelem.Result{}, err
		}
		start := time.Now()
		table, err := c.querySQL(ctx, stmt)
		if err != nil {
			return trucktelem.Result{}, err
		}
		c.log.Debug("influx: statement completed",
			"intent", q.Intent,
			"field", stmt.Field,
			"rows", len(table),
			"duration", time.Since(start).String())
		tables = append(tables, table)
	}
	return trucktelem.ResultFromTables(tables), nil
}

func (c *Client) querySQL(ctx context.Context, stmt trucktelem.Statement) (trucktelem.Table, error) {
	var (
		iterator *influxdb3.QueryIterator
		err      error
	)
	if len(stmt.Params) > 0 {
		iterator, err = c.client.QueryWithParameters(ctx, stmt.SQL, influxdb3.QueryParameters(stmt.Params))
	} else {
		iterator, err = c.client.Query(ctx, stmt.SQL)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	var table trucktelem.Table
	for iterator.Next() {
		value := iterator.Value()
		row := make(map[string]any, len(value))
		for k, v := range value {
			row[k] = v
		}
		table = append(table, row)
	}
	if err := iterator.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return table, nil
}

func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil && !isExpectedCloseError(err) {
		return err
	}
	return nil
}

func isExpectedCloseError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "connection is closing") ||
		strings.Contains(errStr, "code = Canceled") ||
		strings.Contains(errStr, "grpc: the client connection is closing")
}
