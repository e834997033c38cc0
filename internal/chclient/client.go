// Package chclient implements inserter.Client over
// github.com/ClickHouse/clickhouse-go/v2, the concrete remote store driver
// grounded on original_source/extra_plugins/output/clickhouse/src/inserter.cpp's
// use of clickhouse-cpp's clickhouse::Client.
package chclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/ClickHouse/clickhouse-go/v2"
	chproto "github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/flowcol/flowcol/internal/block"
	"github.com/flowcol/flowcol/internal/coltype"
	"github.com/flowcol/flowcol/internal/inserter"
)

// errTableNotFoundCode is ClickHouse server exception code 60 ("table
// doesn't exist"), mirrored from inserter.cpp's ERR_TABLE_NOT_FOUND.
const errTableNotFoundCode = 60

// Endpoint is one (host, port) pair the Client may connect to.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Options configures a Client, mirroring clickhouse::ClientOptions as
// populated from spec.md §6.1's connection.* config block.
type Options struct {
	Endpoints []Endpoint
	User      string
	Password  string
	Database  string
}

// Client is the clickhouse-go/v2-backed implementation of inserter.Client.
// It owns exactly one connection at a time and rotates through Options.Endpoints
// on ResetEndpoint, matching the original's one-client-per-worker model.
type Client struct {
	opts Options
	next int // index into opts.Endpoints of the endpoint to try next

	conn    chproto.Conn
	current Endpoint
}

// New constructs a Client that has not yet connected to any endpoint.
func New(opts Options) *Client {
	return &Client{opts: opts}
}

func (c *Client) dial(ctx context.Context) error {
	if len(c.opts.Endpoints) == 0 {
		return fmt.Errorf("chclient: no endpoints configured")
	}
	ep := c.opts.Endpoints[c.next%len(c.opts.Endpoints)]
	c.next++

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{ep.addr()},
		Auth: clickhouse.Auth{
			Database: c.opts.Database,
			Username: c.opts.User,
			Password: c.opts.Password,
		},
	})
	if err != nil {
		return err
	}
	if err := conn.Ping(ctx); err != nil {
		return err
	}

	c.conn = conn
	c.current = ep
	return nil
}

// Connect opens the first configured endpoint.
func (c *Client) Connect(ctx context.Context) error {
	return c.dial(ctx)
}

// ResetEndpoint closes the current connection, if any, and dials the next
// endpoint in rotation, mirroring ResetConnectionEndpoint.
func (c *Client) ResetEndpoint(ctx context.Context) error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return c.dial(ctx)
}

// CurrentEndpoint reports the host:port currently connected to.
func (c *Client) CurrentEndpoint() string {
	return c.current.addr()
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Describe implements inserter.Client.Describe via DESCRIBE TABLE, mapping
// a "table doesn't exist" server exception onto inserter.ErrTableNotFound,
// grounded on inserter.cpp's describe_table.
func (c *Client) Describe(ctx context.Context, table string) ([]inserter.ColumnInfo, error) {
	rows, err := c.conn.Query(ctx, "DESCRIBE TABLE "+table)
	if err != nil {
		if exc, ok := asServerException(err); ok && exc.Code == errTableNotFoundCode {
			return nil, inserter.ErrTableNotFound
		}
		return nil, err
	}
	defer rows.Close()

	var cols []inserter.ColumnInfo
	for rows.Next() {
		var name, typ, defaultType, defaultExpression, comment, codecExpr, ttlExpr string
		if err := rows.Scan(&name, &typ, &defaultType, &defaultExpression, &comment, &codecExpr, &ttlExpr); err != nil {
			return nil, err
		}
		cols = append(cols, inserter.ColumnInfo{Name: name, Type: typ})
	}
	return cols, rows.Err()
}

// asServerException reports whether err is (or wraps) a
// *clickhouse.Exception, the driver's representation of a ClickHouse server
// error code.
func asServerException(err error) (*clickhouse.Exception, bool) {
	var exc *clickhouse.Exception
	ok := errors.As(err, &exc)
	return exc, ok
}

// Insert implements inserter.Client.Insert by building one column-oriented
// batch from b's populated rows and appending each row, grounded on
// inserter.cpp's m_client->Insert(table, block) but adapted to
// clickhouse-go/v2's PrepareBatch/AppendStruct-free column API since this
// driver has no direct equivalent of clickhouse-cpp's pre-built
// clickhouse::Block.
func (c *Client) Insert(ctx context.Context, table string, b *block.Block) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return err
	}

	for row := 0; row < b.Rows(); row++ {
		values := make([]any, len(b.Columns))
		for i, col := range b.Columns {
			v := b.Column(i)[row]
			values[i] = toDriverValue(v, col.Nullable)
		}
		if err := batch.Append(values...); err != nil {
			return err
		}
	}

	return batch.Send()
}

// toDriverValue converts a coltype.Value into the Go value clickhouse-go/v2
// expects for the corresponding column type, returning a nil *T for a null
// nullable column per the driver's Nullable(...) convention.
func toDriverValue(v coltype.Value, nullable bool) any {
	if v.Null {
		return nullPlaceholder(v.Type, nullable)
	}
	switch v.Type {
	case coltype.U8, coltype.U16, coltype.U32, coltype.U64,
		coltype.Mac, coltype.DatetimeSec, coltype.DatetimeMs:
		return v.U
	case coltype.I8, coltype.I16, coltype.I32, coltype.I64, coltype.DatetimeUs, coltype.DatetimeNs:
		return v.I
	case coltype.F32, coltype.F64:
		return v.F
	case coltype.IPv4, coltype.IPv6:
		return v.IP
	case coltype.Str, coltype.Bytes:
		return string(v.Bytes)
	default:
		return nil
	}
}

func nullPlaceholder(t coltype.Internal, nullable bool) any {
	if !nullable {
		// internal/pipeline stores a null Value for an absent or
		// unconvertible field whatever the column's nullability; a
		// non-nullable column receives the type's zero value instead.
		return toDriverValue(coltype.Value{Type: t}, false)
	}
	switch t {
	case coltype.U8, coltype.U16, coltype.U32, coltype.U64, coltype.Mac, coltype.DatetimeSec, coltype.DatetimeMs:
		return (*uint64)(nil)
	case coltype.I8, coltype.I16, coltype.I32, coltype.I64, coltype.DatetimeUs, coltype.DatetimeNs:
		return (*int64)(nil)
	case coltype.F32, coltype.F64:
		return (*float64)(nil)
	case coltype.IPv4, coltype.IPv6:
		return (*net.IP)(nil)
	default:
		return (*string)(nil)
	}
}
