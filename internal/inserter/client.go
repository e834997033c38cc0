// Package inserter implements the InserterPool: N worker goroutines that
// drain filled Blocks into a ClickHouse-compatible remote store, each
// holding its own connection with schema verification, endpoint rotation on
// failure, and a bounded cooperative-stop drain. Grounded on
// original_source/extra_plugins/output/clickhouse/src/{inserter.cpp,
// inserter.h,worker.h}; the concrete ClickHouse wire client lives in
// internal/chclient behind the Client interface below so this package never
// imports clickhouse-go/v2 directly.
package inserter

import (
	"context"
	"fmt"

	"github.com/flowcol/flowcol/internal/block"
)

// ColumnInfo is one column's name and ClickHouse-rendered type string, as
// reported by (or compared against) the remote store's schema.
type ColumnInfo struct {
	Name string
	Type string
}

// Client is the narrow remote-store interface a worker drives; internal/chclient
// provides the concrete implementation over clickhouse-go/v2, mirroring the
// original's dependence on clickhouse::Client's Connect/Select/Insert.
type Client interface {
	// Connect establishes a connection to the current endpoint.
	Connect(ctx context.Context) error

	// Describe returns the table's column names and types, in column order,
	// as the remote store currently understands them (original's
	// describe_table).
	Describe(ctx context.Context, table string) ([]ColumnInfo, error)

	// Insert writes b's populated rows into table.
	Insert(ctx context.Context, table string, b *block.Block) error

	// CurrentEndpoint reports the host:port this client is connected to, for
	// logging.
	CurrentEndpoint() string

	// ResetEndpoint rotates to the next configured endpoint and reconnects,
	// used on retry after an insert failure.
	ResetEndpoint(ctx context.Context) error

	Close() error
}

// SchemaError reports a mismatch between the configured column schema and
// what the remote table actually has, with a ready-to-print CREATE TABLE
// hint, grounded on ensure_schema's schema_hint lambda.
type SchemaError struct {
	Table   string
	Message string
	Hint    string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s\n%s", e.Message, e.Hint)
}

// ErrTableNotFound mirrors ERR_TABLE_NOT_FOUND (ClickHouse server error code
// 60, "table doesn't exist"), which internal/chclient maps from the
// driver's server exception code into this sentinel so this package stays
// client-library agnostic.
var ErrTableNotFound = fmt.Errorf("inserter: table does not exist")

// EnsureSchema verifies that table's actual column layout (as reported by
// Describe) matches want exactly in count, order, name, and type, returning
// a *SchemaError with a CREATE TABLE hint otherwise. Grounded on
// inserter.cpp's ensure_schema.
func EnsureSchema(ctx context.Context, c Client, table string, want []ColumnInfo) error {
	got, err := c.Describe(ctx, table)
	if err != nil {
		return err
	}

	if len(got) != len(want) {
		return &SchemaError{
			Table:   table,
			Message: fmt.Sprintf("config has %d columns but table %q has %d", len(want), table, len(got)),
			Hint:    createTableHint(table, want),
		}
	}

	for i := range want {
		if want[i].Name != got[i].Name {
			return &SchemaError{
				Table:   table,
				Message: fmt.Sprintf("expected column #%d in table %q to be named %q but it is %q", i, table, want[i].Name, got[i].Name),
				Hint:    createTableHint(table, want),
			}
		}
		if want[i].Type != got[i].Type {
			return &SchemaError{
				Table:   table,
				Message: fmt.Sprintf("expected column #%d in table %q to be of type %q but it is %q", i, table, want[i].Type, got[i].Type),
				Hint:    createTableHint(table, want),
			}
		}
	}
	return nil
}

func createTableHint(table string, columns []ColumnInfo) string {
	hint := fmt.Sprintf("hint:\nCREATE TABLE %s(\n", table)
	for i, c := range columns {
		hint += fmt.Sprintf("    %q %s", c.Name, c.Type)
		if i < len(columns)-1 {
			hint += ","
		}
		hint += "\n"
	}
	hint += ");"
	return hint
}
