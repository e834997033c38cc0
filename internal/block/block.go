package block

import (
	"time"

	"github.com/flowcol/flowcol/internal/coltype"
)

// Column describes one output column's static shape: its name, the internal
// type rows are stored as, and whether it accepts SQL NULL. Grounded on
// original_source/.../column.h's Column{name, datatype, nullable}, trimmed
// of the fds_iemgr_elem/alias pointers since source resolution lives in
// internal/recordparser rather than on the Block itself.
type Column struct {
	Name     string
	Type     coltype.Internal
	Nullable bool
}

// Block is a fixed-capacity columnar buffer: one coltype.Value slice per
// configured column, all sharing a row count. Grounded on
// original_source/.../block.h's Block{columns, block, rows}, with the
// ClickHouse-native clickhouse::Block replaced by this store-agnostic
// columnar representation; internal/chclient converts a Block into the
// wire-level column vectors clickhouse-go/v2 expects only at insert time.
type Block struct {
	Columns  []Column
	data     [][]coltype.Value
	rows     int
	capacity int

	// FirstRowAt is when the first row was appended since the last Clear,
	// used by the pipeline coordinator's block_insert_max_delay_secs flush
	// timer (spec.md §4.6/§4.8).
	FirstRowAt time.Time
}

// NewBlock allocates a Block with the given columns and row capacity.
func NewBlock(columns []Column, capacity int) *Block {
	data := make([][]coltype.Value, len(columns))
	for i := range data {
		data[i] = make([]coltype.Value, capacity)
	}
	return &Block{Columns: columns, data: data, capacity: capacity}
}

// Rows reports how many rows have been appended since the last Clear.
func (b *Block) Rows() int { return b.rows }

// Capacity reports the fixed row capacity this Block was allocated with.
func (b *Block) Capacity() int { return b.capacity }

// Full reports whether the Block has reached its row capacity.
func (b *Block) Full() bool { return b.rows >= b.capacity }

// AppendRow appends one row's values, one per column in Column order, using
// now to stamp FirstRowAt if this is the block's first row since the last
// Clear. It panics if the Block is full or the row width doesn't match the
// column count, both programmer errors the caller (internal/pipeline) must
// not trigger.
func (b *Block) AppendRow(values []coltype.Value, now time.Time) {
	if b.rows >= b.capacity {
		panic("block: AppendRow called on a full block")
	}
	if len(values) != len(b.Columns) {
		panic("block: row width does not match column count")
	}
	if b.rows == 0 {
		b.FirstRowAt = now
	}
	for i, v := range values {
		b.data[i][b.rows] = v
	}
	b.rows++
}

// Column returns the populated prefix (up to Rows()) of column i's values.
func (b *Block) Column(i int) []coltype.Value {
	return b.data[i][:b.rows]
}

// Clear resets the Block to empty so it can be returned to its pool's avail
// queue, mirroring the original's RefreshRowCount/clear cycle around an
// insert.
func (b *Block) Clear() {
	b.rows = 0
	b.FirstRowAt = time.Time{}
}
