package block

import (
	"testing"
	"time"

	"github.com/flowcol/flowcol/internal/coltype"
)

func testColumns() []Column {
	return []Column{
		{Name: "octets", Type: coltype.U64},
		{Name: "packets", Type: coltype.U64},
	}
}

func TestBlockAppendRowAndClear(t *testing.T) {
	b := NewBlock(testColumns(), 4)
	if b.Full() {
		t.Fatal("new block should not be full")
	}

	b.AppendRow([]coltype.Value{{Type: coltype.U64, U: 100}, {Type: coltype.U64, U: 2}}, time.Now())
	b.AppendRow([]coltype.Value{{Type: coltype.U64, U: 200}, {Type: coltype.U64, U: 3}}, time.Now())

	if b.Rows() != 2 {
		t.Fatalf("expected 2 rows, got %d", b.Rows())
	}
	col := b.Column(0)
	if col[0].U != 100 || col[1].U != 200 {
		t.Errorf("unexpected column 0 values: %+v", col)
	}

	b.Clear()
	if b.Rows() != 0 {
		t.Error("expected Clear to reset row count")
	}
}

func TestBlockAppendRowPanicsWhenFull(t *testing.T) {
	b := NewBlock(testColumns(), 1)
	b.AppendRow([]coltype.Value{{Type: coltype.U64, U: 1}, {Type: coltype.U64, U: 1}}, time.Now())

	defer func() {
		if recover() == nil {
			t.Fatal("expected AppendRow on a full block to panic")
		}
	}()
	b.AppendRow([]coltype.Value{{Type: coltype.U64, U: 2}, {Type: coltype.U64, U: 2}}, time.Now())
}

func TestQueuePutGetTryGet(t *testing.T) {
	q := NewQueue(2)
	if _, ok := q.TryGet(); ok {
		t.Fatal("expected TryGet on an empty queue to fail")
	}

	b1 := &Block{}
	q.Put(b1)
	if q.Len() != 1 {
		t.Fatalf("expected length 1, got %d", q.Len())
	}

	got, ok := q.TryGet()
	if !ok || got != b1 {
		t.Fatal("expected TryGet to return the enqueued block")
	}
}

func TestPoolCirculatesBlocksAndStopSentinel(t *testing.T) {
	p := NewPool(3, testColumns(), 10)
	if p.Avail.Len() != 3 {
		t.Fatalf("expected 3 available blocks, got %d", p.Avail.Len())
	}

	b := p.Avail.Get()
	b.AppendRow([]coltype.Value{{Type: coltype.U64, U: 1}, {Type: coltype.U64, U: 1}}, time.Now())
	p.Filled.Put(b)

	got := p.Filled.Get()
	if IsStop(got) {
		t.Fatal("did not expect a stop sentinel")
	}
	got.Clear()
	p.Avail.Put(got)

	p.PutStop()
	stop := p.Filled.Get()
	if !IsStop(stop) {
		t.Fatal("expected a stop sentinel")
	}
}
