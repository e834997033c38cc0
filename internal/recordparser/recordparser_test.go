package recordparser

import (
	"encoding/binary"
	"testing"

	"github.com/flowcol/flowcol/internal/element"
	"github.com/flowcol/flowcol/internal/template"
)

func mustTemplate(t *testing.T, fields []template.Field) *template.Template {
	t.Helper()
	tmpl, err := template.Parse(256, template.KindData, 0, fields)
	if err != nil {
		t.Fatal(err)
	}
	return tmpl
}

func biflowField(id uint16, length uint16, reverse bool) template.Field {
	en := uint32(0)
	if reverse {
		en = reverseEnterpriseId
	}
	return template.Field{Element: element.Key{EnterpriseId: en, Id: id}, Length: length}
}

func TestParseRecordResolvesForwardAndReverseColumns(t *testing.T) {
	tmpl := mustTemplate(t, []template.Field{
		biflowField(8, 4, false),  // sourceIPv4Address
		biflowField(1, 8, false),  // octetDeltaCount fwd
		biflowField(1, 8, true),   // octetDeltaCount rev
	})

	sources := []Source{
		DirectSource(element.Key{EnterpriseId: 0, Id: 8}),
		DirectSource(element.Key{EnterpriseId: 0, Id: 1}),
	}
	rp, err := NewRecordParser(sources, tmpl, true, true)
	if err != nil {
		t.Fatal(err)
	}

	var rec []byte
	rec = append(rec, 10, 0, 0, 1) // 10.0.0.1
	var octFwd, octRev [8]byte
	binary.BigEndian.PutUint64(octFwd[:], 1000)
	binary.BigEndian.PutUint64(octRev[:], 0)
	rec = append(rec, octFwd[:]...)
	rec = append(rec, octRev[:]...)

	if err := rp.ParseRecord(rec); err != nil {
		t.Fatal(err)
	}

	ip, ok := rp.Get(0, false)
	if !ok || ip[3] != 1 {
		t.Errorf("expected forward source address column, got %v ok=%v", ip, ok)
	}
	oct, ok := rp.Get(1, false)
	if !ok || binary.BigEndian.Uint64(oct) != 1000 {
		t.Errorf("expected forward octetDeltaCount 1000, got %v", oct)
	}
	octR, ok := rp.Get(1, true)
	if !ok || binary.BigEndian.Uint64(octR) != 0 {
		t.Errorf("expected reverse octetDeltaCount 0, got %v", octR)
	}

	if rp.SkipForward() {
		t.Error("forward octetDeltaCount is nonzero, should not be skipped")
	}
	if !rp.SkipReverse() {
		t.Error("reverse octetDeltaCount is zero, should be skipped")
	}
}

func TestParseRecordNonBiflowAlwaysSkipsReverse(t *testing.T) {
	tmpl := mustTemplate(t, []template.Field{biflowField(1, 8, false)})
	rp, err := NewRecordParser([]Source{DirectSource(element.Key{EnterpriseId: 0, Id: 1})}, tmpl, true, true)
	if err != nil {
		t.Fatal(err)
	}
	var rec [8]byte
	if err := rp.ParseRecord(rec[:]); err != nil {
		t.Fatal(err)
	}
	if !rp.SkipReverse() {
		t.Error("a non-biflow template should always report SkipReverse true")
	}
}

// TestParseRecordSplitBiflowFalseAlwaysSkipsReverse guards config.SplitBiflow
// (spec.md §6.1): with it off, a biflow record always collapses to a single
// forward row, even when the reverse direction carries nonzero deltas that
// the autoignore heuristic would otherwise keep.
func TestParseRecordSplitBiflowFalseAlwaysSkipsReverse(t *testing.T) {
	tmpl := mustTemplate(t, []template.Field{
		biflowField(1, 8, false),
		biflowField(1, 8, true),
	})
	sources := []Source{DirectSource(element.Key{EnterpriseId: 0, Id: 1})}
	rp, err := NewRecordParser(sources, tmpl, true, false)
	if err != nil {
		t.Fatal(err)
	}

	var rec []byte
	var octFwd, octRev [8]byte
	binary.BigEndian.PutUint64(octFwd[:], 1000)
	binary.BigEndian.PutUint64(octRev[:], 2000) // nonzero: autoignore alone would keep this row
	rec = append(rec, octFwd[:]...)
	rec = append(rec, octRev[:]...)

	if err := rp.ParseRecord(rec); err != nil {
		t.Fatal(err)
	}
	if rp.SkipForward() {
		t.Error("forward row should still be emitted")
	}
	if !rp.SkipReverse() {
		t.Error("split_biflow=false should always skip the reverse row")
	}
}

func TestManagerRebuildsOnTemplateChange(t *testing.T) {
	m := NewManager([]Source{DirectSource(element.Key{EnterpriseId: 0, Id: 1})}, false, true)

	t1 := mustTemplate(t, []template.Field{biflowField(1, 8, false)})
	rp1, err := m.GetParser(1, 10, t1)
	if err != nil {
		t.Fatal(err)
	}

	rp2, err := m.GetParser(1, 10, t1)
	if err != nil {
		t.Fatal(err)
	}
	if rp1 != rp2 {
		t.Error("expected the same parser instance for an unchanged template")
	}

	t2 := mustTemplate(t, []template.Field{biflowField(1, 4, false)})
	rp3, err := m.GetParser(1, 10, t2)
	if err != nil {
		t.Fatal(err)
	}
	if rp1 == rp3 {
		t.Error("expected a rebuilt parser after the template definition changed")
	}
}
