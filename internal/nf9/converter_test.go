package nf9

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/flowcol/flowcol/internal/ipfixmsg"
)

func buildNF9Message(unixSecs, sysUptimeMs uint32, setBodies ...[]byte) []byte {
	var b bytes.Buffer
	var hdr [20]byte
	binary.BigEndian.PutUint16(hdr[0:2], Version)
	binary.BigEndian.PutUint16(hdr[2:4], 1) // count, unused by the converter
	binary.BigEndian.PutUint32(hdr[4:8], sysUptimeMs)
	binary.BigEndian.PutUint32(hdr[8:12], unixSecs)
	binary.BigEndian.PutUint32(hdr[12:16], 0) // seq
	binary.BigEndian.PutUint32(hdr[16:20], 10) // source id / odid
	b.Write(hdr[:])
	for _, s := range setBodies {
		b.Write(s)
	}
	return b.Bytes()
}

func templateFlowSet(id uint16, fields [][2]uint16) []byte {
	var rec bytes.Buffer
	var th [4]byte
	binary.BigEndian.PutUint16(th[0:2], id)
	binary.BigEndian.PutUint16(th[2:4], uint16(len(fields)))
	rec.Write(th[:])
	for _, f := range fields {
		var fb [4]byte
		binary.BigEndian.PutUint16(fb[0:2], f[0])
		binary.BigEndian.PutUint16(fb[2:4], f[1])
		rec.Write(fb[:])
	}
	sh := ipfixmsg.SetHeader{Id: TemplateFlowSetID, Length: uint16(4 + rec.Len())}
	var out bytes.Buffer
	out.Write(sh.Encode())
	out.Write(rec.Bytes())
	return out.Bytes()
}

func dataFlowSet(templateID uint16, records ...[]byte) []byte {
	var rec bytes.Buffer
	for _, r := range records {
		rec.Write(r)
	}
	sh := ipfixmsg.SetHeader{Id: templateID, Length: uint16(4 + rec.Len())}
	var out bytes.Buffer
	out.Write(sh.Encode())
	out.Write(rec.Bytes())
	return out.Bytes()
}

// TestConvertRewritesSwitchingTimestamps exercises scenario S2: FIRST_SWITCHED
// and LAST_SWITCHED relative milliseconds become absolute IPFIX millisecond
// timestamps computed from unixSecs*1000 - sysUptimeMs + relative value.
func TestConvertRewritesSwitchingTimestamps(t *testing.T) {
	c := NewConverter()

	tmpl := templateFlowSet(256, [][2]uint16{
		{FieldFirstSwitched, 4},
		{FieldLastSwitched, 4},
	})

	var rec [8]byte
	binary.BigEndian.PutUint32(rec[0:4], 5000)
	binary.BigEndian.PutUint32(rec[4:8], 7897)
	data := dataFlowSet(256, rec[:])

	msg := buildNF9Message(1562857357, 10001, tmpl, data)

	out, err := c.Convert(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one IPFIX message, got %d", len(out))
	}

	hdr, err := ipfixmsg.DecodeHeader(out[0])
	if err != nil {
		t.Fatal(err)
	}
	if hdr.SequenceNumber != 0 {
		t.Errorf("expected sequence 0 for first message, got %d", hdr.SequenceNumber)
	}
	if hdr.ObservationDomainId != 10 {
		t.Errorf("expected ODID 10 (source id), got %d", hdr.ObservationDomainId)
	}

	// find the data set and decode its two 8-byte absolute timestamps.
	body := out[0][ipfixmsg.HeaderLength:]
	// skip the template set first.
	sh, err := ipfixmsg.DecodeSetHeader(body)
	if err != nil {
		t.Fatal(err)
	}
	body = body[sh.Length:]
	sh, err = ipfixmsg.DecodeSetHeader(body)
	if err != nil {
		t.Fatal(err)
	}
	rows := body[ipfixmsg.SetHeaderLength:sh.Length]
	if len(rows) != 16 {
		t.Fatalf("expected a 16-byte converted data record, got %d bytes", len(rows))
	}

	wantBase := int64(1562857357)*1000 - int64(10001)
	gotFirst := int64(binary.BigEndian.Uint64(rows[0:8]))
	gotLast := int64(binary.BigEndian.Uint64(rows[8:16]))
	if gotFirst != wantBase+5000 {
		t.Errorf("flowStartMilliseconds = %d, want %d", gotFirst, wantBase+5000)
	}
	if gotLast != wantBase+7897 {
		t.Errorf("flowEndMilliseconds = %d, want %d", gotLast, wantBase+7897)
	}

	if c.totalEmitted != 1 {
		t.Errorf("expected cumulative emitted count 1, got %d", c.totalEmitted)
	}
}

// TestConvertRenumbersSequenceCumulatively exercises property 6: the emitted
// sequence is the count of previously emitted records, not the input NFv9
// sequence, and a template definition carries across separate Convert calls.
func TestConvertRenumbersSequenceCumulatively(t *testing.T) {
	c := NewConverter()

	tmpl := templateFlowSet(256, [][2]uint16{{1, 4}}) // octetDeltaCount, 4 bytes
	var rec [4]byte
	binary.BigEndian.PutUint32(rec[:], 111)
	first := buildNF9Message(1000, 0, tmpl, dataFlowSet(256, rec[:], rec[:]))

	out1, err := c.Convert(first)
	if err != nil {
		t.Fatal(err)
	}
	h1, _ := ipfixmsg.DecodeHeader(out1[0])
	if h1.SequenceNumber != 0 {
		t.Errorf("first message sequence = %d, want 0", h1.SequenceNumber)
	}

	// second message reuses the already-defined template, no new template set.
	second := buildNF9Message(1001, 0, dataFlowSet(256, rec[:]))
	out2, err := c.Convert(second)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := ipfixmsg.DecodeHeader(out2[0])
	if h2.SequenceNumber != 2 {
		t.Errorf("second message sequence = %d, want 2 (cumulative after first message's 2 records)", h2.SequenceNumber)
	}
}

// TestConvertDropsUnknownScopeField exercises spec.md §4.3 point 3: an
// options template with an unrecognized scope field id is dropped entirely,
// along with its data records.
func TestConvertDropsUnknownScopeField(t *testing.T) {
	c := NewConverter()

	var optTmpl bytes.Buffer
	var th [6]byte
	binary.BigEndian.PutUint16(th[0:2], 257)
	binary.BigEndian.PutUint16(th[2:4], 4) // one scope field
	binary.BigEndian.PutUint16(th[4:6], 4) // one option field
	optTmpl.Write(th[:])
	var scope [4]byte
	binary.BigEndian.PutUint16(scope[0:2], 99) // unknown scope type
	binary.BigEndian.PutUint16(scope[2:4], 4)
	optTmpl.Write(scope[:])
	var opt [4]byte
	binary.BigEndian.PutUint16(opt[0:2], 1)
	binary.BigEndian.PutUint16(opt[2:4], 4)
	optTmpl.Write(opt[:])

	sh := ipfixmsg.SetHeader{Id: OptionsTemplateFlowSetID, Length: uint16(4 + optTmpl.Len())}
	var optSet bytes.Buffer
	optSet.Write(sh.Encode())
	optSet.Write(optTmpl.Bytes())

	var rec [8]byte
	msg := buildNF9Message(1000, 0, optSet.Bytes(), dataFlowSet(257, rec[:]))

	out, err := c.Convert(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("expected no IPFIX messages for a dropped options template, got %d", len(out))
	}
}
