package nf9

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/flowcol/flowcol/internal/ipfixmsg"
)

type convertedField struct {
	nf9Length   uint16
	enterpriseId uint32
	id           uint16
	length       uint16 // converted (IPFIX) wire length
	timestamp    bool   // FIRST_SWITCHED/LAST_SWITCHED rewrite target
}

type convertedTemplate struct {
	id              uint16
	options         bool
	scopeFieldCount int
	fields          []convertedField
	nf9RecordLen    int // fixed NFv9 wire record length
	dropped         bool
}

// Converter is stateful per (transport session, ODID): it remembers the last
// NetFlow v9 template definition seen for each template id so that data
// FlowSets in later messages can still be interpreted (spec.md §4.3).
type Converter struct {
	templates    map[uint16]*convertedTemplate
	totalEmitted uint64
}

func NewConverter() *Converter {
	return &Converter{templates: make(map[uint16]*convertedTemplate)}
}

// convertedSet is one FlowSet's worth of already-encoded IPFIX set bytes,
// paired with how many data records it carries (0 for template/options
// template sets), so packMessages can renumber the emitted sequence as it
// distributes sets across messages.
type convertedSet struct {
	buf     []byte
	records int
}

// Convert parses one complete NetFlow v9 message (the 20-byte header,
// starting with the version field, through the final FlowSet) and returns the wire
// bytes of the equivalent IPFIX message(s), split across multiple messages
// if the combined length would exceed MaxMessageLength.
func (c *Converter) Convert(payload []byte) ([][]byte, error) {
	hdr, err := DecodeHeader(payload)
	if err != nil {
		return nil, err
	}
	base := utcBaseMillis(hdr)
	body := payload[HeaderLength:]

	var sets []convertedSet

	for len(body) >= ipfixmsg.SetHeaderLength {
		sh, err := ipfixmsg.DecodeSetHeader(body)
		if err != nil {
			return nil, err
		}
		if int(sh.Length) < ipfixmsg.SetHeaderLength || int(sh.Length) > len(body) {
			return nil, fmt.Errorf("%w: flowset length %d exceeds remaining %d bytes", ErrMalformed, sh.Length, len(body))
		}
		setBody := body[ipfixmsg.SetHeaderLength:sh.Length]
		body = body[sh.Length:]

		switch {
		case sh.Id == TemplateFlowSetID:
			bufs, err := c.parseTemplateFlowSet(setBody)
			if err != nil {
				return nil, err
			}
			for _, b := range bufs {
				sets = append(sets, convertedSet{buf: b})
			}

		case sh.Id == OptionsTemplateFlowSetID:
			bufs, err := c.parseOptionsTemplateFlowSet(setBody)
			if err != nil {
				return nil, err
			}
			for _, b := range bufs {
				sets = append(sets, convertedSet{buf: b})
			}

		case sh.Id >= MinDataFlowSetID:
			buf, n, err := c.convertDataFlowSet(sh.Id, setBody, base)
			if err != nil {
				return nil, err
			}
			if buf != nil {
				sets = append(sets, convertedSet{buf: buf, records: n})
			}

		default:
			// 2..255: reserved, ignored per RFC 3954 §8.
		}
	}

	return c.packMessages(sets, hdr.UnixSecs, hdr.SourceId)
}

func (c *Converter) parseTemplateFlowSet(b []byte) ([][]byte, error) {
	var out [][]byte
	for len(b) >= 4 {
		id := binary.BigEndian.Uint16(b[0:2])
		fieldCount := binary.BigEndian.Uint16(b[2:4])
		b = b[4:]
		if fieldCount == 0 {
			// padding record, stop.
			break
		}

		ct := &convertedTemplate{id: id}
		for i := 0; i < int(fieldCount); i++ {
			if len(b) < 4 {
				return nil, fmt.Errorf("%w: truncated template field", ErrMalformed)
			}
			nf9Type := binary.BigEndian.Uint16(b[0:2])
			nf9Len := binary.BigEndian.Uint16(b[2:4])
			b = b[4:]

			fid := translateFieldID(nf9Type)
			cf := convertedField{nf9Length: nf9Len, enterpriseId: fid.enterpriseId, id: fid.id, length: nf9Len}
			switch nf9Type {
			case FieldFirstSwitched:
				cf.id, cf.enterpriseId, cf.length, cf.timestamp = ipfixFlowStartMilliseconds, 0, 8, true
			case FieldLastSwitched:
				cf.id, cf.enterpriseId, cf.length, cf.timestamp = ipfixFlowEndMilliseconds, 0, 8, true
			}
			ct.fields = append(ct.fields, cf)
			ct.nf9RecordLen += int(nf9Len)
		}

		c.templates[id] = ct
		out = append(out, encodeTemplateSet(ct))
	}
	return out, nil
}

func (c *Converter) parseOptionsTemplateFlowSet(b []byte) ([][]byte, error) {
	var out [][]byte
	for len(b) >= 6 {
		id := binary.BigEndian.Uint16(b[0:2])
		scopeLen := binary.BigEndian.Uint16(b[2:4])
		optionLen := binary.BigEndian.Uint16(b[4:6])
		b = b[6:]
		if scopeLen == 0 && optionLen == 0 {
			break
		}
		total := int(scopeLen) + int(optionLen)
		if len(b) < total {
			return nil, fmt.Errorf("%w: truncated options template", ErrMalformed)
		}
		rec := b[:total]
		b = b[total:]

		ct := &convertedTemplate{id: id, options: true, scopeFieldCount: int(scopeLen / 4)}
		dropped := false

		for off := 0; off+4 <= int(scopeLen); off += 4 {
			scopeType := binary.BigEndian.Uint16(rec[off : off+2])
			fieldLen := binary.BigEndian.Uint16(rec[off+2 : off+4])
			ipfixId, ok := scopeToIPFIX[scopeType]
			if !ok {
				dropped = true
				continue
			}
			ct.fields = append(ct.fields, convertedField{nf9Length: fieldLen, id: ipfixId, length: fieldLen})
			ct.nf9RecordLen += int(fieldLen)
		}
		for off := int(scopeLen); off+4 <= total; off += 4 {
			nf9Type := binary.BigEndian.Uint16(rec[off : off+2])
			fieldLen := binary.BigEndian.Uint16(rec[off+2 : off+4])
			fid := translateFieldID(nf9Type)
			cf := convertedField{nf9Length: fieldLen, enterpriseId: fid.enterpriseId, id: fid.id, length: fieldLen}
			switch nf9Type {
			case FieldFirstSwitched:
				cf.id, cf.enterpriseId, cf.length, cf.timestamp = ipfixFlowStartMilliseconds, 0, 8, true
			case FieldLastSwitched:
				cf.id, cf.enterpriseId, cf.length, cf.timestamp = ipfixFlowEndMilliseconds, 0, 8, true
			}
			ct.fields = append(ct.fields, cf)
			ct.nf9RecordLen += int(fieldLen)
		}

		if dropped {
			// unknown scope field id: drop the entire options template and
			// any subsequent data records referencing it (spec.md §4.3
			// point 3).
			ct.dropped = true
			c.templates[id] = ct
			continue
		}

		c.templates[id] = ct
		out = append(out, encodeTemplateSet(ct))
	}
	return out, nil
}

// convertDataFlowSet decodes the fixed-length NFv9 data records in a data
// FlowSet against the last-seen template for its id and returns the encoded
// IPFIX data set bytes and the number of records it carries. It returns a
// nil buffer (and drops the records) if the template id is unknown or was
// dropped for an unsupported scope field.
func (c *Converter) convertDataFlowSet(setID uint16, b []byte, baseMillis int64) ([]byte, int, error) {
	ct, ok := c.templates[setID]
	if !ok {
		return nil, 0, nil
	}
	if ct.dropped {
		return nil, 0, nil
	}
	if ct.nf9RecordLen == 0 {
		return nil, 0, fmt.Errorf("%w: template %d has zero record length", ErrMalformed, setID)
	}

	var out bytes.Buffer
	count := 0
	for len(b) >= ct.nf9RecordLen {
		rec := b[:ct.nf9RecordLen]
		b = b[ct.nf9RecordLen:]

		off := 0
		for _, f := range ct.fields {
			raw := rec[off : off+int(f.nf9Length)]
			off += int(f.nf9Length)

			if f.timestamp {
				relMs := readUint(raw)
				abs := baseMillis + int64(relMs)
				var w [8]byte
				binary.BigEndian.PutUint64(w[:], uint64(abs))
				out.Write(w[:])
				continue
			}
			out.Write(raw)
		}
		count++
	}

	header := ipfixmsg.SetHeader{Id: setID, Length: uint16(ipfixmsg.SetHeaderLength + out.Len())}
	var setBuf bytes.Buffer
	setBuf.Write(header.Encode())
	setBuf.Write(out.Bytes())
	return setBuf.Bytes(), count, nil
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// encodeTemplateSet encodes a single converted template as a one-record
// IPFIX Template Set (or Options Template Set), using the same
// enterprise-bit field header layout the teacher's decodeTemplateField
// parses (4 bytes, plus 4 more for the enterprise number when the top bit of
// the field id is set).
func encodeTemplateSet(ct *convertedTemplate) []byte {
	var rec bytes.Buffer
	var tmplHeader [2]byte
	binary.BigEndian.PutUint16(tmplHeader[:], ct.id)
	rec.Write(tmplHeader[:])

	if ct.options {
		var counts [4]byte
		binary.BigEndian.PutUint16(counts[0:2], uint16(len(ct.fields)))
		binary.BigEndian.PutUint16(counts[2:4], uint16(ct.scopeFieldCount))
		rec.Write(counts[:])
	} else {
		var cnt [2]byte
		binary.BigEndian.PutUint16(cnt[:], uint16(len(ct.fields)))
		rec.Write(cnt[:])
	}

	for _, f := range ct.fields {
		id := f.id
		if f.enterpriseId != 0 {
			id |= 0x8000
		}
		var fh [4]byte
		binary.BigEndian.PutUint16(fh[0:2], id)
		binary.BigEndian.PutUint16(fh[2:4], f.length)
		rec.Write(fh[:])
		if f.enterpriseId != 0 {
			var pen [4]byte
			binary.BigEndian.PutUint32(pen[:], f.enterpriseId)
			rec.Write(pen[:])
		}
	}

	setID := ipfixmsg.TemplateSetID
	if ct.options {
		setID = ipfixmsg.OptionsTemplateSetID
	}
	sh := ipfixmsg.SetHeader{Id: setID, Length: uint16(ipfixmsg.SetHeaderLength + rec.Len())}

	var out bytes.Buffer
	out.Write(sh.Encode())
	out.Write(rec.Bytes())
	return out.Bytes()
}

// packMessages assembles converted sets into one or more IPFIX messages,
// splitting whenever the next set would push a message past
// ipfixmsg.MaxMessageLength, and stamping each message's sequence number
// with the cumulative count of data records emitted before it (spec.md §4.3
// point 4: out-of-order NFv9 input never lowers the emitted sequence,
// because the converter only ever counts what it has itself emitted).
func (c *Converter) packMessages(sets []convertedSet, exportTime, odid uint32) ([][]byte, error) {
	if len(sets) == 0 {
		return nil, nil
	}

	var messages [][]byte
	var cur bytes.Buffer
	curLen := ipfixmsg.HeaderLength
	curSeqBase := c.totalEmitted

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		hdr := ipfixmsg.Header{
			Version:             ipfixmsg.Version,
			Length:              uint16(curLen),
			ExportTime:          exportTime,
			SequenceNumber:      uint32(curSeqBase),
			ObservationDomainId: odid,
		}
		var msg bytes.Buffer
		msg.Write(hdr.Encode())
		msg.Write(cur.Bytes())
		messages = append(messages, msg.Bytes())
		cur.Reset()
		curLen = ipfixmsg.HeaderLength
		curSeqBase = c.totalEmitted
	}

	for _, s := range sets {
		if curLen+len(s.buf) > ipfixmsg.MaxMessageLength && cur.Len() > 0 {
			flush()
		}
		cur.Write(s.buf)
		curLen += len(s.buf)
		c.totalEmitted += uint64(s.records)
	}
	flush()

	return messages, nil
}
