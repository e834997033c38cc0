package template

import (
	"encoding/binary"
	"fmt"

	"github.com/flowcol/flowcol/internal/element"
)

// penMask is the top bit of a template field's 16-bit id that signals a
// following 4-byte enterprise (private enterprise number) field header,
// grounded on the teacher's template_record.go/options_template_record.go
// decodeTemplateField (penMask/rawFieldId).
const penMask = uint16(0x8000)

// Decoded is one template record parsed out of a Template Set or Options
// Template Set body: either a full definition (Withdrawal false) or a
// withdrawal/refresh marker (field count zero, Withdrawal true, Fields nil).
type Decoded struct {
	Id              uint16
	Kind            Kind
	ScopeFieldCount int
	Fields          []Field
	Withdrawal      bool
}

// DecodeTemplateSet parses the back-to-back template records making up a
// Template Set's body (the set header itself already consumed by the
// caller).
func DecodeTemplateSet(b []byte) ([]Decoded, error) {
	return decodeSet(b, KindData)
}

// DecodeOptionsTemplateSet parses the back-to-back template records making
// up an Options Template Set's body, each carrying an extra scope field
// count ahead of its field specifiers (RFC 7011 §3.4.2.2).
func DecodeOptionsTemplateSet(b []byte) ([]Decoded, error) {
	return decodeSet(b, KindOptions)
}

func decodeSet(b []byte, kind Kind) ([]Decoded, error) {
	var out []Decoded
	off := 0
	for off+4 <= len(b) {
		id := binary.BigEndian.Uint16(b[off : off+2])
		fieldCount := binary.BigEndian.Uint16(b[off+2 : off+4])
		off += 4

		scopeFieldCount := 0
		if kind == KindOptions {
			if off+2 > len(b) {
				return nil, fmt.Errorf("template: truncated options template record %d", id)
			}
			scopeFieldCount = int(binary.BigEndian.Uint16(b[off : off+2]))
			off += 2
		}

		if fieldCount == 0 {
			out = append(out, Decoded{Id: id, Kind: kind, Withdrawal: true})
			continue
		}

		fields := make([]Field, 0, fieldCount)
		for i := 0; i < int(fieldCount); i++ {
			f, n, err := decodeField(b[off:])
			if err != nil {
				return nil, fmt.Errorf("template: record %d field %d: %w", id, i, err)
			}
			fields = append(fields, f)
			off += n
		}

		out = append(out, Decoded{Id: id, Kind: kind, ScopeFieldCount: scopeFieldCount, Fields: fields})
	}
	return out, nil
}

func decodeField(b []byte) (Field, int, error) {
	if len(b) < 4 {
		return Field{}, 0, fmt.Errorf("truncated field specifier")
	}
	rawId := binary.BigEndian.Uint16(b[0:2])
	length := binary.BigEndian.Uint16(b[2:4])
	off := 4

	var enterpriseId uint32
	id := rawId &^ penMask
	if rawId&penMask != 0 {
		if len(b) < off+4 {
			return Field{}, 0, fmt.Errorf("truncated enterprise number")
		}
		enterpriseId = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
	}

	return Field{Element: element.Key{EnterpriseId: enterpriseId, Id: id}, Length: length}, off, nil
}
