package template

import (
	"encoding/binary"
	"testing"
)

func appendFieldSpec(b []byte, enterprise uint32, id uint16, length uint16) []byte {
	if enterprise != 0 {
		b = binary.BigEndian.AppendUint16(b, penMask|id)
	} else {
		b = binary.BigEndian.AppendUint16(b, id)
	}
	b = binary.BigEndian.AppendUint16(b, length)
	if enterprise != 0 {
		b = binary.BigEndian.AppendUint32(b, enterprise)
	}
	return b
}

func TestDecodeTemplateSetParsesFieldsWithEnterpriseBit(t *testing.T) {
	var b []byte
	b = binary.BigEndian.AppendUint16(b, 256) // template id
	b = binary.BigEndian.AppendUint16(b, 2)   // field count
	b = appendFieldSpec(b, 0, 8, 4)
	b = appendFieldSpec(b, 29305, 1, 4)

	decoded, err := DecodeTemplateSet(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 template record, got %d", len(decoded))
	}
	d := decoded[0]
	if d.Id != 256 || d.Withdrawal {
		t.Fatalf("unexpected decoded template: %+v", d)
	}
	if len(d.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(d.Fields))
	}
	if d.Fields[1].Element.EnterpriseId != 29305 || d.Fields[1].Element.Id != 1 {
		t.Fatalf("expected second field to carry the enterprise id, got %+v", d.Fields[1])
	}
}

func TestDecodeTemplateSetWithdrawalHasNoFields(t *testing.T) {
	var b []byte
	b = binary.BigEndian.AppendUint16(b, 300)
	b = binary.BigEndian.AppendUint16(b, 0)

	decoded, err := DecodeTemplateSet(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 || !decoded[0].Withdrawal {
		t.Fatalf("expected a withdrawal marker, got %+v", decoded)
	}
}

func TestDecodeOptionsTemplateSetParsesScopeFieldCount(t *testing.T) {
	var b []byte
	b = binary.BigEndian.AppendUint16(b, 400) // template id
	b = binary.BigEndian.AppendUint16(b, 2)   // field count
	b = binary.BigEndian.AppendUint16(b, 1)   // scope field count
	b = appendFieldSpec(b, 0, 1, 4)           // scope field
	b = appendFieldSpec(b, 0, 2, 8)           // option field

	decoded, err := DecodeOptionsTemplateSet(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 options template record, got %d", len(decoded))
	}
	d := decoded[0]
	if d.ScopeFieldCount != 1 || len(d.Fields) != 2 {
		t.Fatalf("unexpected decoded options template: %+v", d)
	}
}

func TestDecodeTemplateSetParsesMultipleRecordsBackToBack(t *testing.T) {
	var b []byte
	b = binary.BigEndian.AppendUint16(b, 256)
	b = binary.BigEndian.AppendUint16(b, 1)
	b = appendFieldSpec(b, 0, 8, 4)
	b = binary.BigEndian.AppendUint16(b, 257)
	b = binary.BigEndian.AppendUint16(b, 1)
	b = appendFieldSpec(b, 0, 12, 4)

	decoded, err := DecodeTemplateSet(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 || decoded[0].Id != 256 || decoded[1].Id != 257 {
		t.Fatalf("unexpected decoded templates: %+v", decoded)
	}
}
