package element

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/flowcol/flowcol/internal/coltype"
)

// LoadCSV reads an IANA-style Information Element registry CSV (the same
// eleven-column shape as the IANA IPFIX CSV export) and registers every row
// as an Element, grounded on the teacher's ReadCSV (csv.go). Only the
// columns this spec's DataTypeModel needs (id, name, abstract data type) are
// consumed; the remaining semantics/status/range/reference columns are
// accepted but ignored, since Column source resolution never looks at them.
func (m *Manager) LoadCSV(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	// header row
	if _, err := cr.Read(); err != nil {
		return err
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(record) < 3 {
			continue
		}

		id, err := strconv.ParseUint(record[0], 10, 16)
		if err != nil {
			// not a single numeric element id (e.g. a reserved range row); skip
			continue
		}

		typ, variable := ipfixTypeFromName(record[2])

		m.Add(Element{
			Id:   uint16(id),
			Name: record[1],
			Type: typ,
			// Variable-length encoding is a per-record wire property (length
			// 0xFFFF), not a per-element property; string and octetArray
			// elements are allowed to be encoded either way, so Variable here
			// is only a default hint for the rare purely variable-length type.
			Variable: variable,
		})
	}
	return nil
}

func ipfixTypeFromName(name string) (coltype.IPFIXType, bool) {
	switch name {
	case "unsigned8", "boolean":
		return coltype.IPFIXUnsigned8, false
	case "unsigned16":
		return coltype.IPFIXUnsigned16, false
	case "unsigned32":
		return coltype.IPFIXUnsigned32, false
	case "unsigned64":
		return coltype.IPFIXUnsigned64, false
	case "signed8":
		return coltype.IPFIXSigned8, false
	case "signed16":
		return coltype.IPFIXSigned16, false
	case "signed32":
		return coltype.IPFIXSigned32, false
	case "signed64":
		return coltype.IPFIXSigned64, false
	case "float32":
		return coltype.IPFIXFloat32, false
	case "float64":
		return coltype.IPFIXFloat64, false
	case "macAddress":
		return coltype.IPFIXMacAddress, false
	case "ipv4Address":
		return coltype.IPFIXIPv4Address, false
	case "ipv6Address":
		return coltype.IPFIXIPv6Address, false
	case "dateTimeSeconds":
		return coltype.IPFIXDateTimeSeconds, false
	case "dateTimeMilliseconds":
		return coltype.IPFIXDateTimeMilliseconds, false
	case "dateTimeMicroseconds":
		return coltype.IPFIXDateTimeMicroseconds, false
	case "dateTimeNanoseconds":
		return coltype.IPFIXDateTimeNanoseconds, false
	case "string":
		return coltype.IPFIXString, true
	case "octetArray", "":
		return coltype.IPFIXOctetArray, true
	default:
		return coltype.IPFIXOctetArray, true
	}
}
