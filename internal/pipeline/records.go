package pipeline

import (
	"fmt"

	"github.com/flowcol/flowcol/internal/coltype"
	"github.com/flowcol/flowcol/internal/template"
)

// recordLength walks one data record's field layout to find its length in
// bytes within a Data Set, without fully decoding it; used to locate record
// boundaries ahead of RecordParser.ParseRecord, which expects to be handed
// exactly one record's bytes.
func recordLength(b []byte, tmpl *template.Template) (int, error) {
	off := 0
	for _, f := range tmpl.Fields {
		if f.Variable() {
			if off >= len(b) {
				return 0, fmt.Errorf("pipeline: truncated variable-length prefix")
			}
			if b[off] < 255 {
				off += 1 + int(b[off])
			} else {
				if off+3 > len(b) {
					return 0, fmt.Errorf("pipeline: truncated extended variable-length prefix")
				}
				off += 3 + (int(b[off+1])<<8 | int(b[off+2]))
			}
			continue
		}
		off += int(f.Length)
	}
	if off > len(b) {
		return 0, fmt.Errorf("pipeline: record overruns data set")
	}
	return off, nil
}

// wireTypeFor derives the IPFIX wire type to decode a field as, given the
// column's declared internal target type and the raw field's observed
// byte width. Most families decode identically regardless of the specific
// reduced-length encoding (coltype.Decode's uint/int branches accept any
// width from 1 to 8 bytes), so the exact IPFIXType returned only matters
// where width disambiguates the wire representation: floats, datetimes,
// and IP addresses, the last of which also covers an alias unifying IPv4
// and IPv6 sources into a single IPv6 column (spec.md §4.5).
func wireTypeFor(target coltype.Internal, n int) (coltype.IPFIXType, error) {
	switch {
	case isSignedFamily(target):
		return coltype.IPFIXSigned64, nil
	case isUnsignedFamily(target):
		return coltype.IPFIXUnsigned64, nil
	case target == coltype.F32 || target == coltype.F64:
		switch n {
		case 4:
			return coltype.IPFIXFloat32, nil
		case 8:
			return coltype.IPFIXFloat64, nil
		default:
			return coltype.IPFIXUnknown, fmt.Errorf("pipeline: float field has unsupported width %d", n)
		}
	case target == coltype.IPv4 || target == coltype.IPv6:
		switch n {
		case 4:
			return coltype.IPFIXIPv4Address, nil
		case 16:
			return coltype.IPFIXIPv6Address, nil
		default:
			return coltype.IPFIXUnknown, fmt.Errorf("pipeline: IP address field has unsupported width %d", n)
		}
	case target == coltype.DatetimeSec:
		return coltype.IPFIXDateTimeSeconds, nil
	case target == coltype.DatetimeMs:
		return coltype.IPFIXDateTimeMilliseconds, nil
	case target == coltype.DatetimeUs:
		return coltype.IPFIXDateTimeMicroseconds, nil
	case target == coltype.DatetimeNs:
		return coltype.IPFIXDateTimeNanoseconds, nil
	case target == coltype.Str:
		return coltype.IPFIXString, nil
	case target == coltype.Bytes:
		return coltype.IPFIXOctetArray, nil
	default:
		return coltype.IPFIXUnknown, fmt.Errorf("pipeline: no wire type mapping for target %s", target)
	}
}

func isSignedFamily(t coltype.Internal) bool {
	return t == coltype.I8 || t == coltype.I16 || t == coltype.I32 || t == coltype.I64
}

func isUnsignedFamily(t coltype.Internal) bool {
	return t == coltype.U8 || t == coltype.U16 || t == coltype.U32 || t == coltype.U64 || t == coltype.Mac
}

// widenIPv4ToV4MappedV6 converts a 4-byte IPv4 Value decoded against an
// alias column whose unified target type is IPv6 into its 16-byte
// v4-mapped form, so every row in an IPv6 column carries a uniformly
// 16-byte net.IP (spec.md §4.5's IPv4/IPv6 unification rule).
func widenIPv4ToV4MappedV6(v coltype.Value) coltype.Value {
	if v.Type == coltype.IPv6 && len(v.IP) == 4 {
		v.IP = v.IP.To16()
	}
	return v
}
