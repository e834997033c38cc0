// Package coltype implements the DataTypeModel: the unified set of internal
// scalar types used between record parsing and column storage, the mapping
// from IPFIX wire types onto that set, and the value union produced while
// parsing a data record.
//
// Grounded on original_source/extra_plugins/output/clickhouse/src/datatype.cpp
// (type_from_ipfix, unify_type, find_common_type) and on the scalar field
// types of the teacher library (unsigned64.go, signed64.go, ipv4_address.go,
// ipv6_address.go, mac_address.go, date_time_*.go), rewritten around plain
// []byte decoding instead of the teacher's io.Reader-based Field/DataType
// object graph, since RecordParser only ever has a fixed-size slice of the
// wire buffer to read from.
package coltype

import (
	"fmt"
)

// IPFIXType is the wire-level IPFIX abstract data type of an information
// element, per RFC 7011 and the reduced set this collector supports.
type IPFIXType int

const (
	IPFIXUnknown IPFIXType = iota
	IPFIXUnsigned8
	IPFIXUnsigned16
	IPFIXUnsigned32
	IPFIXUnsigned64
	IPFIXSigned8
	IPFIXSigned16
	IPFIXSigned32
	IPFIXSigned64
	IPFIXFloat32
	IPFIXFloat64
	IPFIXBoolean
	IPFIXMacAddress
	IPFIXString
	IPFIXOctetArray
	IPFIXIPv4Address
	IPFIXIPv6Address
	IPFIXDateTimeSeconds
	IPFIXDateTimeMilliseconds
	IPFIXDateTimeMicroseconds
	IPFIXDateTimeNanoseconds
)

// Internal is the unified scalar type a Value carries once parsed, per
// spec.md's DataTypeModel (§3 Value, §4.5). It is a strict superset of
// IPFIXType collapsed across vendor-specific reduced-length encodings, and
// also serves as the target type a Column is declared with.
type Internal int

const (
	Unknown Internal = iota
	U8
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F32
	F64
	IPv4
	IPv6 // also used for v4-mapped IPv4 addresses per alias unification (§4.5)
	Mac
	Str
	Bytes
	DatetimeSec
	DatetimeMs
	DatetimeUs
	DatetimeNs
)

func (t Internal) String() string {
	switch t {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	case Mac:
		return "mac"
	case Str:
		return "string"
	case Bytes:
		return "bytes"
	case DatetimeSec:
		return "datetime_sec"
	case DatetimeMs:
		return "datetime_ms"
	case DatetimeUs:
		return "datetime_us"
	case DatetimeNs:
		return "datetime_ns"
	default:
		return "unknown"
	}
}

func (t IPFIXType) isInt() bool {
	switch t {
	case IPFIXSigned8, IPFIXSigned16, IPFIXSigned32, IPFIXSigned64:
		return true
	}
	return false
}

func (t IPFIXType) isUint() bool {
	switch t {
	case IPFIXUnsigned8, IPFIXUnsigned16, IPFIXUnsigned32, IPFIXUnsigned64:
		return true
	}
	return false
}

// FromIPFIX maps a wire IPFIX abstract data type onto the internal scalar
// type family, grounded on datatype.cpp's type_from_ipfix switch.
func FromIPFIX(t IPFIXType) (Internal, error) {
	switch t {
	case IPFIXString:
		return Str, nil
	case IPFIXSigned8:
		return I8, nil
	case IPFIXSigned16:
		return I16, nil
	case IPFIXSigned32:
		return I32, nil
	case IPFIXSigned64:
		return I64, nil
	case IPFIXUnsigned8, IPFIXBoolean:
		return U8, nil
	case IPFIXUnsigned16:
		return U16, nil
	case IPFIXUnsigned32:
		return U32, nil
	case IPFIXUnsigned64:
		return U64, nil
	case IPFIXIPv4Address:
		return IPv4, nil
	case IPFIXIPv6Address:
		return IPv6, nil
	case IPFIXDateTimeSeconds:
		return DatetimeSec, nil
	case IPFIXDateTimeMilliseconds:
		return DatetimeMs, nil
	case IPFIXDateTimeMicroseconds:
		return DatetimeUs, nil
	case IPFIXDateTimeNanoseconds:
		return DatetimeNs, nil
	case IPFIXMacAddress:
		return U64, nil // packed LSB per spec.md §3 Value
	case IPFIXFloat32:
		return F32, nil
	case IPFIXFloat64:
		return F64, nil
	case IPFIXOctetArray:
		return Bytes, nil
	default:
		return Unknown, fmt.Errorf("unsupported IPFIX data type %d", t)
	}
}

func isIntFamily(t Internal) bool {
	return t == I8 || t == I16 || t == I32 || t == I64
}

func isUintFamily(t Internal) bool {
	return t == U8 || t == U16 || t == U32 || t == U64
}

func isFloatFamily(t Internal) bool {
	return t == F32 || t == F64
}

func isDatetimeFamily(t Internal) bool {
	return t == DatetimeSec || t == DatetimeMs || t == DatetimeUs || t == DatetimeNs
}

func isIPFamily(t Internal) bool {
	return t == IPv4 || t == IPv6
}

// Unify combines two internal types per an alias's sources, taking the
// higher-precision member within a family and promoting mixed IPv4/IPv6
// sources to IPv6 (v4-mapped).
// Mixing across families (e.g. int and float) is an error.
func Unify(a, b Internal) (Internal, error) {
	if a == b {
		return a, nil
	}
	if isIntFamily(a) && isIntFamily(b) {
		return maxOf(a, b), nil
	}
	if isUintFamily(a) && isUintFamily(b) {
		return maxOf(a, b), nil
	}
	if isFloatFamily(a) && isFloatFamily(b) {
		return maxOf(a, b), nil
	}
	if isDatetimeFamily(a) && isDatetimeFamily(b) {
		return maxOf(a, b), nil
	}
	if isIPFamily(a) && isIPFamily(b) {
		return IPv6, nil
	}
	return Unknown, fmt.Errorf("cannot unify types %s and %s", a, b)
}

// maxOf returns the higher-precision of two types from the same family,
// relying on the family members being declared in ascending precision order.
func maxOf(a, b Internal) Internal {
	if a > b {
		return a
	}
	return b
}

// TargetType is the string representation of an Internal type understood by
// the remote columnar store schema (e.g. "UInt32", "Nullable(String)"),
// grounded on datatype.cpp's type_to_clickhouse and common.cpp's nullable
// wrapping convention.
func TargetType(t Internal, nullable bool) string {
	base := targetBase(t)
	if nullable {
		return fmt.Sprintf("Nullable(%s)", base)
	}
	return base
}

func targetBase(t Internal) string {
	switch t {
	case U8:
		return "UInt8"
	case U16:
		return "UInt16"
	case U32:
		return "UInt32"
	case U64:
		return "UInt64"
	case I8:
		return "Int8"
	case I16:
		return "Int16"
	case I32:
		return "Int32"
	case I64:
		return "Int64"
	case F32:
		return "Float32"
	case F64:
		return "Float64"
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	case Mac:
		return "UInt64"
	case Str:
		return "String"
	case Bytes:
		return "String"
	case DatetimeSec:
		return "UInt64"
	case DatetimeMs:
		return "UInt64"
	case DatetimeUs:
		return "Int64"
	case DatetimeNs:
		return "Int64"
	default:
		return "String"
	}
}
