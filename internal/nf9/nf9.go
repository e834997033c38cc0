// Package nf9 converts NetFlow v9 (RFC 3954) messages into IPFIX messages on
// the wire, upstream of template and record processing. The teacher
// explicitly does not implement this: its header.go carries the comment
// "the module does not actually support Netflow 9 decoding out of the box".
// This package is new, grounded on
// original_source/tests/unit/core/netflow/nf_v9.cpp for NFv9 record shapes
// and on spec.md §4.3/§8 scenario S2 for the timestamp rewrite algorithm, but
// written in the teacher's own encode/decode idiom (fixed-width
// binary.BigEndian reads mirroring header.go and message.go).
package nf9

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/flowcol/flowcol/internal/ipfixmsg"
)

// Version is the NetFlow v9 protocol version carried in every message header.
const Version uint16 = ipfixmsg.NFv9Version

// HeaderLength is the fixed 20-byte NetFlow v9 message header length
// (RFC 3954 §8).
const HeaderLength = 20

// FlowSet ids below 256 have fixed meaning; ids 2..255 are reserved and
// ignored, mirroring RFC 3954 §8's "valid values 0-1 and 256-65535".
const (
	TemplateFlowSetID        uint16 = 0
	OptionsTemplateFlowSetID uint16 = 1
	MinDataFlowSetID         uint16 = 256
)

// Field type ids carrying switching timestamps relative to SysUptime, which
// this converter rewrites into absolute IPFIX millisecond timestamps.
const (
	FieldLastSwitched  uint16 = 21
	FieldFirstSwitched uint16 = 22
)

// IPFIX element ids the above fields are rewritten to, each as an 8-byte
// absolute millisecond timestamp (spec.md §4.3 point 2).
const (
	ipfixFlowEndMilliseconds   uint16 = 153
	ipfixFlowStartMilliseconds uint16 = 152
)

// privateEnterpriseId is the enterprise number this converter assigns to
// NFv9 field type ids above 32767, which have no enterprise-number carrying
// wire representation of their own (spec.md §4.3 point 5, "per collector
// convention"). IANA will never assign this number to a real organization
// (it is reserved for private/experimental use), so it cannot collide with a
// genuine enterprise-specific IPFIX element.
const privateEnterpriseId uint32 = 4294967294

// Scope field type ids, translated to the IPFIX element ids used to
// represent them in a converted Options Template (spec.md §4.3 point 3).
var scopeToIPFIX = map[uint16]uint16{
	1: 144, // system
	2: 10,  // interface
	3: 141, // line card
	4: 231, // cache
	5: 145, // template
}

var (
	ErrMalformed       = errors.New("nf9: malformed message")
	ErrUnknownVersion  = errors.New("nf9: unknown protocol version")
	ErrUnknownScopeId  = errors.New("nf9: unknown options scope field id")
	ErrUnknownTemplate = errors.New("nf9: data flowset references unknown template id")
)

// Header is the fixed 20-byte NetFlow v9 message header.
type Header struct {
	Count          uint16
	SysUptimeMs    uint32
	UnixSecs       uint32
	SequenceNumber uint32
	SourceId       uint32
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, fmt.Errorf("%w: short header, have %d bytes", ErrMalformed, len(b))
	}
	version := binary.BigEndian.Uint16(b[0:2])
	if version != Version {
		return Header{}, fmt.Errorf("%w %d, expected %d", ErrUnknownVersion, version, Version)
	}
	return Header{
		Count:          binary.BigEndian.Uint16(b[2:4]),
		SysUptimeMs:    binary.BigEndian.Uint32(b[4:8]),
		UnixSecs:       binary.BigEndian.Uint32(b[8:12]),
		SequenceNumber: binary.BigEndian.Uint32(b[12:16]),
		SourceId:       binary.BigEndian.Uint32(b[16:20]),
	}, nil
}

// utcBaseMillis is the absolute UTC time, in milliseconds, that the
// exporter's SysUptime counter was at zero, per spec.md §9 Design Notes
// ("utc_ms = unix_sec*1000 - sysuptime_ms", inherited unmodified from the
// original behavior including its clock-skew limitations).
func utcBaseMillis(h Header) int64 {
	return int64(h.UnixSecs)*1000 - int64(h.SysUptimeMs)
}

// fieldID packs an enterprise-bit-aware IPFIX field identifier the way
// header.go's decodeTemplateField unpacks one: the top bit of the 16-bit id
// marks that a 4-byte enterprise number follows.
type fieldID struct {
	enterpriseId uint32
	id           uint16
}

func translateFieldID(nf9Type uint16) fieldID {
	if nf9Type <= 32767 {
		return fieldID{id: nf9Type}
	}
	return fieldID{enterpriseId: privateEnterpriseId, id: nf9Type & 0x7FFF}
}
