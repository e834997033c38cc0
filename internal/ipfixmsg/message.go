// Package ipfixmsg holds the wire-level IPFIX message and set header types
// shared between the decoder, the NetFlow v9 converter, and the template
// store, grounded on the teacher's message.go and header.go (Message,
// SetHeader), trimmed to header-only parsing: this spec's MessageDecoder
// only needs to find message/set boundaries in a byte stream, while field
// and record level parsing (which the teacher does generically via its
// Field/DataType object graph) is done by internal/template and
// internal/recordparser directly against raw slices, since those components
// need index+length slices into the owning buffer rather than a decoded
// object tree (spec.md §9 Design Notes, "pointer-into-wire-buffer field
// slots").
package ipfixmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLength is the fixed 16-byte IPFIX message header length.
	HeaderLength = 16

	// SetHeaderLength is the fixed 4-byte set header length.
	SetHeaderLength = 4

	// MaxMessageLength is the largest value the 16-bit IPFIX length field
	// can hold.
	MaxMessageLength = 65535

	// Version is the IPFIX protocol version carried in every message header.
	Version uint16 = 10

	// NFv9Version is the NetFlow v9 protocol version carried in every NFv9
	// message header; internal/nf9 defines its Version from it.
	NFv9Version uint16 = 9
)

// Set ids below 256 are reserved for template/options-template sets; data
// sets use the template id (>= 256) they were built from as their set id.
const (
	TemplateSetID        uint16 = 2
	OptionsTemplateSetID uint16 = 3
	MinDataSetID         uint16 = 256
)

var (
	ErrUnknownVersion = errors.New("ipfixmsg: unknown protocol version")
	ErrMalformed      = errors.New("ipfixmsg: malformed message")
)

// Header is the 16-byte IPFIX message header (RFC 7011 §3.1).
type Header struct {
	Version             uint16
	Length              uint16
	ExportTime          uint32
	SequenceNumber      uint32
	ObservationDomainId uint32
}

// DecodeHeader reads a Header from the first 16 bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, fmt.Errorf("%w: short header, have %d bytes", ErrMalformed, len(b))
	}
	h := Header{
		Version:             binary.BigEndian.Uint16(b[0:2]),
		Length:              binary.BigEndian.Uint16(b[2:4]),
		ExportTime:          binary.BigEndian.Uint32(b[4:8]),
		SequenceNumber:      binary.BigEndian.Uint32(b[8:12]),
		ObservationDomainId: binary.BigEndian.Uint32(b[12:16]),
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w %d, expected %d", ErrUnknownVersion, h.Version, Version)
	}
	return h, nil
}

// Encode writes the 16-byte wire form of h.
func (h Header) Encode() []byte {
	b := make([]byte, HeaderLength)
	binary.BigEndian.PutUint16(b[0:2], h.Version)
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint32(b[4:8], h.ExportTime)
	binary.BigEndian.PutUint32(b[8:12], h.SequenceNumber)
	binary.BigEndian.PutUint32(b[12:16], h.ObservationDomainId)
	return b
}

// SetHeader is the 4-byte set header (id, length) prefixing every Template
// Set, Options Template Set, and Data Set.
type SetHeader struct {
	Id     uint16
	Length uint16
}

func DecodeSetHeader(b []byte) (SetHeader, error) {
	if len(b) < SetHeaderLength {
		return SetHeader{}, fmt.Errorf("%w: short set header, have %d bytes", ErrMalformed, len(b))
	}
	return SetHeader{
		Id:     binary.BigEndian.Uint16(b[0:2]),
		Length: binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

func (sh SetHeader) Encode() []byte {
	b := make([]byte, SetHeaderLength)
	binary.BigEndian.PutUint16(b[0:2], sh.Id)
	binary.BigEndian.PutUint16(b[2:4], sh.Length)
	return b
}

// IsTemplateSet reports whether id denotes a Template Set or Options
// Template Set rather than a Data Set.
func IsTemplateSet(id uint16) bool {
	return id == TemplateSetID || id == OptionsTemplateSetID
}
