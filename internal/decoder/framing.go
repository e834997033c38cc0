// Package decoder reconstructs framed IPFIX messages from a byte stream
// (TCP, TLS, LZ4-wrapped TCP), respecting backpressure and EOF the way
// io.Reader already does, which is the idiomatic Go substitute for the
// teacher's fully-buffered Message.Decode(*bytes.Buffer) loop (decode.go)
// generalized over a partially-filled stream.
//
// TLS and LZ4 are not separate decoder state machines here the way
// original_source/src/plugins/input/tcp/src/{tls/TlsDecoder.cpp,
// Lz4Decoder.cpp} implement them: crypto/tls.Conn and the io.Reader
// WrapLZ4 returns already satisfy io.Reader, so either can simply be
// composed underneath the same Decoder. Only the magic-byte discriminator
// (DecoderFactory::detect_decoder) is reproduced, via bufio.Reader.Peek in
// place of MSG_PEEK.
package decoder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
)

// Framing identifies which wire framing a newly accepted stream connection
// is using, detected from its first bytes without consuming them.
type Framing int

const (
	FramingUnknown Framing = iota
	FramingPlain           // IPFIX or NetFlow v9 directly on the wire
	FramingLZ4             // LZ4-framed, magic 0x4C5A3463
	FramingTLS             // TLS handshake, first byte 0x16
)

// lz4Magic is the start-of-stream magic the original Lz4Decoder checks for,
// carried forward verbatim since it's a wire-compatibility constant, not an
// implementation detail.
const lz4Magic uint32 = 0x4c5a3463

// tlsHandshakeByte is the first byte of a TLS record carrying a handshake
// message (RFC 8446 §5.1 ContentType.handshake).
const tlsHandshakeByte byte = 0x16

var ErrIndeterminateFraming = errors.New("decoder: not enough bytes to recognize framing")

// Detect peeks at the first bytes of br without consuming them and reports
// which framing the stream is using, grounded on DecoderFactory::detect_decoder's
// check order (TLS, then IPFIX/NFv9 magic, then LZ4).
func Detect(br *bufio.Reader) (Framing, error) {
	b, err := br.Peek(4)
	if err != nil && len(b) == 0 {
		return FramingUnknown, err
	}

	if len(b) >= 1 && b[0] == tlsHandshakeByte {
		return FramingTLS, nil
	}
	if len(b) >= 2 {
		version := binary.BigEndian.Uint16(b[:2])
		if version == 10 || version == 9 {
			return FramingPlain, nil
		}
	}
	if len(b) >= 4 && binary.BigEndian.Uint32(b[:4]) == lz4Magic {
		return FramingLZ4, nil
	}
	if len(b) < 4 {
		return FramingUnknown, ErrIndeterminateFraming
	}
	return FramingUnknown, fmt.Errorf("decoder: unrecognized stream framing, first bytes %x", b)
}
