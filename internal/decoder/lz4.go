package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrLZ4Malformed is returned when a compressed frame or raw LZ4 block
// fails to parse: a short read past EOF, a header claiming more bytes than
// fit, or a match offset/length pointing outside the decompressed window.
var ErrLZ4Malformed = errors.New("decoder: malformed lz4 stream")

// lz4StartHeader is the once-per-stream header: magic followed by the
// ring buffer's size in bytes, both big-endian (network byte order, the
// original's ntohl).
type lz4StartHeader struct {
	magic      uint32
	bufferSize uint32
}

// lz4FrameHeader precedes every compressed frame.
type lz4FrameHeader struct {
	decompressedSize uint16
	compressedSize   uint16
}

// lz4Stream implements io.Reader over the custom framing spec.md §6.2
// describes (and original_source/src/plugins/input/tcp/src/Lz4Decoder.cpp
// implements via liblz4's LZ4_decompress_safe_continue): a magic + ring
// buffer size header, then a sequence of {u16 decompressedSize, u16
// compressedSize} frame headers each followed by that many bytes of raw
// LZ4 block data. Frames are decompressed directly into a persistent ring
// buffer so later frames can back-reference earlier ones as their LZ4
// dictionary, exactly like the continuation-mode streaming decoder it
// replaces; this is not the standard LZ4 Frame Format pierrec/lz4's
// high-level Reader/Writer implement, so that type cannot be reused here
// (see DESIGN.md).
type lz4Stream struct {
	r       io.Reader
	window  []byte
	pos     int
	started bool
	pending []byte // undelivered tail of the most recently decompressed frame
}

// WrapLZ4 returns an io.Reader that transparently decompresses the custom
// LZ4 stream framing this collector's peers emit, for composing with New
// the same way a plain or TLS-wrapped net.Conn is.
func WrapLZ4(r io.Reader) io.Reader {
	return &lz4Stream{r: r}
}

func (s *lz4Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(s.pending) == 0 {
		if err := s.ensureStarted(); err != nil {
			return 0, err
		}
		if err := s.decodeNextFrame(); err != nil {
			return 0, err
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *lz4Stream) ensureStarted() error {
	if s.started {
		return nil
	}

	var raw [8]byte
	if _, err := io.ReadFull(s.r, raw[:]); err != nil {
		return lz4ReadErr(err)
	}
	hdr := lz4StartHeader{
		magic:      binary.BigEndian.Uint32(raw[0:4]),
		bufferSize: binary.BigEndian.Uint32(raw[4:8]),
	}
	if hdr.magic != lz4Magic {
		return fmt.Errorf("%w: bad start magic %x", ErrLZ4Malformed, hdr.magic)
	}
	if hdr.bufferSize == 0 {
		return fmt.Errorf("%w: zero ring buffer size", ErrLZ4Malformed)
	}

	s.window = make([]byte, hdr.bufferSize)
	s.pos = 0
	s.started = true
	return nil
}

func (s *lz4Stream) decodeNextFrame() error {
	var raw [4]byte
	if _, err := io.ReadFull(s.r, raw[:]); err != nil {
		// a clean io.EOF here means the stream ended between frames.
		return err
	}
	hdr := lz4FrameHeader{
		decompressedSize: binary.BigEndian.Uint16(raw[0:2]),
		compressedSize:   binary.BigEndian.Uint16(raw[2:4]),
	}

	compressed := make([]byte, hdr.compressedSize)
	if _, err := io.ReadFull(s.r, compressed); err != nil {
		return lz4ReadErr(err)
	}

	if len(s.window)-s.pos < int(hdr.decompressedSize) {
		s.pos = 0
	}
	start := s.pos

	n, err := decompressLZ4Block(s.window, start, compressed)
	if err != nil {
		return err
	}
	if n != int(hdr.decompressedSize) {
		return fmt.Errorf("%w: frame decompressed to %d bytes, header said %d", ErrLZ4Malformed, n, hdr.decompressedSize)
	}

	s.pending = s.window[start : start+n]
	s.pos = start + n
	if s.pos >= len(s.window) {
		s.pos = 0
	}
	return nil
}

// lz4ReadErr maps a clean EOF from the underlying stream to
// io.ErrUnexpectedEOF, matching Decoder.fill's EOF handling. It is used
// where the stream may not end: inside the start header and inside a frame
// body.
func lz4ReadErr(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// decompressLZ4Block decompresses one raw LZ4 block (the sequence format
// LZ4_compress_default/LZ4_decompress_safe operate on, RFC-less but fixed
// by the reference implementation) from src into dst starting at start.
// Matches may reference any byte already written to dst at or after index
// 0 (including earlier frames before start), which is what gives the ring
// buffer its LZ4_decompress_safe_continue dictionary semantics: later
// frames can cite offsets into data decompressed by previous frames.
func decompressLZ4Block(dst []byte, start int, src []byte) (int, error) {
	si, di := 0, start

	readLength := func() (int, bool) {
		length := 0
		for {
			if si >= len(src) {
				return 0, false
			}
			b := src[si]
			si++
			length += int(b)
			if b != 0xff {
				return length, true
			}
		}
	}

	for si < len(src) {
		token := src[si]
		si++

		litLen := int(token >> 4)
		if litLen == 0xf {
			extra, ok := readLength()
			if !ok {
				return 0, fmt.Errorf("%w: truncated literal length", ErrLZ4Malformed)
			}
			litLen += extra
		}
		if si+litLen > len(src) || di+litLen > len(dst) {
			return 0, fmt.Errorf("%w: literal run overruns buffer", ErrLZ4Malformed)
		}
		copy(dst[di:di+litLen], src[si:si+litLen])
		si += litLen
		di += litLen

		if si == len(src) {
			break // final sequence of the block carries literals only
		}
		if si+2 > len(src) {
			return 0, fmt.Errorf("%w: truncated match offset", ErrLZ4Malformed)
		}
		offset := int(src[si]) | int(src[si+1])<<8
		si += 2
		if offset == 0 || offset > di {
			return 0, fmt.Errorf("%w: match offset %d out of range at %d", ErrLZ4Malformed, offset, di)
		}

		matchLen := int(token&0xf) + 4
		if matchLen == 0x13 {
			extra, ok := readLength()
			if !ok {
				return 0, fmt.Errorf("%w: truncated match length", ErrLZ4Malformed)
			}
			matchLen += extra
		}
		if di+matchLen > len(dst) {
			return 0, fmt.Errorf("%w: match run overruns buffer", ErrLZ4Malformed)
		}

		matchPos := di - offset
		// Copied byte-by-byte: offset can be smaller than matchLen (LZ4's
		// run-length trick for repeated short patterns), so the source and
		// destination ranges may overlap in a way a bulk copy would corrupt.
		for i := 0; i < matchLen; i++ {
			dst[di+i] = dst[matchPos+i]
		}
		di += matchLen
	}

	return di - start, nil
}
