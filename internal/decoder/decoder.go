package decoder

import (
	"bufio"
	"fmt"
	"io"

	"github.com/flowcol/flowcol/internal/ipfixmsg"
)

// Decoder reconstructs complete IPFIX messages from an underlying stream,
// generalizing the teacher's Message.Decode(*bytes.Buffer) (decode.go) into
// a state machine that accumulates partial reads: Idle (no bytes buffered)
// -> AwaitHeader (fewer than 16 bytes buffered) -> AwaitBody (header parsed,
// waiting for the remaining Length-16 bytes) -> Emit (a full message is
// ready), implemented here as the control flow of Next rather than an
// explicit exported state enum, since Go callers only ever observe Next's
// return value.
type Decoder struct {
	r   *bufio.Reader
	buf []byte // accumulated, not-yet-consumed bytes
}

// New wraps r (a plain net.Conn, a *tls.Conn, or an LZ4-decompressing
// Reader from WrapLZ4) in a message-boundary Decoder. NetFlow v9 has no
// length field and so cannot be framed from a byte stream this way; stream
// transports in this spec carry IPFIX only; NetFlow v9 arrives one message
// per UDP datagram, with no stream decoder involved.
func New(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until one full IPFIX message has been read and returns its
// raw wire bytes (header through the last Set), or io.EOF once the
// underlying stream ends cleanly between messages.
func (d *Decoder) Next() ([]byte, error) {
	if err := d.fill(ipfixmsg.HeaderLength); err != nil {
		return nil, err
	}

	hdr, err := ipfixmsg.DecodeHeader(d.buf)
	if err != nil {
		return nil, err
	}
	if int(hdr.Length) < ipfixmsg.HeaderLength {
		return nil, fmt.Errorf("%w: message length %d shorter than header", ipfixmsg.ErrMalformed, hdr.Length)
	}

	if err := d.fill(int(hdr.Length)); err != nil {
		return nil, err
	}

	msg := d.buf[:hdr.Length]
	d.buf = d.buf[hdr.Length:]
	return msg, nil
}

// fill ensures at least n bytes are buffered, treating EOF with zero bytes
// already read as a clean end of stream and EOF mid-message as
// io.ErrUnexpectedEOF.
func (d *Decoder) fill(n int) error {
	for len(d.buf) < n {
		chunk := make([]byte, 4096)
		read, err := d.r.Read(chunk)
		if read > 0 {
			d.buf = append(d.buf, chunk[:read]...)
		}
		if err != nil {
			if err == io.EOF {
				if len(d.buf) == 0 {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}
