package decoder

import (
	"crypto/tls"
	"net"
)

// Handshake performs a server-side TLS handshake on conn and returns the
// resulting *tls.Conn, which satisfies io.Reader and can be passed directly
// to New. Grounded on original_source's tls::TlsDecoder, which this spec
// replaces with crypto/tls's own connection handling rather than a
// hand-rolled non-blocking TLS state machine, since crypto/tls already does
// exactly this over a blocking net.Conn.
func Handshake(conn net.Conn, config *tls.Config) (*tls.Conn, error) {
	tlsConn := tls.Server(conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, err
	}
	return tlsConn, nil
}
