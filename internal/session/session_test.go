package session

import (
	"net"
	"testing"

	"github.com/flowcol/flowcol/internal/template"
)

func TestOpenAssignsIncreasingIds(t *testing.T) {
	r := NewRegistry()
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	s1 := r.Open(connA, template.ProtocolTCP)
	s2 := r.Open(connB, template.ProtocolTLS)

	if s1.ID() != 1 || s2.ID() != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", s1.ID(), s2.ID())
	}
	if s1.Protocol() != template.ProtocolTCP || s2.Protocol() != template.ProtocolTLS {
		t.Fatalf("protocol not recorded correctly: %v, %v", s1.Protocol(), s2.Protocol())
	}
}

func TestCloseReturnsTrackedSessionOnce(t *testing.T) {
	r := NewRegistry()
	conn, peer := net.Pipe()
	defer peer.Close()

	opened := r.Open(conn, template.ProtocolTCP)

	closed := r.Close(conn)
	if closed == nil || closed.ID() != opened.ID() {
		t.Fatalf("expected Close to return the session opened for conn, got %+v", closed)
	}

	if again := r.Close(conn); again != nil {
		t.Fatalf("expected a second Close for the same conn to return nil, got %+v", again)
	}
}

func TestFromAddrReusesSessionForSameSource(t *testing.T) {
	r := NewRegistry()
	remote, err := net.ResolveUDPAddr("udp", "203.0.113.5:12345")
	if err != nil {
		t.Fatal(err)
	}
	local, err := net.ResolveUDPAddr("udp", "0.0.0.0:4739")
	if err != nil {
		t.Fatal(err)
	}

	first := r.FromAddr(remote, local, template.ProtocolUDP)
	second := r.FromAddr(remote, local, template.ProtocolUDP)

	if first.ID() != second.ID() {
		t.Fatalf("expected the same session id for repeated datagrams from one source, got %d and %d", first.ID(), second.ID())
	}

	closed := r.CloseAddr(remote)
	if closed == nil || closed.ID() != first.ID() {
		t.Fatalf("expected CloseAddr to return the tracked session, got %+v", closed)
	}

	third := r.FromAddr(remote, local, template.ProtocolUDP)
	if third.ID() == first.ID() {
		t.Fatalf("expected a fresh session id after CloseAddr, got the same id %d", third.ID())
	}
}

func TestPipelineTrimsToIdAndProtocol(t *testing.T) {
	r := NewRegistry()
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	s := r.Open(conn, template.ProtocolTCP)
	p := s.Pipeline()

	if p.ID != s.ID() || p.Protocol != s.Protocol() {
		t.Fatalf("Pipeline() did not preserve id/protocol: %+v vs %+v", p, s)
	}
}
