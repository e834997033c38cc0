package chclient

import (
	"net"
	"testing"

	"github.com/flowcol/flowcol/internal/coltype"
)

func TestToDriverValueConvertsPopulatedScalars(t *testing.T) {
	cases := []struct {
		name string
		v    coltype.Value
		want any
	}{
		{"u64", coltype.Value{Type: coltype.U64, U: 42}, uint64(42)},
		{"i32", coltype.Value{Type: coltype.I32, I: -7}, int64(-7)},
		{"f64", coltype.Value{Type: coltype.F64, F: 3.5}, float64(3.5)},
		{"string", coltype.Value{Type: coltype.Str, Bytes: []byte("eth0")}, "eth0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := toDriverValue(tc.v, false)
			if got != tc.want {
				t.Errorf("toDriverValue(%+v) = %v, want %v", tc.v, got, tc.want)
			}
		})
	}
}

func TestToDriverValueNullableColumnYieldsTypedNilPointer(t *testing.T) {
	got := toDriverValue(coltype.NullValue(coltype.U32), true)
	ptr, ok := got.(*uint64)
	if !ok || ptr != nil {
		t.Fatalf("expected a nil *uint64 for a null nullable U32 column, got %#v", got)
	}
}

// TestToDriverValueDateTimeMicrosecondsRoundTripsFromWire exercises the full
// path a flowStartMicroseconds/flowEndMicroseconds column takes: an NTP wire
// field decoded by coltype.Decode into Value.I, then read by toDriverValue.
// coltype.DatetimeUs/DatetimeNs both surface through Value.I, not Value.U, so
// this guards against the two staying out of sync.
func TestToDriverValueDateTimeMicrosecondsRoundTripsFromWire(t *testing.T) {
	var wire [8]byte
	// 2023-01-01T00:00:00Z in NTP 64-bit form: seconds since 1900-01-01 UTC,
	// zero fraction.
	const ntpSeconds = 1672531200 + 2208988800
	wire[0], wire[1], wire[2], wire[3] = byte(ntpSeconds>>24), byte(ntpSeconds>>16), byte(ntpSeconds>>8), byte(ntpSeconds)

	v, err := coltype.Decode(wire[:], coltype.IPFIXDateTimeMicroseconds, coltype.DatetimeUs)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := toDriverValue(v, false).(int64)
	if !ok {
		t.Fatalf("expected toDriverValue to read DatetimeUs from Value.I, got %#v", toDriverValue(v, false))
	}
	want := int64(1672531200000000)
	if got != want {
		t.Errorf("expected %d unix microseconds, got %d", want, got)
	}
}

func TestToDriverValueIPAddress(t *testing.T) {
	ip := net.ParseIP("192.0.2.1")
	v := coltype.Value{Type: coltype.IPv4, IP: ip}
	got, ok := toDriverValue(v, false).(net.IP)
	if !ok || !got.Equal(ip) {
		t.Fatalf("expected IP round-trip, got %#v", got)
	}
}

func TestEndpointAddr(t *testing.T) {
	e := Endpoint{Host: "clickhouse.example.net", Port: 9000}
	if got, want := e.addr(), "clickhouse.example.net:9000"; got != want {
		t.Fatalf("addr() = %q, want %q", got, want)
	}
}
