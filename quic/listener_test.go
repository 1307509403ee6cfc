package quic

import (
	"testing"
)

func TestDefaultListenerConfigValues(t *testing.T) {
	cfg := DefaultListenerConfig(nil)
	if cfg.MaxConnections != 1000 {
		t.Fatalf("MaxConnections = %d, want 1000", cfg.MaxConnections)
	}
	if cfg.LocalCIDLen != 8 {
		t.Fatalf("LocalCIDLen = %d, want 8", cfg.LocalCIDLen)
	}
	if cfg.TransportParams == nil {
		t.Fatalf("TransportParams is nil")
	}
}

func TestListenRequiresTLSConfig(t *testing.T) {
	if _, err := Listen("udp", "127.0.0.1:0", &ListenerConfig{}); err == nil {
		t.Fatalf("Listen() with no TLS config should fail")
	}
}

func newTestListenerConn(t *testing.T) *Listener {
	t.Helper()
	l := &Listener{
		config:      &ListenerConfig{LocalCIDLen: 8, MaxConnections: 10, TransportParams: func() *TransportParameters { p := DefaultTransportParameters(); return &p }()},
		connections: make(map[string]*Connection),
	}
	return l
}

func TestLookupReturnsRegisteredConnection(t *testing.T) {
	l := newTestListenerConn(t)
	dcid, err := GenerateConnectionID(8)
	if err != nil {
		t.Fatalf("GenerateConnectionID() error = %v", err)
	}
	conn := &Connection{}
	l.connections[dcid.String()] = conn

	if got := l.lookup(dcid); got != conn {
		t.Fatalf("lookup() = %v, want %v", got, conn)
	}

	other, err := GenerateConnectionID(8)
	if err != nil {
		t.Fatalf("GenerateConnectionID() error = %v", err)
	}
	if got := l.lookup(other); got != nil {
		t.Fatalf("lookup() of unknown dcid = %v, want nil", got)
	}
}

func TestRouteShortHeaderDeliversToKnownConnection(t *testing.T) {
	l := newTestListenerConn(t)
	c := newTestConnection(t, false)
	dcid := c.srcConnID
	l.connections[dcid.String()] = c

	packet := append([]byte{0x40}, dcid.Bytes()...)
	packet = append(packet, 0x01, 0x02, 0x03)

	l.routeShortHeader(packet, mustUDPAddr(t, "127.0.0.1:5555"))

	select {
	case delivered := <-c.recvQueue:
		if len(delivered) != len(packet) {
			t.Fatalf("delivered %d bytes, want %d", len(delivered), len(packet))
		}
	default:
		t.Fatalf("short-header packet was not delivered to the matching connection")
	}
}

func TestStatelessResetTokenIsDeterministic(t *testing.T) {
	dcid, err := GenerateConnectionID(8)
	if err != nil {
		t.Fatalf("GenerateConnectionID() error = %v", err)
	}
	key := []byte("a fixed listener-wide reset key")

	t1 := statelessResetToken(key, dcid)
	t2 := statelessResetToken(key, dcid)
	if t1 != t2 {
		t.Fatalf("statelessResetToken() is not deterministic for the same key and CID")
	}

	other, err := GenerateConnectionID(8)
	if err != nil {
		t.Fatalf("GenerateConnectionID() error = %v", err)
	}
	if t3 := statelessResetToken(key, other); t3 == t1 {
		t.Fatalf("statelessResetToken() collided across distinct connection IDs")
	}
}

func TestHandleDatagramIgnoresEmptyDatagram(t *testing.T) {
	l := newTestListenerConn(t)
	// Must not panic on a zero-length datagram.
	l.handleDatagram(nil, mustUDPAddr(t, "127.0.0.1:5555"))
}
