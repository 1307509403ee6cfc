package quic

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/semaphore"
)

// StatelessResetTokenLen is the fixed length of a stateless reset token
// (RFC 9000 §10.3).
const StatelessResetTokenLen = 16

// Sentinel listener errors.
var (
	ErrListenerClosed      = errors.New("quic: listener closed")
	ErrNoStatelessResetKey = errors.New("quic: stateless reset requested but no key configured")
)

// ListenerConfig configures a Listener: a plain struct of documented
// defaults, built by DefaultListenerConfig and overridden by the caller
// before Listen is called.
type ListenerConfig struct {
	TLSConfig         *tls.Config
	TransportParams   *TransportParameters
	MaxConnections    int64
	LocalCIDLen       int
	StatelessResetKey []byte
}

// DefaultListenerConfig returns a ListenerConfig with conservative
// defaults: a modest connection cap and an 8-byte local CID.
func DefaultListenerConfig(tlsConfig *tls.Config) *ListenerConfig {
	params := DefaultTransportParameters()
	return &ListenerConfig{
		TLSConfig:       tlsConfig,
		TransportParams: &params,
		MaxConnections:  1000,
		LocalCIDLen:     8,
	}
}

// Listener binds one UDP endpoint and demultiplexes datagrams across many
// QUIC connections by destination connection ID.
type Listener struct {
	udpConn *net.UDPConn
	config  *ListenerConfig

	admission *semaphore.Weighted

	mu          sync.Mutex
	connections map[string]*Connection
	closed      bool

	acceptCh chan *Connection

	ctx    context.Context
	cancel context.CancelFunc
}

// Listen binds address and starts demultiplexing incoming datagrams.
func Listen(network, address string, config *ListenerConfig) (*Listener, error) {
	if config == nil || config.TLSConfig == nil {
		return nil, errors.New("quic: TLS config is required")
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 1000
	}
	if config.LocalCIDLen <= 0 {
		config.LocalCIDLen = 8
	}
	if config.TransportParams == nil {
		params := DefaultTransportParameters()
		config.TransportParams = &params
	}

	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("quic: resolving listen address: %w", err)
	}
	udpConn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("quic: binding UDP socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		udpConn:     udpConn,
		config:      config,
		admission:   semaphore.NewWeighted(config.MaxConnections),
		connections: make(map[string]*Connection),
		acceptCh:    make(chan *Connection, 16),
		ctx:         ctx,
		cancel:      cancel,
	}
	go l.readLoop()
	return l, nil
}

// Accept blocks until a new server-side connection has been admitted and
// its handshake started, or ctx is done, or the listener is closed.
func (l *Listener) Accept(ctx context.Context) (*Connection, error) {
	select {
	case c, ok := <-l.acceptCh:
		if !ok {
			return nil, ErrListenerClosed
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, ErrListenerClosed
	}
}

// Close stops accepting datagrams and releases the UDP socket. It cancels
// the listener's context, which also ends the Run loop of every connection
// the listener admitted.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	close(l.acceptCh)
	return l.udpConn.Close()
}

// LocalAddr returns the bound UDP address.
func (l *Listener) LocalAddr() net.Addr { return l.udpConn.LocalAddr() }

// readLoop is the listener's single read path: one goroutine reading
// datagrams off the socket and fanning them out to connections by DCID.
// Each connection then has its own Run loop for everything past
// demultiplexing.
func (l *Listener) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, remote, err := l.udpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		datagram := append([]byte(nil), buf[:n]...)
		l.handleDatagram(datagram, remote)
	}
}

// handleDatagram routes one received datagram: long-header packets carry a
// self-describing DCID and are looked up (or admitted as a new connection
// if the DCID is unknown and the packet is Initial); short-header packets
// are looked up by the listener's configured local CID length, since their
// DCID has no length prefix on the wire.
func (l *Listener) handleDatagram(data []byte, remote net.Addr) {
	if len(data) == 0 {
		return
	}

	if data[0]&headerFormLong == 0 {
		l.routeShortHeader(data, remote)
		return
	}
	l.routeLongHeader(data, remote)
}

func (l *Listener) routeShortHeader(data []byte, remote net.Addr) {
	dcidLen := l.config.LocalCIDLen
	if len(data) < 1+dcidLen {
		return
	}
	dcid, err := NewConnectionID(data[1 : 1+dcidLen])
	if err != nil {
		return
	}

	if conn := l.lookup(dcid); conn != nil {
		conn.Deliver(data)
		return
	}

	l.sendStatelessReset(dcid, remote)
}

func (l *Listener) routeLongHeader(data []byte, remote net.Addr) {
	if len(data) < 6 {
		return
	}
	version := binary.BigEndian.Uint32(data[1:5])
	dcidLen := int(data[5])
	if len(data) < 6+dcidLen {
		return
	}
	dcid, err := NewConnectionID(data[6 : 6+dcidLen])
	if err != nil {
		return
	}

	if conn := l.lookup(dcid); conn != nil {
		conn.Deliver(data)
		return
	}

	// Version-negotiation packets (version == 0) are only ever sent by a
	// server, never received.
	if version == 0 {
		return
	}
	if version != Version1 {
		l.sendVersionNegotiation(dcid, data, remote)
		return
	}

	typeField := data[0] & 0x30
	if typeField != longTypeInitial {
		// A non-Initial packet for an unknown connection cannot start one.
		return
	}

	l.admitNewConnection(data, dcid, remote)
}

// admitNewConnection implements admission control: an
// unknown-DCID Initial packet is a candidate new connection, subject to
// `active_connections < max_connections`. Packets that lose the race for a
// semaphore slot are silently dropped, exactly as an overloaded server
// would drop rather than queue indefinitely.
func (l *Listener) admitNewConnection(data []byte, clientDCID ConnectionID, remote net.Addr) {
	if !l.admission.TryAcquire(1) {
		return
	}

	localCID, err := GenerateConnectionID(l.config.LocalCIDLen)
	if err != nil {
		l.admission.Release(1)
		return
	}

	conn := NewConnection(false, l.udpConn.LocalAddr(), remote, clientDCID, localCID, l.config.TransportParams)

	l.mu.Lock()
	l.connections[localCID.String()] = conn
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			delete(l.connections, localCID.String())
			l.mu.Unlock()
			l.admission.Release(1)
		}()

		if err := conn.StartHandshake(l.ctx, l.config.TLSConfig); err != nil {
			return
		}

		select {
		case l.acceptCh <- conn:
		case <-l.ctx.Done():
			return
		}

		conn.Deliver(data)
		go l.drainSendQueue(conn)
		_ = conn.Run(l.ctx)
	}()
}

// drainSendQueue forwards a connection's outgoing datagrams to the shared
// UDP socket until the connection's Run loop closes the channel.
func (l *Listener) drainSendQueue(conn *Connection) {
	for datagram := range conn.SendChan() {
		addr, ok := datagram.addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		_, _ = l.udpConn.WriteToUDP(datagram.data, addr)
	}
}

func (l *Listener) lookup(dcid ConnectionID) *Connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[dcid.String()]
}

// statelessResetToken derives a per-connection reset token from a static
// listener key and the connection ID the client is using, so that the
// token can be recomputed later without retaining per-connection state
// (RFC 9000 §10.3).
func statelessResetToken(key []byte, dcid ConnectionID) [StatelessResetTokenLen]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(dcid.Bytes())
	sum := mac.Sum(nil)

	var token [StatelessResetTokenLen]byte
	copy(token[:], sum)
	return token
}

// sendStatelessReset replies to a short-header packet for an unrecognized
// connection with a stateless reset token, if one is configured (spec
// §4.10, RFC 9000 §10.3). Without a configured key the datagram is simply
// discarded rather than answered.
func (l *Listener) sendStatelessReset(dcid ConnectionID, remote net.Addr) {
	if len(l.config.StatelessResetKey) == 0 {
		return
	}
	addr, ok := remote.(*net.UDPAddr)
	if !ok {
		return
	}

	token := statelessResetToken(l.config.StatelessResetKey, dcid)

	// RFC 9000 §10.3: a packet shaped like a short header, ending in the
	// 16-byte token, kept short so it cannot serve as an amplification
	// vector. It is always 32 bytes with zero padding; neither its length
	// nor its padding is randomised.
	packet := make([]byte, 0, 32)
	packet = append(packet, 0x40)
	for len(packet) < 32-StatelessResetTokenLen {
		packet = append(packet, 0x00)
	}
	packet = append(packet, token[:]...)

	_, _ = l.udpConn.WriteToUDP(packet, addr)
}

// sendVersionNegotiation replies to a client offering an unsupported
// version with the list of versions this listener does support (spec
// §4.10).
func (l *Listener) sendVersionNegotiation(dcid ConnectionID, clientPacket []byte, remote net.Addr) {
	addr, ok := remote.(*net.UDPAddr)
	if !ok {
		return
	}
	if len(clientPacket) < 6+dcid.Len()+1 {
		return
	}
	srcCIDLen := int(clientPacket[6+dcid.Len()])
	if len(clientPacket) < 6+dcid.Len()+1+srcCIDLen {
		return
	}
	srcCID, err := NewConnectionID(clientPacket[6+dcid.Len()+1 : 6+dcid.Len()+1+srcCIDLen])
	if err != nil {
		return
	}

	pkt := &Packet{
		IsLongHeader:      true,
		Long:              LongHeader{Type: PacketTypeVersionNegotiation, DestCID: srcCID, SrcCID: dcid},
		SupportedVersions: []uint32{Version1},
	}
	_, _ = l.udpConn.WriteToUDP(pkt.AppendTo(nil), addr)
}
