package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
)

// TLS 1.3 handshake integration for QUIC (RFC 9001). Unlike a TCP-carried
// TLS handshake, the QUIC integration never runs TLS records over a
// net.Conn: it drives crypto/tls's QUICConn state machine directly,
// handing it reassembled CRYPTO-frame bytes per encryption level and
// draining the secrets, transport parameters and outgoing handshake bytes
// it produces as explicit events.

var (
	ErrHandshakeNotComplete = errors.New("quic: TLS handshake not complete")
	ErrHandshakeFailed      = errors.New("quic: TLS handshake failed")
)

// directionalKeys holds the independently-derived read and write KeySets
// for one encryption level; QUIC's client-in/server-in secrets differ by
// direction even within the same level (RFC 9001 §5.1, §5.2).
type directionalKeys struct {
	read  *KeySet
	write *KeySet
}

// cryptoReorderBuffer reassembles CRYPTO frames, which (like STREAM
// frames) may be retransmitted or arrive out of order, into the in-order
// byte stream the TLS stack expects (RFC 9000 §19.6).
type cryptoReorderBuffer struct {
	mu     sync.Mutex
	offset uint64
	frames map[uint64][]byte
}

func newCryptoReorderBuffer() *cryptoReorderBuffer {
	return &cryptoReorderBuffer{frames: make(map[uint64][]byte)}
}

// admit folds in a newly-received CRYPTO frame and returns any bytes that
// are now contiguous with the stream's current offset. It returns nil
// when the frame is a full duplicate or still has a gap before it.
func (b *cryptoReorderBuffer) admit(offset uint64, data []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset+uint64(len(data)) <= b.offset {
		return nil
	}
	if offset > b.offset {
		b.frames[offset] = append([]byte(nil), data...)
		return nil
	}

	skip := b.offset - offset
	out := append([]byte(nil), data[skip:]...)
	b.offset += uint64(len(out))

	for {
		next, ok := b.frames[b.offset]
		if !ok {
			break
		}
		delete(b.frames, b.offset)
		out = append(out, next...)
		b.offset += uint64(len(next))
	}
	return out
}

// TLSHandler drives one connection's TLS 1.3 handshake and owns the
// packet-protection keys it produces at each encryption level.
type TLSHandler struct {
	conn     *Connection
	quicConn *tls.QUICConn
	config   *tls.Config
	isClient bool

	handshakeMu       sync.Mutex
	handshakeComplete bool
	handshakeErr      error

	levelMu         sync.RWMutex
	initialKeys     directionalKeys
	handshakeKeys   directionalKeys
	applicationKeys directionalKeys
	zeroRTTKeys     *KeySet

	sendOffset [4]uint64
	recvBuf    [4]*cryptoReorderBuffer

	localParams  *TransportParameters
	remoteParams *TransportParameters
	paramsMu     sync.RWMutex
}

// NewTLSHandler builds a handler that will negotiate client-side or
// server-side TLS depending on isClient, advertising localParams as the
// QUIC transport parameters extension (RFC 9001 §8.2).
func NewTLSHandler(conn *Connection, config *tls.Config, isClient bool, localParams *TransportParameters) (*TLSHandler, error) {
	if config == nil {
		return nil, errors.New("quic: TLS config is required")
	}
	if localParams == nil {
		defaults := DefaultTransportParameters()
		localParams = &defaults
	}

	th := &TLSHandler{
		conn:        conn,
		config:      conn.tlsConfig(config),
		isClient:    isClient,
		localParams: localParams,
	}
	for i := range th.recvBuf {
		th.recvBuf[i] = newCryptoReorderBuffer()
	}

	qc := &tls.QUICConfig{TLSConfig: th.config}
	if isClient {
		th.quicConn = tls.QUICClient(qc)
	} else {
		th.quicConn = tls.QUICServer(qc)
	}

	encodedParams, err := localParams.Encode()
	if err != nil {
		return nil, fmt.Errorf("quic: encoding local transport parameters: %w", err)
	}
	th.quicConn.SetTransportParameters(encodedParams)

	if err := th.generateInitialKeys(); err != nil {
		return nil, err
	}
	return th, nil
}

// tlsConfig returns base cloned and constrained the way QUIC requires:
// TLS 1.3 only, with an ALPN default if the caller did not set one.
func (conn *Connection) tlsConfig(base *tls.Config) *tls.Config {
	cfg := base.Clone()
	cfg.MinVersion = tls.VersionTLS13
	cfg.MaxVersion = tls.VersionTLS13
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"h3"}
	}
	return cfg
}

// generateInitialKeys derives the Initial-level read and write keys from
// the destination connection ID (RFC 9001 §5.2); both directions are
// needed immediately, before any TLS event fires.
func (th *TLSHandler) generateInitialKeys() error {
	clientKeys, serverKeys, err := NewInitialKeySet(th.conn.destConnID, th.isClient)
	if err != nil {
		return fmt.Errorf("quic: deriving initial keys: %w", err)
	}

	th.levelMu.Lock()
	defer th.levelMu.Unlock()
	if th.isClient {
		th.initialKeys = directionalKeys{write: clientKeys, read: serverKeys}
	} else {
		th.initialKeys = directionalKeys{write: serverKeys, read: clientKeys}
	}
	th.conn.initialKeys = th.initialKeys
	return nil
}

// Start kicks off the handshake: the client produces its first flight of
// CRYPTO data, the server waits for ClientHello bytes via HandleCryptoFrame.
func (th *TLSHandler) Start(ctx context.Context) error {
	if err := th.quicConn.Start(ctx); err != nil {
		return fmt.Errorf("quic: starting TLS handshake: %w", err)
	}
	return th.drainEvents()
}

// HandleCryptoFrame admits a received CRYPTO frame, reassembles it against
// any earlier gaps, and feeds newly-contiguous bytes into the TLS stack.
func (th *TLSHandler) HandleCryptoFrame(frame *CryptoFrame, level EncryptionLevel) error {
	data := th.recvBuf[level].admit(frame.Offset, frame.Data)
	if len(data) == 0 {
		return nil
	}
	if err := th.quicConn.HandleData(tlsEncryptionLevel(level), data); err != nil {
		th.handshakeMu.Lock()
		th.handshakeErr = fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		th.handshakeMu.Unlock()
		return th.handshakeErr
	}
	return th.drainEvents()
}

// drainEvents pumps tls.QUICConn's event queue until it is empty, wiring
// each event to the corresponding connection-level effect.
func (th *TLSHandler) drainEvents() error {
	for {
		ev := th.quicConn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return nil

		case tls.QUICSetReadSecret:
			if err := th.installSecret(quicEncryptionLevel(ev.Level), ev.Data, ev.Suite, false); err != nil {
				return err
			}

		case tls.QUICSetWriteSecret:
			if err := th.installSecret(quicEncryptionLevel(ev.Level), ev.Data, ev.Suite, true); err != nil {
				return err
			}

		case tls.QUICWriteData:
			level := quicEncryptionLevel(ev.Level)
			frame := &CryptoFrame{Offset: th.sendOffset[level], Data: append([]byte(nil), ev.Data...)}
			th.sendOffset[level] += uint64(len(ev.Data))
			if err := th.conn.sendCryptoFrame(frame, level); err != nil {
				return err
			}

		case tls.QUICTransportParameters:
			params, err := DecodeTransportParameters(ev.Data, !th.isClient)
			if err != nil {
				return fmt.Errorf("quic: decoding peer transport parameters: %w", err)
			}
			th.paramsMu.Lock()
			th.remoteParams = params
			th.paramsMu.Unlock()

		case tls.QUICTransportParametersRequired:
			encoded, err := th.localParams.Encode()
			if err != nil {
				return fmt.Errorf("quic: encoding local transport parameters: %w", err)
			}
			th.quicConn.SetTransportParameters(encoded)

		case tls.QUICRejectedEarlyData:
			th.levelMu.Lock()
			th.zeroRTTKeys = nil
			th.conn.zeroRTTKeys = nil
			th.levelMu.Unlock()
			if th.conn.earlyData != nil {
				th.conn.earlyData.Reject()
			}

		case tls.QUICHandshakeDone:
			th.handshakeMu.Lock()
			th.handshakeComplete = true
			th.handshakeMu.Unlock()
			th.conn.handshakeComplete = true
		}
	}
}

// installSecret derives a KeySet from a secret crypto/tls delivered for
// level and records it on the appropriate side (read or write).
func (th *TLSHandler) installSecret(level EncryptionLevel, secret []byte, suite uint16, isWrite bool) error {
	keys, err := deriveKeySet(secret, level, CipherSuite(suite))
	if err != nil {
		return fmt.Errorf("quic: deriving %s keys: %w", level, err)
	}

	th.levelMu.Lock()
	defer th.levelMu.Unlock()

	switch level {
	case EncryptionLevelEarlyData:
		th.zeroRTTKeys = keys
		th.conn.zeroRTTKeys = keys
	case EncryptionLevelHandshake:
		if isWrite {
			th.handshakeKeys.write = keys
		} else {
			th.handshakeKeys.read = keys
		}
		th.conn.handshakeKeys = th.handshakeKeys
	case EncryptionLevelApplication:
		if isWrite {
			th.applicationKeys.write = keys
		} else {
			th.applicationKeys.read = keys
		}
		th.conn.applicationKeys = th.applicationKeys
	default:
		return fmt.Errorf("quic: unexpected secret for level %s", level)
	}
	return nil
}

// IsHandshakeComplete reports whether the handshake has finished
// successfully.
func (th *TLSHandler) IsHandshakeComplete() bool {
	th.handshakeMu.Lock()
	defer th.handshakeMu.Unlock()
	return th.handshakeComplete
}

// HandshakeError returns the error that failed the handshake, if any.
func (th *TLSHandler) HandshakeError() error {
	th.handshakeMu.Lock()
	defer th.handshakeMu.Unlock()
	return th.handshakeErr
}

// RemoteTransportParameters returns the peer's transport parameters once
// the handshake has delivered them, or nil before then.
func (th *TLSHandler) RemoteTransportParameters() *TransportParameters {
	th.paramsMu.RLock()
	defer th.paramsMu.RUnlock()
	return th.remoteParams
}

// Keys returns the read and write KeySets installed for level, which may
// be nil if that level's secrets have not been derived yet.
func (th *TLSHandler) Keys(level EncryptionLevel) (read, write *KeySet) {
	th.levelMu.RLock()
	defer th.levelMu.RUnlock()
	switch level {
	case EncryptionLevelInitial:
		return th.initialKeys.read, th.initialKeys.write
	case EncryptionLevelEarlyData:
		return th.zeroRTTKeys, th.zeroRTTKeys
	case EncryptionLevelHandshake:
		return th.handshakeKeys.read, th.handshakeKeys.write
	case EncryptionLevelApplication:
		return th.applicationKeys.read, th.applicationKeys.write
	default:
		return nil, nil
	}
}

// ConnectionState exposes the negotiated TLS connection state (ALPN,
// certificates, cipher suite) once the handshake completes.
func (th *TLSHandler) ConnectionState() tls.ConnectionState {
	return th.quicConn.ConnectionState()
}

// Close releases the underlying TLS state.
func (th *TLSHandler) Close() error {
	return th.quicConn.Close()
}

func quicEncryptionLevel(l tls.QUICEncryptionLevel) EncryptionLevel {
	switch l {
	case tls.QUICEncryptionLevelInitial:
		return EncryptionLevelInitial
	case tls.QUICEncryptionLevelEarly:
		return EncryptionLevelEarlyData
	case tls.QUICEncryptionLevelHandshake:
		return EncryptionLevelHandshake
	case tls.QUICEncryptionLevelApplication:
		return EncryptionLevelApplication
	default:
		return EncryptionLevelInitial
	}
}

func tlsEncryptionLevel(l EncryptionLevel) tls.QUICEncryptionLevel {
	switch l {
	case EncryptionLevelInitial:
		return tls.QUICEncryptionLevelInitial
	case EncryptionLevelEarlyData:
		return tls.QUICEncryptionLevelEarly
	case EncryptionLevelHandshake:
		return tls.QUICEncryptionLevelHandshake
	case EncryptionLevelApplication:
		return tls.QUICEncryptionLevelApplication
	default:
		return tls.QUICEncryptionLevelInitial
	}
}
