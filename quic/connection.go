package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ConnState is a position in the connection lifecycle.
type ConnState uint8

const (
	ConnStateIdle ConnState = iota
	ConnStateHandshaking
	ConnStateConnected
	ConnStateClosing
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateIdle:
		return "Idle"
	case ConnStateHandshaking:
		return "Handshaking"
	case ConnStateConnected:
		return "Connected"
	case ConnStateClosing:
		return "Closing"
	case ConnStateClosed:
		return "Closed"
	default:
		return "ConnState(?)"
	}
}

// outgoingDatagram pairs protected bytes with the path they should be sent
// on; the listener's write loop drains these off a connection's send queue.
type outgoingDatagram struct {
	data []byte
	addr net.Addr
}

// Connection is one QUIC connection's full state: its identifiers, packet
// number spaces, installed keys, streams, path set and lifecycle state.
type Connection struct {
	isClient bool

	localAddr  net.Addr
	remoteAddr net.Addr

	destConnID ConnectionID
	srcConnID  ConnectionID

	mu    sync.Mutex
	state ConnState

	closeErr       *TransportError
	closeAppErr    *ApplicationError
	closeSent      bool
	closeReceived  bool
	drainDeadline  time.Time

	initialKeys     directionalKeys
	handshakeKeys   directionalKeys
	applicationKeys directionalKeys
	zeroRTTKeys     *KeySet
	earlyData       *EarlyDataState
	handshakeComplete bool

	tls *TLSHandler

	pnInitial     *PacketNumberSpace
	pnHandshake   *PacketNumberSpace
	pnApplication *PacketNumberSpace

	localParams  *TransportParameters
	remoteParams *TransportParameters

	connFlow *FlowController
	streams  *StreamManager
	paths    *PathValidator

	frameMu    sync.Mutex
	frameQueue []Frame

	recvQueue chan []byte
	sendQueue chan outgoingDatagram

	rtt *RTTEstimator
}

// NewConnection builds a fresh, Idle connection. destConnID is the
// peer-chosen (client) or client-chosen-original (server) destination
// connection ID used to derive Initial keys; srcConnID is this endpoint's
// own locally-chosen connection ID.
func NewConnection(isClient bool, local, remote net.Addr, destConnID, srcConnID ConnectionID, params *TransportParameters) *Connection {
	if params == nil {
		defaults := DefaultTransportParameters()
		params = &defaults
	}
	c := &Connection{
		isClient:      isClient,
		localAddr:     local,
		remoteAddr:    remote,
		destConnID:    destConnID,
		srcConnID:     srcConnID,
		state:         ConnStateIdle,
		pnInitial:     NewPacketNumberSpace(),
		pnHandshake:   NewPacketNumberSpace(),
		pnApplication: NewPacketNumberSpace(),
		localParams:   params,
		connFlow:      NewFlowController(params.InitialMaxData),
		paths:         NewPathValidator(),
		recvQueue:     make(chan []byte, 64),
		sendQueue:     make(chan outgoingDatagram, 64),
		rtt:           NewRTTEstimator(),
	}
	c.streams = newStreamManager(c, isClient,
		params.InitialMaxStreamsBidi, params.InitialMaxStreamsUni,
		params.InitialMaxStreamDataBidiLocal, params.InitialMaxStreamDataBidiRemote)
	return c
}

// SetEarlyData attaches 0-RTT state built from a cached session ticket,
// letting a client attempt early data on this connection's first flight.
// Whether the attempt is ultimately honored is the peer's decision; this
// only arms the mechanism.
func (c *Connection) SetEarlyData(e *EarlyDataState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.earlyData = e
	if e != nil {
		c.zeroRTTKeys = e.Keys()
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartHandshake transitions Idle→Handshaking and drives the TLS
// collaborator's first flight: the client on connect(remote), the server
// on its first valid Initial.
func (c *Connection) StartHandshake(ctx context.Context, tlsConfig *tls.Config) error {
	c.mu.Lock()
	if c.state != ConnStateIdle {
		c.mu.Unlock()
		return fmt.Errorf("quic: StartHandshake called in state %s", c.state)
	}
	c.state = ConnStateHandshaking
	c.mu.Unlock()

	handler, err := NewTLSHandler(c, tlsConfig, c.isClient, c.localParams)
	if err != nil {
		return err
	}
	c.tls = handler
	return handler.Start(ctx)
}

// sendCryptoFrame is the TLSHandler's hook for delivering handshake bytes
// at a given encryption level onto the connection's outbound frame queue.
func (c *Connection) sendCryptoFrame(frame *CryptoFrame, level EncryptionLevel) error {
	c.queueFrame(frame)
	return nil
}

// queueFrame appends a frame to the single per-connection outbound queue.
func (c *Connection) queueFrame(f Frame) {
	c.frameMu.Lock()
	c.frameQueue = append(c.frameQueue, f)
	c.frameMu.Unlock()
}

// drainFrameQueue removes and returns every frame queued so far.
func (c *Connection) drainFrameQueue() []Frame {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if len(c.frameQueue) == 0 {
		return nil
	}
	drained := c.frameQueue
	c.frameQueue = nil
	return drained
}

// checkHandshakeProgress promotes Handshaking→Connected once the TLS
// collaborator reports completion and HANDSHAKE_DONE has been sent (server)
// or received (client).
func (c *Connection) checkHandshakeProgress(handshakeDoneSent, handshakeDoneReceived bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ConnStateHandshaking || c.tls == nil || !c.tls.IsHandshakeComplete() {
		return
	}
	if c.isClient && !handshakeDoneReceived {
		return
	}
	if !c.isClient && !handshakeDoneSent {
		return
	}
	c.handshakeComplete = true
	c.state = ConnStateConnected
}

// handleFrame dispatches one received, already-admissibility-checked frame
// to the subsystem that owns it.
func (c *Connection) handleFrame(f Frame, level EncryptionLevel, remote net.Addr) error {
	switch frame := f.(type) {
	case *CryptoFrame:
		if c.tls == nil {
			return NewTransportError(ErrProtocolViolation, "CRYPTO frame before handshake started", nil)
		}
		return c.tls.HandleCryptoFrame(frame, level)

	case *StreamFrame:
		s, err := c.streams.AcceptPeerStream(frame.StreamID)
		if err != nil {
			return err
		}
		return s.handleStreamFrame(frame)

	case *ResetStreamFrame:
		s, err := c.streams.AcceptPeerStream(frame.StreamID)
		if err != nil {
			return err
		}
		return s.handleResetStream(frame)

	case *StopSendingFrame:
		s := c.streams.Get(frame.StreamID)
		if s == nil {
			return nil
		}
		return s.handleStopSending(frame)

	case *MaxDataFrame:
		c.connFlow.UpdateMaxData(frame.MaximumData)
		return nil

	case *MaxStreamDataFrame:
		s := c.streams.Get(frame.StreamID)
		if s != nil {
			s.updateSendMaxData(frame.MaximumData)
		}
		return nil

	case *MaxStreamsFrame:
		c.streams.UpdateMaxStreams(frame.MaximumStreams, frame.Bidirectional)
		return nil

	case *PathChallengeFrame:
		resp := c.paths.ProcessChallenge(frame, c.localAddr, remote)
		c.queueFrame(resp)
		return nil

	case *PathResponseFrame:
		if p := c.paths.Path(c.localAddr, remote); p != nil {
			p.HandlePathResponse(frame.Data)
		}
		return nil

	case *ConnectionCloseFrame:
		c.receiveConnectionClose(frame)
		return nil

	case *HandshakeDoneFrame:
		c.checkHandshakeProgress(false, true)
		return nil

	case *AckFrame:
		c.recordAck(frame, level)
		return nil

	case *PingFrame, *PaddingFrame, *NewTokenFrame, *NewConnectionIDFrame,
		*RetireConnectionIDFrame, *DataBlockedFrame, *StreamDataBlockedFrame,
		*StreamsBlockedFrame:
		return nil

	default:
		return fmt.Errorf("quic: unhandled frame type %T", f)
	}
}

// recordAck updates the relevant packet number space's largest_acked; loss
// detection and retransmission scheduling beyond that are out of scope.
func (c *Connection) recordAck(frame *AckFrame, level EncryptionLevel) {
	space := c.pnSpaceFor(level)
	if space == nil {
		return
	}
	space.RecordAcked(frame.LargestAcked)
}

func (c *Connection) pnSpaceFor(level EncryptionLevel) *PacketNumberSpace {
	switch level {
	case EncryptionLevelInitial:
		return c.pnInitial
	case EncryptionLevelHandshake:
		return c.pnHandshake
	case EncryptionLevelApplication, EncryptionLevelEarlyData:
		return c.pnApplication
	default:
		return nil
	}
}

// Close begins a locally-initiated graceful close: any→Closing, queuing a
// CONNECTION_CLOSE and starting the 3·PTO draining timer.
func (c *Connection) Close(code ErrorCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConnStateClosing || c.state == ConnStateClosed {
		return
	}
	c.closeErr = NewTransportError(code, reason, nil)
	c.state = ConnStateClosing
	c.drainDeadline = now().Add(3 * c.rtt.PTO(time.Duration(c.localParams.MaxAckDelay) * time.Millisecond))
	if !c.closeSent {
		c.queueFrame(&ConnectionCloseFrame{ErrorCode: uint64(code), ReasonPhrase: truncateReasonPhrase(reason)})
		c.closeSent = true
	}
}

// truncateReasonPhrase clips reason to MaxReasonPhraseLen bytes so a
// caller-supplied close reason can never itself make the frame unsendable.
func truncateReasonPhrase(reason string) []byte {
	b := []byte(reason)
	if len(b) > MaxReasonPhraseLen {
		b = b[:MaxReasonPhraseLen]
	}
	return b
}

// Abort is Close with an application-supplied cause, the terminal synonym
// for Closed-with-error the state machine names.
func (c *Connection) Abort(appCode uint64, reason string) {
	c.mu.Lock()
	c.closeAppErr = &ApplicationError{Code: appCode, Reason: reason}
	c.mu.Unlock()
	c.Close(ErrApplicationError, reason)
}

// receiveConnectionClose handles a peer-initiated close: any→Closing,
// echoing a matching CONNECTION_CLOSE if one was not already sent.
func (c *Connection) receiveConnectionClose(frame *ConnectionCloseFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeReceived = true
	if c.state == ConnStateClosed {
		return
	}
	c.state = ConnStateClosing
	c.drainDeadline = now().Add(3 * c.rtt.PTO(time.Duration(c.localParams.MaxAckDelay) * time.Millisecond))
	if !c.closeSent {
		c.queueFrame(&ConnectionCloseFrame{ErrorCode: frame.ErrorCode, ReasonPhrase: []byte("peer closed")})
		c.closeSent = true
	}
}

// CheckDraining transitions Closing→Closed once the draining timer has
// fired.
func (c *Connection) CheckDraining() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConnStateClosing && !now().Before(c.drainDeadline) {
		c.state = ConnStateClosed
	}
}

// Deliver hands one already-demultiplexed datagram (selected for this
// connection by the listener, by destination connection ID) to the
// connection's receive loop.
func (c *Connection) Deliver(data []byte) {
	select {
	case c.recvQueue <- data:
	default:
		// Receive queue full: drop rather than block the listener's single
		// read loop for every other connection.
	}
}

// SendChan exposes the channel of outgoing datagrams Run produces, for the
// listener's write loop to drain.
func (c *Connection) SendChan() <-chan outgoingDatagram { return c.sendQueue }

// Run drives the connection's cooperating send, receive and timer loops
// under one cancellation context: the first of the three to fail cancels
// the others.
func (c *Connection) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case datagram, ok := <-c.recvQueue:
				if !ok {
					return nil
				}
				if err := c.handleDatagram(datagram); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				c.CheckDraining()
				if c.State() == ConnStateClosed {
					close(c.sendQueue)
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				datagram, err := c.Flush()
				if err != nil {
					return err
				}
				if datagram == nil {
					continue
				}
				select {
				case c.sendQueue <- outgoingDatagram{data: datagram, addr: c.remoteAddr}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	return g.Wait()
}

// Flush assembles one protected datagram from all currently-queued frames
// at the highest encryption level whose write keys are installed. It
// returns nil, nil when nothing is ready to send — either the queue is
// empty or only a level without installed keys has pending frames, in
// which case those frames are put back for the next call.
func (c *Connection) Flush() ([]byte, error) {
	frames := c.drainFrameQueue()
	if len(frames) == 0 {
		return nil, nil
	}

	level, write := c.highestWriteLevel()
	if write == nil {
		c.frameMu.Lock()
		c.frameQueue = append(frames, c.frameQueue...)
		c.frameMu.Unlock()
		return nil, nil
	}

	space := c.pnSpaceFor(level)
	pn, err := space.Next()
	if err != nil {
		return nil, err
	}

	var plaintext []byte
	for _, f := range frames {
		plaintext, err = f.AppendTo(plaintext)
		if err != nil {
			return nil, fmt.Errorf("quic: encoding frame: %w", err)
		}
	}

	pnLen := EncodedPacketNumberLen(pn, space.LargestAcked())
	isLong := level != EncryptionLevelApplication

	if c.isClient && level == EncryptionLevelInitial {
		plaintext = padInitialPlaintext(plaintext, c, pnLen, write.Overhead())
	}

	pkt := &Packet{
		IsLongHeader:    isLong,
		PacketNumber:    pn,
		PacketNumberLen: pnLen,
		// Dummy payload of the final ciphertext length: only its length
		// matters here, to get the long-header Length field (and thus
		// every later byte offset) right before the real ciphertext exists.
		Payload: make([]byte, len(plaintext)+write.Overhead()),
	}
	if isLong {
		pkt.Long = LongHeader{
			Type:    longHeaderTypeFor(level),
			Version: Version1,
			DestCID: c.destConnID,
			SrcCID:  c.srcConnID,
		}
	} else {
		pkt.Short = ShortHeader{DestCID: c.destConnID}
	}

	headerBytes := pkt.AppendTo(nil)
	pnOffset, gotLong, err := locatePacketNumberOffset(headerBytes, c.destConnID.Len())
	if err != nil {
		return nil, err
	}
	aad := append([]byte(nil), headerBytes[:pnOffset+pnLen]...)

	ciphertext := write.Seal(pn, aad, plaintext)

	datagram := append([]byte(nil), aad...)
	datagram = append(datagram, ciphertext...)

	if err := write.ApplyHeaderProtection(datagram, pnOffset, gotLong); err != nil {
		return nil, err
	}
	return datagram, nil
}

// highestWriteLevel returns the most-advanced encryption level whose write
// keys are currently installed.
func (c *Connection) highestWriteLevel() (EncryptionLevel, *KeySet) {
	if c.applicationKeys.write != nil {
		return EncryptionLevelApplication, c.applicationKeys.write
	}
	if c.handshakeKeys.write != nil {
		return EncryptionLevelHandshake, c.handshakeKeys.write
	}
	if c.initialKeys.write != nil {
		return EncryptionLevelInitial, c.initialKeys.write
	}
	return EncryptionLevelInitial, nil
}

func longHeaderTypeFor(level EncryptionLevel) PacketType {
	switch level {
	case EncryptionLevelInitial:
		return PacketTypeInitial
	case EncryptionLevelEarlyData:
		return PacketType0RTT
	case EncryptionLevelHandshake:
		return PacketTypeHandshake
	default:
		return PacketTypeInitial
	}
}

// padInitialPlaintext appends PADDING frames (type 0x00) so the resulting
// UDP datagram meets the 1200-byte client Initial minimum (RFC 9000 §14.1).
func padInitialPlaintext(plaintext []byte, c *Connection, pnLen, aeadOverhead int) []byte {
	headerLen := 1 + 4 + 1 + c.destConnID.Len() + 1 + c.srcConnID.Len() + 1 + 2 + pnLen
	for headerLen+len(plaintext)+aeadOverhead < MinInitialDatagramSize {
		plaintext = append(plaintext, 0x00)
	}
	return plaintext
}

// handleDatagram parses one UDP datagram into its constituent packets (QUIC
// allows coalescing several packets of increasing protection into one
// datagram) and dispatches each in turn. Header protection removal and AEAD
// decryption live in KeySet/headerprotection.go; this wires their output to
// frame dispatch.
func (c *Connection) handleDatagram(data []byte) error {
	for len(data) > 0 {
		pkt, frames, level, consumed, err := c.openPacket(data)
		if err != nil {
			return err
		}
		packetType := PacketType1RTT
		if pkt.IsLongHeader {
			packetType = pkt.Long.Type
		}
		for _, f := range frames {
			if !IsFrameAdmissible(f.Type(), packetType) {
				return NewTransportError(ErrProtocolViolation, "frame not admissible in this packet type", ErrFrameNotAdmissible)
			}
			if err := c.handleFrame(f, level, c.remoteAddr); err != nil {
				return err
			}
		}
		data = data[consumed:]
	}
	return nil
}

// openPacket removes header protection and AEAD-decrypts the next packet
// in data, using whichever read keys are installed for its encryption
// level, and returns its decoded frames.
func (c *Connection) openPacket(data []byte) (*Packet, []Frame, EncryptionLevel, int, error) {
	level, read := c.readKeysForFirstByte(data)
	if read == nil {
		return nil, nil, level, 0, ErrKeysNotInstalled
	}

	dcidLen := c.srcConnID.Len()
	pnOffset, isLong, err := locatePacketNumberOffset(data, dcidLen)
	if err != nil {
		return nil, nil, level, 0, err
	}
	buf := append([]byte(nil), data...)
	pnLen, err := read.RemoveHeaderProtection(buf, pnOffset, isLong)
	if err != nil {
		return nil, nil, level, 0, err
	}

	pkt, consumed, err := ParsePacket(buf, dcidLen)
	if err != nil {
		return nil, nil, level, 0, err
	}

	space := c.pnSpaceFor(level)
	fullPN := pkt.PacketNumber
	if space != nil {
		fullPN = DecodePacketNumber(space.LargestReceived(), pkt.PacketNumber, pnLen)
	}

	aad := buf[:pnOffset+pnLen]
	plaintext, err := read.Open(fullPN, aad, pkt.Payload)
	if err != nil {
		return nil, nil, level, 0, err
	}

	if space != nil {
		if dup := space.RecordReceived(fullPN); dup {
			return pkt, nil, level, consumed, nil
		}
	}

	frames, err := parseFrames(plaintext)
	if err != nil {
		return nil, nil, level, 0, err
	}
	return pkt, frames, level, consumed, nil
}

// readKeysForFirstByte infers the encryption level a packet was protected
// with from its header and returns the matching read-direction KeySet.
func (c *Connection) readKeysForFirstByte(data []byte) (EncryptionLevel, *KeySet) {
	if len(data) == 0 {
		return EncryptionLevelInitial, nil
	}
	if data[0]&0x80 == 0 {
		return EncryptionLevelApplication, c.applicationKeys.read
	}
	switch PacketType((data[0] >> 4) & 0x03) {
	case PacketTypeInitial:
		return EncryptionLevelInitial, c.initialKeys.read
	case PacketTypeHandshake:
		return EncryptionLevelHandshake, c.handshakeKeys.read
	case PacketType0RTT:
		return EncryptionLevelEarlyData, c.zeroRTTKeys
	default:
		return EncryptionLevelInitial, nil
	}
}

// parseFrames decodes every frame in a decrypted packet payload.
func parseFrames(payload []byte) ([]Frame, error) {
	var frames []Frame
	for len(payload) > 0 {
		f, n, err := ParseFrame(payload)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		payload = payload[n:]
	}
	return frames, nil
}
