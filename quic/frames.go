package quic

import "fmt"

// FrameType identifies a QUIC frame (RFC 9000 §19). STREAM frames occupy the
// range 0x08-0x0F, encoding FIN/LEN/OFF as the low three bits; MAX_STREAMS
// and STREAMS_BLOCKED each occupy a bidi/uni pair of adjacent codepoints.
type FrameType uint64

const (
	FrameTypePadding            FrameType = 0x00
	FrameTypePing               FrameType = 0x01
	FrameTypeAck                FrameType = 0x02
	FrameTypeAckECN             FrameType = 0x03
	FrameTypeResetStream        FrameType = 0x04
	FrameTypeStopSending        FrameType = 0x05
	FrameTypeCrypto             FrameType = 0x06
	FrameTypeNewToken           FrameType = 0x07
	FrameTypeStream             FrameType = 0x08 // 0x08-0x0f
	FrameTypeMaxData            FrameType = 0x10
	FrameTypeMaxStreamData      FrameType = 0x11
	FrameTypeMaxStreamsBidi     FrameType = 0x12
	FrameTypeMaxStreamsUni      FrameType = 0x13
	FrameTypeDataBlocked        FrameType = 0x14
	FrameTypeStreamDataBlocked  FrameType = 0x15
	FrameTypeStreamsBlockedBidi FrameType = 0x16
	FrameTypeStreamsBlockedUni  FrameType = 0x17
	FrameTypeNewConnectionID    FrameType = 0x18
	FrameTypeRetireConnectionID FrameType = 0x19
	FrameTypePathChallenge      FrameType = 0x1a
	FrameTypePathResponse       FrameType = 0x1b
	FrameTypeConnectionClose    FrameType = 0x1c
	FrameTypeConnectionCloseApp FrameType = 0x1d
	FrameTypeHandshakeDone      FrameType = 0x1e
)

const (
	streamFlagFIN = 0x01
	streamFlagLEN = 0x02
	streamFlagOFF = 0x04
)

// Frame is implemented by every QUIC frame. AppendTo serializes the frame,
// including its type byte, onto buf.
type Frame interface {
	Type() FrameType
	AppendTo(buf []byte) ([]byte, error)
}

// admissiblePacketTypes reports which long/short header packet types may
// legally carry a frame of the given type (after RFC 9000 §12.4 table 3).
// Initial/Handshake carry PADDING, PING, ACK, CRYPTO and the transport
// CONNECTION_CLOSE; 1-RTT carries every frame. 0-RTT carries PADDING, both
// CONNECTION_CLOSE forms and the stream, flow-control and NEW_CONNECTION_ID
// frames, but not PING, ACK, CRYPTO, RETIRE_CONNECTION_ID or the path
// frames. PATH_CHALLENGE is admitted in Handshake and 1-RTT; PATH_RESPONSE,
// RETIRE_CONNECTION_ID, NEW_TOKEN and HANDSHAKE_DONE only in 1-RTT.
func admissiblePacketTypes(t FrameType) (initial, zeroRTT, handshake, oneRTT bool) {
	switch {
	case t == FrameTypePadding:
		return true, true, true, true
	case t == FrameTypePing:
		return true, false, true, true
	case t == FrameTypeAck || t == FrameTypeAckECN:
		return true, false, true, true
	case t == FrameTypeCrypto:
		return true, false, true, true
	case t == FrameTypeConnectionClose:
		return true, true, true, true
	case t == FrameTypeConnectionCloseApp:
		return false, true, false, true
	case t == FrameTypeHandshakeDone || t == FrameTypeNewToken:
		return false, false, false, true
	case t >= FrameTypeStream && t <= FrameTypeStream+7:
		return false, true, false, true
	case t == FrameTypeResetStream || t == FrameTypeStopSending:
		return false, true, false, true
	case t == FrameTypeMaxData || t == FrameTypeMaxStreamData:
		return false, true, false, true
	case t == FrameTypeMaxStreamsBidi || t == FrameTypeMaxStreamsUni:
		return false, true, false, true
	case t == FrameTypeDataBlocked || t == FrameTypeStreamDataBlocked:
		return false, true, false, true
	case t == FrameTypeStreamsBlockedBidi || t == FrameTypeStreamsBlockedUni:
		return false, true, false, true
	case t == FrameTypeNewConnectionID:
		return false, true, false, true
	case t == FrameTypeRetireConnectionID:
		return false, false, false, true
	case t == FrameTypePathChallenge:
		return false, false, true, true
	case t == FrameTypePathResponse:
		return false, false, false, true
	default:
		return false, false, false, false
	}
}

// IsFrameAdmissible reports whether a frame of type t may appear in a
// packet of the given type (RFC 9000 §12.4).
func IsFrameAdmissible(t FrameType, pt PacketType) bool {
	initial, zeroRTT, handshake, oneRTT := admissiblePacketTypes(t)
	switch pt {
	case PacketTypeInitial:
		return initial
	case PacketType0RTT:
		return zeroRTT
	case PacketTypeHandshake:
		return handshake
	case PacketType1RTT:
		return oneRTT
	default:
		return false
	}
}

// PaddingFrame (0x00) is one or more zero bytes used to pad a datagram.
type PaddingFrame struct{ Length int }

func (f *PaddingFrame) Type() FrameType { return FrameTypePadding }

func (f *PaddingFrame) AppendTo(buf []byte) ([]byte, error) {
	for i := 0; i < f.Length; i++ {
		buf = append(buf, 0x00)
	}
	return buf, nil
}

// PingFrame (0x01) solicits an acknowledgment.
type PingFrame struct{}

func (f *PingFrame) Type() FrameType { return FrameTypePing }

func (f *PingFrame) AppendTo(buf []byte) ([]byte, error) {
	return append(buf, byte(FrameTypePing)), nil
}

// AckRange is one gap/length pair in an ACK frame's range list; the first
// range in AckFrame.Ranges carries no gap.
type AckRange struct {
	Gap    uint64
	Length uint64
}

// ECNCounts carries ECT(0)/ECT(1)/CE counters for an ACK_ECN frame.
type ECNCounts struct {
	ECT0 uint64
	ECT1 uint64
	CE   uint64
}

// AckFrame (0x02/0x03) acknowledges a set of packet numbers.
type AckFrame struct {
	LargestAcked uint64
	AckDelay     uint64
	Ranges       []AckRange
	ECN          *ECNCounts
}

func (f *AckFrame) Type() FrameType {
	if f.ECN != nil {
		return FrameTypeAckECN
	}
	return FrameTypeAck
}

func (f *AckFrame) AppendTo(buf []byte) ([]byte, error) {
	if len(f.Ranges) == 0 {
		return buf, fmt.Errorf("%w: ACK frame has no ranges", ErrInvalidPacket)
	}
	buf = append(buf, byte(f.Type()))
	var err error
	if buf, err = AppendVarint(buf, f.LargestAcked); err != nil {
		return buf, err
	}
	if buf, err = AppendVarint(buf, f.AckDelay); err != nil {
		return buf, err
	}
	if buf, err = AppendVarint(buf, uint64(len(f.Ranges)-1)); err != nil {
		return buf, err
	}
	if buf, err = AppendVarint(buf, f.Ranges[0].Length); err != nil {
		return buf, err
	}
	for _, r := range f.Ranges[1:] {
		if buf, err = AppendVarint(buf, r.Gap); err != nil {
			return buf, err
		}
		if buf, err = AppendVarint(buf, r.Length); err != nil {
			return buf, err
		}
	}
	if f.ECN != nil {
		if buf, err = AppendVarint(buf, f.ECN.ECT0); err != nil {
			return buf, err
		}
		if buf, err = AppendVarint(buf, f.ECN.ECT1); err != nil {
			return buf, err
		}
		if buf, err = AppendVarint(buf, f.ECN.CE); err != nil {
			return buf, err
		}
	}
	return buf, nil
}

// ResetStreamFrame (0x04) abruptly terminates the sending part of a stream.
type ResetStreamFrame struct {
	StreamID  uint64
	ErrorCode uint64
	FinalSize uint64
}

func (f *ResetStreamFrame) Type() FrameType { return FrameTypeResetStream }

func (f *ResetStreamFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypeResetStream))
	var err error
	if buf, err = AppendVarint(buf, f.StreamID); err != nil {
		return buf, err
	}
	if buf, err = AppendVarint(buf, f.ErrorCode); err != nil {
		return buf, err
	}
	return AppendVarint(buf, f.FinalSize)
}

// StopSendingFrame (0x05) asks the peer to stop sending on a stream.
type StopSendingFrame struct {
	StreamID  uint64
	ErrorCode uint64
}

func (f *StopSendingFrame) Type() FrameType { return FrameTypeStopSending }

func (f *StopSendingFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypeStopSending))
	var err error
	if buf, err = AppendVarint(buf, f.StreamID); err != nil {
		return buf, err
	}
	return AppendVarint(buf, f.ErrorCode)
}

// CryptoFrame (0x06) carries a slice of the TLS handshake byte stream.
type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

func (f *CryptoFrame) Type() FrameType { return FrameTypeCrypto }

func (f *CryptoFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypeCrypto))
	var err error
	if buf, err = AppendVarint(buf, f.Offset); err != nil {
		return buf, err
	}
	if buf, err = AppendVarint(buf, uint64(len(f.Data))); err != nil {
		return buf, err
	}
	return append(buf, f.Data...), nil
}

// NewTokenFrame (0x07) provides a token the client can use on a future
// Initial packet.
type NewTokenFrame struct{ Token []byte }

func (f *NewTokenFrame) Type() FrameType { return FrameTypeNewToken }

func (f *NewTokenFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypeNewToken))
	var err error
	if buf, err = AppendVarint(buf, uint64(len(f.Token))); err != nil {
		return buf, err
	}
	return append(buf, f.Token...), nil
}

// StreamFrame (0x08-0x0f) carries application data for a stream.
type StreamFrame struct {
	StreamID uint64
	Offset   uint64
	Data     []byte
	Fin      bool
}

func (f *StreamFrame) Type() FrameType {
	typ := uint8(FrameTypeStream) | streamFlagLEN
	if f.Fin {
		typ |= streamFlagFIN
	}
	if f.Offset > 0 {
		typ |= streamFlagOFF
	}
	return FrameType(typ)
}

func (f *StreamFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(f.Type()))
	var err error
	if buf, err = AppendVarint(buf, f.StreamID); err != nil {
		return buf, err
	}
	if f.Offset > 0 {
		if buf, err = AppendVarint(buf, f.Offset); err != nil {
			return buf, err
		}
	}
	if buf, err = AppendVarint(buf, uint64(len(f.Data))); err != nil {
		return buf, err
	}
	return append(buf, f.Data...), nil
}

// MaxDataFrame (0x10) raises the connection-level flow-control limit.
type MaxDataFrame struct{ MaximumData uint64 }

func (f *MaxDataFrame) Type() FrameType { return FrameTypeMaxData }

func (f *MaxDataFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypeMaxData))
	return AppendVarint(buf, f.MaximumData)
}

// MaxStreamDataFrame (0x11) raises one stream's flow-control limit.
type MaxStreamDataFrame struct {
	StreamID    uint64
	MaximumData uint64
}

func (f *MaxStreamDataFrame) Type() FrameType { return FrameTypeMaxStreamData }

func (f *MaxStreamDataFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypeMaxStreamData))
	var err error
	if buf, err = AppendVarint(buf, f.StreamID); err != nil {
		return buf, err
	}
	return AppendVarint(buf, f.MaximumData)
}

// MaxStreamsFrame (0x12/0x13) raises the peer's stream-count limit.
type MaxStreamsFrame struct {
	MaximumStreams uint64
	Bidirectional  bool
}

func (f *MaxStreamsFrame) Type() FrameType {
	if f.Bidirectional {
		return FrameTypeMaxStreamsBidi
	}
	return FrameTypeMaxStreamsUni
}

func (f *MaxStreamsFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(f.Type()))
	return AppendVarint(buf, f.MaximumStreams)
}

// DataBlockedFrame (0x14) signals the sender is connection-flow-control
// blocked.
type DataBlockedFrame struct{ MaximumData uint64 }

func (f *DataBlockedFrame) Type() FrameType { return FrameTypeDataBlocked }

func (f *DataBlockedFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypeDataBlocked))
	return AppendVarint(buf, f.MaximumData)
}

// StreamDataBlockedFrame (0x15) signals the sender is stream-flow-control
// blocked.
type StreamDataBlockedFrame struct {
	StreamID    uint64
	MaximumData uint64
}

func (f *StreamDataBlockedFrame) Type() FrameType { return FrameTypeStreamDataBlocked }

func (f *StreamDataBlockedFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypeStreamDataBlocked))
	var err error
	if buf, err = AppendVarint(buf, f.StreamID); err != nil {
		return buf, err
	}
	return AppendVarint(buf, f.MaximumData)
}

// StreamsBlockedFrame (0x16/0x17) signals the sender wanted to open more
// streams than its peer's limit allows.
type StreamsBlockedFrame struct {
	MaximumStreams uint64
	Bidirectional  bool
}

func (f *StreamsBlockedFrame) Type() FrameType {
	if f.Bidirectional {
		return FrameTypeStreamsBlockedBidi
	}
	return FrameTypeStreamsBlockedUni
}

func (f *StreamsBlockedFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(f.Type()))
	return AppendVarint(buf, f.MaximumStreams)
}

// NewConnectionIDFrame (0x18) provides a connection ID the peer may switch
// to, along with its stateless-reset token.
type NewConnectionIDFrame struct {
	SequenceNumber uint64
	RetirePriorTo  uint64
	ConnectionID   ConnectionID
	ResetToken     [16]byte
}

func (f *NewConnectionIDFrame) Type() FrameType { return FrameTypeNewConnectionID }

func (f *NewConnectionIDFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypeNewConnectionID))
	var err error
	if buf, err = AppendVarint(buf, f.SequenceNumber); err != nil {
		return buf, err
	}
	if buf, err = AppendVarint(buf, f.RetirePriorTo); err != nil {
		return buf, err
	}
	buf = append(buf, byte(f.ConnectionID.Len()))
	buf = append(buf, f.ConnectionID.Bytes()...)
	return append(buf, f.ResetToken[:]...), nil
}

// RetireConnectionIDFrame (0x19) asks the peer to stop using a connection
// ID it previously issued.
type RetireConnectionIDFrame struct{ SequenceNumber uint64 }

func (f *RetireConnectionIDFrame) Type() FrameType { return FrameTypeRetireConnectionID }

func (f *RetireConnectionIDFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypeRetireConnectionID))
	return AppendVarint(buf, f.SequenceNumber)
}

// PathChallengeFrame (0x1a) probes reachability of an address.
type PathChallengeFrame struct{ Data [8]byte }

func (f *PathChallengeFrame) Type() FrameType { return FrameTypePathChallenge }

func (f *PathChallengeFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypePathChallenge))
	return append(buf, f.Data[:]...), nil
}

// PathResponseFrame (0x1b) answers a PATH_CHALLENGE.
type PathResponseFrame struct{ Data [8]byte }

func (f *PathResponseFrame) Type() FrameType { return FrameTypePathResponse }

func (f *PathResponseFrame) AppendTo(buf []byte) ([]byte, error) {
	buf = append(buf, byte(FrameTypePathResponse))
	return append(buf, f.Data[:]...), nil
}

// MaxReasonPhraseLen is the implementation-imposed maximum length, in
// bytes, of a CONNECTION_CLOSE reason phrase, enforced on both encode and
// decode.
const MaxReasonPhraseLen = 1024

// ConnectionCloseFrame (0x1c/0x1d) terminates the connection.
type ConnectionCloseFrame struct {
	ErrorCode    uint64
	FrameType    uint64
	ReasonPhrase []byte
	IsAppError   bool
}

func (f *ConnectionCloseFrame) Type() FrameType {
	if f.IsAppError {
		return FrameTypeConnectionCloseApp
	}
	return FrameTypeConnectionClose
}

func (f *ConnectionCloseFrame) AppendTo(buf []byte) ([]byte, error) {
	if len(f.ReasonPhrase) > MaxReasonPhraseLen {
		return buf, ErrReasonPhraseTooLong
	}
	buf = append(buf, byte(f.Type()))
	var err error
	if buf, err = AppendVarint(buf, f.ErrorCode); err != nil {
		return buf, err
	}
	if !f.IsAppError {
		if buf, err = AppendVarint(buf, f.FrameType); err != nil {
			return buf, err
		}
	}
	if buf, err = AppendVarint(buf, uint64(len(f.ReasonPhrase))); err != nil {
		return buf, err
	}
	return append(buf, f.ReasonPhrase...), nil
}

// HandshakeDoneFrame (0x1e) tells a client the handshake is confirmed. Only
// a server may send it.
type HandshakeDoneFrame struct{}

func (f *HandshakeDoneFrame) Type() FrameType { return FrameTypeHandshakeDone }

func (f *HandshakeDoneFrame) AppendTo(buf []byte) ([]byte, error) {
	return append(buf, byte(FrameTypeHandshakeDone)), nil
}

// ParseFrame parses a single frame from the front of data, returning the
// frame and the number of bytes consumed.
func ParseFrame(data []byte) (Frame, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrPacketTruncated
	}

	ft, n, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	offset := n
	frameType := FrameType(ft)

	switch {
	case frameType == FrameTypePadding:
		count := 1
		for offset < len(data) && data[offset] == 0x00 {
			count++
			offset++
		}
		return &PaddingFrame{Length: count}, offset, nil

	case frameType == FrameTypePing:
		return &PingFrame{}, offset, nil

	case frameType == FrameTypeAck || frameType == FrameTypeAckECN:
		f, n, err := parseAckFrame(data[offset:], frameType == FrameTypeAckECN)
		return f, offset + n, err

	case frameType == FrameTypeResetStream:
		f, n, err := parseResetStreamFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypeStopSending:
		f, n, err := parseStopSendingFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypeCrypto:
		f, n, err := parseCryptoFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypeNewToken:
		f, n, err := parseNewTokenFrame(data[offset:])
		return f, offset + n, err

	case frameType >= FrameTypeStream && frameType <= FrameTypeStream+7:
		f, n, err := parseStreamFrame(data[offset:], uint8(frameType))
		return f, offset + n, err

	case frameType == FrameTypeMaxData:
		f, n, err := parseMaxDataFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypeMaxStreamData:
		f, n, err := parseMaxStreamDataFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypeMaxStreamsBidi || frameType == FrameTypeMaxStreamsUni:
		f, n, err := parseMaxStreamsFrame(data[offset:], frameType == FrameTypeMaxStreamsBidi)
		return f, offset + n, err

	case frameType == FrameTypeDataBlocked:
		f, n, err := parseDataBlockedFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypeStreamDataBlocked:
		f, n, err := parseStreamDataBlockedFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypeStreamsBlockedBidi || frameType == FrameTypeStreamsBlockedUni:
		f, n, err := parseStreamsBlockedFrame(data[offset:], frameType == FrameTypeStreamsBlockedBidi)
		return f, offset + n, err

	case frameType == FrameTypeNewConnectionID:
		f, n, err := parseNewConnectionIDFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypeRetireConnectionID:
		f, n, err := parseRetireConnectionIDFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypePathChallenge:
		f, n, err := parsePathChallengeFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypePathResponse:
		f, n, err := parsePathResponseFrame(data[offset:])
		return f, offset + n, err

	case frameType == FrameTypeConnectionClose || frameType == FrameTypeConnectionCloseApp:
		f, n, err := parseConnectionCloseFrame(data[offset:], frameType == FrameTypeConnectionCloseApp)
		return f, offset + n, err

	case frameType == FrameTypeHandshakeDone:
		return &HandshakeDoneFrame{}, offset, nil

	default:
		return nil, 0, fmt.Errorf("%w: 0x%x", ErrIllegalFrameType, uint64(frameType))
	}
}

func parseAckFrame(data []byte, hasECN bool) (*AckFrame, int, error) {
	offset := 0
	largestAcked, n, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	offset += n

	ackDelay, n, err := ParseVarint(data[offset:])
	if err != nil {
		return nil, 0, err
	}
	offset += n

	rangeCount, n, err := ParseVarint(data[offset:])
	if err != nil {
		return nil, 0, err
	}
	offset += n
	if rangeCount > 1<<16 {
		return nil, 0, ErrTooManyAckRanges
	}

	firstRange, n, err := ParseVarint(data[offset:])
	if err != nil {
		return nil, 0, err
	}
	offset += n

	ranges := []AckRange{{Length: firstRange}}
	for i := uint64(0); i < rangeCount; i++ {
		gap, n, err := ParseVarint(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		length, n, err := ParseVarint(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		ranges = append(ranges, AckRange{Gap: gap, Length: length})
	}

	ack := &AckFrame{LargestAcked: largestAcked, AckDelay: ackDelay, Ranges: ranges}
	if hasECN {
		ect0, n, err := ParseVarint(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		ect1, n, err := ParseVarint(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		ce, n, err := ParseVarint(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		ack.ECN = &ECNCounts{ECT0: ect0, ECT1: ect1, CE: ce}
	}
	return ack, offset, nil
}

func parseResetStreamFrame(data []byte) (*ResetStreamFrame, int, error) {
	streamID, n1, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	code, n2, err := ParseVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	finalSize, n3, err := ParseVarint(data[n1+n2:])
	if err != nil {
		return nil, 0, err
	}
	return &ResetStreamFrame{StreamID: streamID, ErrorCode: code, FinalSize: finalSize}, n1 + n2 + n3, nil
}

func parseStopSendingFrame(data []byte) (*StopSendingFrame, int, error) {
	streamID, n1, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	code, n2, err := ParseVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	return &StopSendingFrame{StreamID: streamID, ErrorCode: code}, n1 + n2, nil
}

func parseCryptoFrame(data []byte) (*CryptoFrame, int, error) {
	off, n1, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	length, n2, err := ParseVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	offset := n1 + n2
	if uint64(len(data)) < uint64(offset)+length {
		return nil, 0, ErrPacketTruncated
	}
	buf := append([]byte(nil), data[offset:offset+int(length)]...)
	return &CryptoFrame{Offset: off, Data: buf}, offset + int(length), nil
}

func parseNewTokenFrame(data []byte) (*NewTokenFrame, int, error) {
	length, n, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	offset := n
	if uint64(len(data)) < uint64(offset)+length {
		return nil, 0, ErrPacketTruncated
	}
	buf := append([]byte(nil), data[offset:offset+int(length)]...)
	return &NewTokenFrame{Token: buf}, offset + int(length), nil
}

func parseStreamFrame(data []byte, typeByte uint8) (*StreamFrame, int, error) {
	fin := typeByte&streamFlagFIN != 0
	hasLen := typeByte&streamFlagLEN != 0
	hasOff := typeByte&streamFlagOFF != 0

	streamID, n, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	offset := n

	var streamOffset uint64
	if hasOff {
		streamOffset, n, err = ParseVarint(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
	}

	var streamData []byte
	if hasLen {
		length, n, err := ParseVarint(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		if uint64(len(data)) < uint64(offset)+length {
			return nil, 0, ErrPacketTruncated
		}
		streamData = append([]byte(nil), data[offset:offset+int(length)]...)
		offset += int(length)
	} else {
		streamData = append([]byte(nil), data[offset:]...)
		offset = len(data)
	}

	return &StreamFrame{StreamID: streamID, Offset: streamOffset, Data: streamData, Fin: fin}, offset, nil
}

func parseMaxDataFrame(data []byte) (*MaxDataFrame, int, error) {
	v, n, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	return &MaxDataFrame{MaximumData: v}, n, nil
}

func parseMaxStreamDataFrame(data []byte) (*MaxStreamDataFrame, int, error) {
	streamID, n1, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	max, n2, err := ParseVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	return &MaxStreamDataFrame{StreamID: streamID, MaximumData: max}, n1 + n2, nil
}

func parseMaxStreamsFrame(data []byte, bidi bool) (*MaxStreamsFrame, int, error) {
	v, n, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	return &MaxStreamsFrame{MaximumStreams: v, Bidirectional: bidi}, n, nil
}

func parseDataBlockedFrame(data []byte) (*DataBlockedFrame, int, error) {
	v, n, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	return &DataBlockedFrame{MaximumData: v}, n, nil
}

func parseStreamDataBlockedFrame(data []byte) (*StreamDataBlockedFrame, int, error) {
	streamID, n1, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	max, n2, err := ParseVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	return &StreamDataBlockedFrame{StreamID: streamID, MaximumData: max}, n1 + n2, nil
}

func parseStreamsBlockedFrame(data []byte, bidi bool) (*StreamsBlockedFrame, int, error) {
	v, n, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	return &StreamsBlockedFrame{MaximumStreams: v, Bidirectional: bidi}, n, nil
}

func parseNewConnectionIDFrame(data []byte) (*NewConnectionIDFrame, int, error) {
	seq, n1, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	retire, n2, err := ParseVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	offset := n1 + n2
	if len(data) < offset+1 {
		return nil, 0, ErrPacketTruncated
	}
	cidLen := int(data[offset])
	offset++
	if cidLen > MaxConnectionIDLen || len(data) < offset+cidLen+16 {
		return nil, 0, ErrPacketTruncated
	}
	cid, err := NewConnectionID(data[offset : offset+cidLen])
	if err != nil {
		return nil, 0, err
	}
	offset += cidLen
	var token [16]byte
	copy(token[:], data[offset:offset+16])
	offset += 16
	return &NewConnectionIDFrame{SequenceNumber: seq, RetirePriorTo: retire, ConnectionID: cid, ResetToken: token}, offset, nil
}

func parseRetireConnectionIDFrame(data []byte) (*RetireConnectionIDFrame, int, error) {
	v, n, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	return &RetireConnectionIDFrame{SequenceNumber: v}, n, nil
}

func parsePathChallengeFrame(data []byte) (*PathChallengeFrame, int, error) {
	if len(data) < 8 {
		return nil, 0, ErrPacketTruncated
	}
	var f PathChallengeFrame
	copy(f.Data[:], data[:8])
	return &f, 8, nil
}

func parsePathResponseFrame(data []byte) (*PathResponseFrame, int, error) {
	if len(data) < 8 {
		return nil, 0, ErrPacketTruncated
	}
	var f PathResponseFrame
	copy(f.Data[:], data[:8])
	return &f, 8, nil
}

func parseConnectionCloseFrame(data []byte, isApp bool) (*ConnectionCloseFrame, int, error) {
	code, n1, err := ParseVarint(data)
	if err != nil {
		return nil, 0, err
	}
	offset := n1
	var frameType uint64
	if !isApp {
		frameType, n1, err = ParseVarint(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n1
	}
	reasonLen, n2, err := ParseVarint(data[offset:])
	if err != nil {
		return nil, 0, err
	}
	offset += n2
	if reasonLen > MaxReasonPhraseLen {
		return nil, 0, ErrReasonPhraseTooLong
	}
	if uint64(len(data)) < uint64(offset)+reasonLen {
		return nil, 0, ErrPacketTruncated
	}
	reason := append([]byte(nil), data[offset:offset+int(reasonLen)]...)
	offset += int(reasonLen)
	return &ConnectionCloseFrame{ErrorCode: code, FrameType: frameType, ReasonPhrase: reason, IsAppError: isApp}, offset, nil
}
