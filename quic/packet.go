package quic

import (
	"encoding/binary"
	"fmt"
)

// QUIC packet formats (RFC 9000 §17). Long-header packets (Initial, 0-RTT,
// Handshake, Retry) carry both connection IDs explicitly; short-header
// (1-RTT) packets carry only the destination connection ID, whose length
// the receiver must already know from connection state.

// PacketType distinguishes the packet types the long/short header encodes.
type PacketType uint8

const (
	PacketTypeInitial PacketType = iota
	PacketType0RTT
	PacketTypeHandshake
	PacketTypeRetry
	PacketType1RTT
	PacketTypeVersionNegotiation
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeInitial:
		return "Initial"
	case PacketType0RTT:
		return "0-RTT"
	case PacketTypeHandshake:
		return "Handshake"
	case PacketTypeRetry:
		return "Retry"
	case PacketType1RTT:
		return "1-RTT"
	case PacketTypeVersionNegotiation:
		return "VersionNegotiation"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

const (
	Version1 = 0x00000001

	headerFormLong  = 0x80
	headerFormShort = 0x00
	fixedBit        = 0x40

	longTypeInitial   = 0x00
	longType0RTT      = 0x10
	longTypeHandshake = 0x20
	longTypeRetry     = 0x30

	// MinInitialDatagramSize is the minimum size a client must pad a
	// datagram carrying an Initial packet to (RFC 9000 §14.1).
	MinInitialDatagramSize = 1200

	// RetryIntegrityTagLen is the length of the AEAD tag appended to Retry
	// packets (RFC 9001 §5.8).
	RetryIntegrityTagLen = 16

	// headerProtectionSampleLen is the number of ciphertext bytes sampled
	// to compute the header-protection mask, regardless of the actual
	// packet-number length (RFC 9001 §5.4.2).
	headerProtectionSampleLen = 16
)

// LongHeader carries the fields specific to long-header packets.
type LongHeader struct {
	Type    PacketType
	Version uint32
	DestCID ConnectionID
	SrcCID  ConnectionID

	// Initial only.
	Token []byte

	// Retry only: the token issued to the client and the integrity tag
	// computed over the Retry pseudo-packet.
	RetryToken     []byte
	RetryIntegrity [RetryIntegrityTagLen]byte

	// Length is the varint-encoded length of (packet number + payload),
	// absent for Retry packets.
	Length uint64
}

// ShortHeader carries the fields specific to short-header (1-RTT) packets.
type ShortHeader struct {
	SpinBit   bool
	KeyPhase  bool
	DestCID   ConnectionID
}

// Packet is a parsed QUIC packet with its header still in wire form for the
// long-header case (unprotected up to, but not including, the packet
// number) or fully present for a short header. PacketNumber and
// PacketNumberLen are only meaningful once header protection has been
// removed; Payload holds ciphertext until AEAD removal.
type Packet struct {
	IsLongHeader bool
	Long         LongHeader
	Short        ShortHeader

	PacketNumber    uint64
	PacketNumberLen int // 1..4, 0 if not yet known (still protected)

	Payload []byte

	// VersionNegotiation packets use Long.DestCID/SrcCID and store the
	// offered versions here instead of Payload.
	SupportedVersions []uint32
}

// locatePacketNumberOffset returns the byte offset within data at which the
// (still header-protected) packet-number field begins, without removing
// protection. dcidLen is required for short-header packets, whose DCID
// length is not self-describing on the wire.
func locatePacketNumberOffset(data []byte, dcidLen int) (offset int, isLong bool, err error) {
	if len(data) == 0 {
		return 0, false, ErrPacketTruncated
	}

	first := data[0]
	if first&headerFormLong == 0 {
		// Short header: 1 flags byte + DCID.
		offset = 1 + dcidLen
		if len(data) < offset {
			return 0, false, ErrPacketTruncated
		}
		return offset, false, nil
	}

	if len(data) < 5 {
		return 0, true, ErrPacketTruncated
	}
	off := 1 + 4 // flags + version
	version := binary.BigEndian.Uint32(data[1:5])
	if version == 0 {
		return 0, true, fmt.Errorf("%w: version-negotiation packets carry no packet number", ErrInvalidPacket)
	}

	destLen := int(data[off])
	off++
	off += destLen
	if len(data) < off+1 {
		return 0, true, ErrPacketTruncated
	}
	srcLen := int(data[off])
	off++
	off += srcLen
	if len(data) < off {
		return 0, true, ErrPacketTruncated
	}

	typeField := first & 0x30
	if typeField == longTypeRetry {
		return 0, true, fmt.Errorf("%w: retry packets carry no packet number", ErrInvalidPacket)
	}

	if typeField == longTypeInitial {
		tokenLen, n, err := ParseVarint(data[off:])
		if err != nil {
			return 0, true, err
		}
		off += n + int(tokenLen)
		if len(data) < off {
			return 0, true, ErrPacketTruncated
		}
	}

	_, n, err := ParseVarint(data[off:])
	if err != nil {
		return 0, true, err
	}
	off += n

	if len(data) < off {
		return 0, true, ErrPacketTruncated
	}
	return off, true, nil
}

// headerProtectionSample returns the 16-byte sample used to derive the
// header-protection mask, starting 4 bytes after the packet-number field
// begins (RFC 9001 §5.4.2). If fewer than 16 bytes are available there, the
// packet must be discarded.
func headerProtectionSample(data []byte, pnOffset int) ([]byte, error) {
	sampleOffset := pnOffset + 4
	if sampleOffset+headerProtectionSampleLen > len(data) {
		return nil, ErrPacketTruncated
	}
	return data[sampleOffset : sampleOffset+headerProtectionSampleLen], nil
}

// ParsePacket parses a single QUIC packet from the front of data. For
// short-header packets the caller must supply the local connection-ID
// length (the listener/connection already knows it; it is not on the
// wire). The packet number is returned truncated and unreconstructed: it
// is still header-protected at this point in the real pipeline, but this
// parser is also used on already-unprotected bytes in tests.
func ParsePacket(data []byte, dcidLen int) (*Packet, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrPacketTruncated
	}
	if data[0]&headerFormLong != 0 {
		return parseLongHeaderPacket(data)
	}
	return parseShortHeaderPacket(data, dcidLen)
}

func parseLongHeaderPacket(data []byte) (*Packet, int, error) {
	if len(data) < 5 {
		return nil, 0, ErrPacketTruncated
	}
	first := data[0]
	if first&fixedBit == 0 {
		return nil, 0, ErrInvalidPacket
	}

	offset := 1
	version := binary.BigEndian.Uint32(data[offset:])
	offset += 4

	if version == 0 {
		return parseVersionNegotiationPacket(data)
	}
	if version != Version1 {
		return nil, 0, ErrUnsupportedVersion
	}

	var packetType PacketType
	switch first & 0x30 {
	case longTypeInitial:
		packetType = PacketTypeInitial
	case longType0RTT:
		packetType = PacketType0RTT
	case longTypeHandshake:
		packetType = PacketTypeHandshake
	case longTypeRetry:
		packetType = PacketTypeRetry
	}

	destCID, n, err := parseConnectionID(data[offset:])
	if err != nil {
		return nil, 0, fmt.Errorf("quic: dest conn id: %w", err)
	}
	offset += n

	srcCID, n, err := parseConnectionID(data[offset:])
	if err != nil {
		return nil, 0, fmt.Errorf("quic: src conn id: %w", err)
	}
	offset += n

	lh := LongHeader{Type: packetType, Version: version, DestCID: destCID, SrcCID: srcCID}

	if packetType == PacketTypeRetry {
		if len(data) < offset+RetryIntegrityTagLen {
			return nil, 0, ErrPacketTruncated
		}
		tokenLen := len(data) - offset - RetryIntegrityTagLen
		lh.RetryToken = append([]byte(nil), data[offset:offset+tokenLen]...)
		copy(lh.RetryIntegrity[:], data[offset+tokenLen:])
		return &Packet{IsLongHeader: true, Long: lh}, len(data), nil
	}

	if packetType == PacketTypeInitial {
		tokenLen, n, err := ParseVarint(data[offset:])
		if err != nil {
			return nil, 0, fmt.Errorf("quic: token length: %w", err)
		}
		offset += n
		if uint64(len(data)) < uint64(offset)+tokenLen {
			return nil, 0, ErrPacketTruncated
		}
		lh.Token = append([]byte(nil), data[offset:offset+int(tokenLen)]...)
		offset += int(tokenLen)
	}

	length, n, err := ParseVarint(data[offset:])
	if err != nil {
		return nil, 0, fmt.Errorf("quic: length: %w", err)
	}
	offset += n
	lh.Length = length

	if uint64(len(data)) < uint64(offset)+length {
		return nil, 0, ErrPacketTruncated
	}

	pnLen := int(first&0x03) + 1
	if len(data) < offset+pnLen {
		return nil, 0, ErrPacketTruncated
	}
	pn := uint64(0)
	for i := 0; i < pnLen; i++ {
		pn = pn<<8 | uint64(data[offset+i])
	}
	offset += pnLen

	payloadLen := int(length) - pnLen
	if payloadLen < 0 || offset+payloadLen > len(data) {
		return nil, 0, ErrPacketTruncated
	}
	payload := append([]byte(nil), data[offset:offset+payloadLen]...)
	offset += payloadLen

	return &Packet{
		IsLongHeader:    true,
		Long:            lh,
		PacketNumber:    pn,
		PacketNumberLen: pnLen,
		Payload:         payload,
	}, offset, nil
}

func parseShortHeaderPacket(data []byte, dcidLen int) (*Packet, int, error) {
	if len(data) < 1+dcidLen+1 {
		return nil, 0, ErrPacketTruncated
	}
	first := data[0]
	if first&fixedBit == 0 {
		return nil, 0, ErrInvalidPacket
	}

	offset := 1
	destCID, err := NewConnectionID(data[offset : offset+dcidLen])
	if err != nil {
		return nil, 0, err
	}
	offset += dcidLen

	pnLen := int(first&0x03) + 1
	if len(data) < offset+pnLen {
		return nil, 0, ErrPacketTruncated
	}
	pn := uint64(0)
	for i := 0; i < pnLen; i++ {
		pn = pn<<8 | uint64(data[offset+i])
	}
	offset += pnLen

	payload := append([]byte(nil), data[offset:]...)

	return &Packet{
		IsLongHeader: false,
		Short: ShortHeader{
			SpinBit:  first&0x20 != 0,
			KeyPhase: first&0x04 != 0,
			DestCID:  destCID,
		},
		PacketNumber:    pn,
		PacketNumberLen: pnLen,
		Payload:         payload,
	}, len(data), nil
}

func parseVersionNegotiationPacket(data []byte) (*Packet, int, error) {
	offset := 5 // flags + zero version

	destCID, n, err := parseConnectionID(data[offset:])
	if err != nil {
		return nil, 0, err
	}
	offset += n

	srcCID, n, err := parseConnectionID(data[offset:])
	if err != nil {
		return nil, 0, err
	}
	offset += n

	var versions []uint32
	for offset+4 <= len(data) {
		versions = append(versions, binary.BigEndian.Uint32(data[offset:]))
		offset += 4
	}

	return &Packet{
		IsLongHeader: true,
		Long: LongHeader{
			Type:    PacketTypeVersionNegotiation,
			Version: 0,
			DestCID: destCID,
			SrcCID:  srcCID,
		},
		SupportedVersions: versions,
	}, offset, nil
}

// AppendTo serializes p, appending it to buf.
func (p *Packet) AppendTo(buf []byte) []byte {
	if p.Long.Type == PacketTypeVersionNegotiation {
		return p.appendVersionNegotiation(buf)
	}
	if p.IsLongHeader {
		return p.appendLongHeader(buf)
	}
	return p.appendShortHeader(buf)
}

func (p *Packet) appendLongHeader(buf []byte) []byte {
	first := byte(headerFormLong | fixedBit)
	switch p.Long.Type {
	case PacketTypeInitial:
		first |= longTypeInitial
	case PacketType0RTT:
		first |= longType0RTT
	case PacketTypeHandshake:
		first |= longTypeHandshake
	case PacketTypeRetry:
		first |= longTypeRetry
	}
	if p.Long.Type != PacketTypeRetry {
		first |= byte(p.PacketNumberLen - 1)
	}
	buf = append(buf, first)

	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], p.Long.Version)
	buf = append(buf, verBuf[:]...)

	buf = appendConnectionID(buf, p.Long.DestCID)
	buf = appendConnectionID(buf, p.Long.SrcCID)

	if p.Long.Type == PacketTypeRetry {
		buf = append(buf, p.Long.RetryToken...)
		buf = append(buf, p.Long.RetryIntegrity[:]...)
		return buf
	}

	if p.Long.Type == PacketTypeInitial {
		buf, _ = AppendVarint(buf, uint64(len(p.Long.Token)))
		buf = append(buf, p.Long.Token...)
	}

	payloadLen := uint64(p.PacketNumberLen + len(p.Payload))
	buf, _ = AppendVarint(buf, payloadLen)

	for i := p.PacketNumberLen - 1; i >= 0; i-- {
		buf = append(buf, byte(p.PacketNumber>>(uint(i)*8)))
	}
	return append(buf, p.Payload...)
}

func (p *Packet) appendShortHeader(buf []byte) []byte {
	first := byte(fixedBit)
	if p.Short.SpinBit {
		first |= 0x20
	}
	if p.Short.KeyPhase {
		first |= 0x04
	}
	first |= byte(p.PacketNumberLen - 1)
	buf = append(buf, first)
	buf = append(buf, p.Short.DestCID.Bytes()...)
	for i := p.PacketNumberLen - 1; i >= 0; i-- {
		buf = append(buf, byte(p.PacketNumber>>(uint(i)*8)))
	}
	return append(buf, p.Payload...)
}

func (p *Packet) appendVersionNegotiation(buf []byte) []byte {
	buf = append(buf, headerFormLong|fixedBit)
	buf = append(buf, 0, 0, 0, 0)
	buf = appendConnectionID(buf, p.Long.DestCID)
	buf = appendConnectionID(buf, p.Long.SrcCID)
	for _, v := range p.SupportedVersions {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	return buf
}

// EncodedPacketNumberLen returns the smallest packet-number encoding length
// k in {1,2,3,4} such that the receiver can unambiguously reconstruct pn
// from largestAcked ("truncated length selection for sending",
// RFC 9000 §17.1's sizing rule restated in terms of unacked count U).
func EncodedPacketNumberLen(pn uint64, largestAcked int64) int {
	var unacked uint64
	if largestAcked < 0 {
		unacked = pn + 1
	} else {
		unacked = pn - uint64(largestAcked)
	}
	for k := 1; k <= 4; k++ {
		if 2*unacked < uint64(1)<<(8*uint(k)) {
			return k
		}
	}
	return 4
}

// DecodePacketNumber reconstructs a full packet number from its truncated
// on-the-wire form, given the largest packet number received so far on this
// packet-number space (RFC 9000 Appendix A.3).
func DecodePacketNumber(largestReceived int64, truncated uint64, pnLen int) uint64 {
	nbits := uint(pnLen) * 8
	win := uint64(1) << nbits
	halfWin := win / 2

	var expected uint64
	if largestReceived < 0 {
		expected = 0
	} else {
		expected = uint64(largestReceived) + 1
	}

	candidate := (expected &^ (win - 1)) | truncated

	switch {
	case candidate+halfWin <= expected && candidate+win < (uint64(1)<<62):
		return candidate + win
	case candidate > expected+halfWin && candidate >= win:
		return candidate - win
	default:
		return candidate
	}
}
