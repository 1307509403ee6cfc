package quic

import "fmt"

// TransportParameterExtensionType is the TLS extension codepoint that
// carries the QUIC transport parameters (RFC 9000 §7.4).
const TransportParameterExtensionType = 0x39

// Transport parameter IDs (RFC 9000 §18.2).
const (
	paramOriginalDestinationConnectionID uint64 = 0x00
	paramMaxIdleTimeout                  uint64 = 0x01
	paramStatelessResetToken              uint64 = 0x02
	paramMaxUDPPayloadSize                uint64 = 0x03
	paramInitialMaxData                   uint64 = 0x04
	paramInitialMaxStreamDataBidiLocal     uint64 = 0x05
	paramInitialMaxStreamDataBidiRemote    uint64 = 0x06
	paramInitialMaxStreamDataUni           uint64 = 0x07
	paramInitialMaxStreamsBidi             uint64 = 0x08
	paramInitialMaxStreamsUni              uint64 = 0x09
	paramAckDelayExponent                  uint64 = 0x0a
	paramMaxAckDelay                       uint64 = 0x0b
	paramDisableActiveMigration            uint64 = 0x0c
	paramPreferredAddress                  uint64 = 0x0d
	paramActiveConnectionIDLimit           uint64 = 0x0e
	paramInitialSourceConnectionID         uint64 = 0x0f
	paramRetrySourceConnectionID           uint64 = 0x10
	paramMaxDatagramFrameSize              uint64 = 0x20
)

// PreferredAddress carries the RFC 9000 §18.2 preferred_address parameter.
type PreferredAddress struct {
	IPv4                [4]byte
	IPv4Port            uint16
	IPv6                [16]byte
	IPv6Port            uint16
	ConnectionID        ConnectionID
	StatelessResetToken [16]byte
}

// TransportParameters is the set of QUIC transport parameters exchanged as
// a TLS extension during the handshake (RFC 9000 §18.2). Every
// field is optional on the wire; zero values here reflect the defined
// defaults except where a presence flag is needed to distinguish "absent"
// from "explicitly zero".
type TransportParameters struct {
	OriginalDestinationConnectionID ConnectionID
	HasOriginalDestinationConnID    bool

	MaxIdleTimeout uint64 // milliseconds, 0 = disabled

	StatelessResetToken    [16]byte
	HasStatelessResetToken bool // server-only

	MaxUDPPayloadSize uint64 // default 65527

	InitialMaxData                uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi          uint64
	InitialMaxStreamsUni           uint64

	AckDelayExponent uint64 // default 3
	MaxAckDelay      uint64 // default 25ms

	DisableActiveMigration bool

	PreferredAddress    *PreferredAddress // server-only
	ActiveConnIDLimit   uint64            // default 2, min 2

	InitialSourceConnectionID ConnectionID
	HasInitialSourceConnID    bool

	RetrySourceConnectionID ConnectionID // server-only
	HasRetrySourceConnID    bool

	MaxDatagramFrameSize    uint64
	HasMaxDatagramFrameSize bool
}

// DefaultTransportParameters returns the RFC 9000 §18.2 default values for
// parameters that are not required to be sent explicitly.
func DefaultTransportParameters() TransportParameters {
	return TransportParameters{
		MaxUDPPayloadSize: 65527,
		AckDelayExponent:  3,
		MaxAckDelay:       25,
		ActiveConnIDLimit: 2,
	}
}

// Encode serializes p as the sequence of (id, length, value) varint triples
// that make up the transport-parameters TLS extension body.
func (p *TransportParameters) Encode() ([]byte, error) {
	var buf []byte
	var err error

	appendVarintParam := func(id, value uint64) {
		var vbuf []byte
		vbuf, err = AppendVarint(vbuf, value)
		if err != nil {
			return
		}
		buf, err = appendParam(buf, id, vbuf)
	}
	appendBytesParam := func(id uint64, value []byte) {
		buf, err = appendParam(buf, id, value)
	}
	appendFlagParam := func(id uint64) {
		buf, err = appendParam(buf, id, nil)
	}

	if p.HasOriginalDestinationConnID {
		appendBytesParam(paramOriginalDestinationConnectionID, p.OriginalDestinationConnectionID.Bytes())
	}
	if p.MaxIdleTimeout > 0 {
		appendVarintParam(paramMaxIdleTimeout, p.MaxIdleTimeout)
	}
	if p.HasStatelessResetToken {
		appendBytesParam(paramStatelessResetToken, p.StatelessResetToken[:])
	}
	if p.MaxUDPPayloadSize > 0 {
		appendVarintParam(paramMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	}
	if p.InitialMaxData > 0 {
		appendVarintParam(paramInitialMaxData, p.InitialMaxData)
	}
	if p.InitialMaxStreamDataBidiLocal > 0 {
		appendVarintParam(paramInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	}
	if p.InitialMaxStreamDataBidiRemote > 0 {
		appendVarintParam(paramInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	}
	if p.InitialMaxStreamDataUni > 0 {
		appendVarintParam(paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	}
	if p.InitialMaxStreamsBidi > 0 {
		appendVarintParam(paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	}
	if p.InitialMaxStreamsUni > 0 {
		appendVarintParam(paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	}
	if p.AckDelayExponent != 3 {
		appendVarintParam(paramAckDelayExponent, p.AckDelayExponent)
	}
	if p.MaxAckDelay != 25 {
		appendVarintParam(paramMaxAckDelay, p.MaxAckDelay)
	}
	if p.DisableActiveMigration {
		appendFlagParam(paramDisableActiveMigration)
	}
	if p.ActiveConnIDLimit != 0 && p.ActiveConnIDLimit != 2 {
		appendVarintParam(paramActiveConnectionIDLimit, p.ActiveConnIDLimit)
	}
	if p.HasInitialSourceConnID {
		appendBytesParam(paramInitialSourceConnectionID, p.InitialSourceConnectionID.Bytes())
	}
	if p.HasRetrySourceConnID {
		appendBytesParam(paramRetrySourceConnectionID, p.RetrySourceConnectionID.Bytes())
	}
	if p.HasMaxDatagramFrameSize {
		appendVarintParam(paramMaxDatagramFrameSize, p.MaxDatagramFrameSize)
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func appendParam(buf []byte, id uint64, value []byte) ([]byte, error) {
	var err error
	buf, err = AppendVarint(buf, id)
	if err != nil {
		return buf, err
	}
	buf, err = AppendVarint(buf, uint64(len(value)))
	if err != nil {
		return buf, err
	}
	return append(buf, value...), nil
}

// DecodeTransportParameters parses the TLS extension body produced by
// Encode. isFromClient gates the server-only-parameter invariant: a
// server-only parameter arriving from a client is a transport error.
func DecodeTransportParameters(data []byte, isFromClient bool) (*TransportParameters, error) {
	p := DefaultTransportParameters()

	offset := 0
	for offset < len(data) {
		id, n, err := ParseVarint(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("quic: transport parameter id: %w", err)
		}
		offset += n

		length, n, err := ParseVarint(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("quic: transport parameter length: %w", err)
		}
		offset += n

		if uint64(len(data)) < uint64(offset)+length {
			return nil, ErrPacketTruncated
		}
		value := data[offset : offset+int(length)]
		offset += int(length)

		if err := p.applyParam(id, value, isFromClient); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func serverOnly(isFromClient bool, name string) error {
	if isFromClient {
		return NewTransportError(ErrTransportParameterErr, fmt.Sprintf("server-only transport parameter %s from client", name), nil)
	}
	return nil
}

func (p *TransportParameters) applyParam(id uint64, value []byte, isFromClient bool) error {
	asVarint := func() (uint64, error) {
		v, n, err := ParseVarint(value)
		if err != nil || n != len(value) {
			return 0, NewTransportError(ErrTransportParameterErr, "malformed varint transport parameter", err)
		}
		return v, nil
	}

	switch id {
	case paramOriginalDestinationConnectionID:
		if err := serverOnly(isFromClient, "original_destination_connection_id"); err != nil {
			return err
		}
		cid, err := NewConnectionID(value)
		if err != nil {
			return err
		}
		p.OriginalDestinationConnectionID = cid
		p.HasOriginalDestinationConnID = true

	case paramMaxIdleTimeout:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.MaxIdleTimeout = v

	case paramStatelessResetToken:
		if err := serverOnly(isFromClient, "stateless_reset_token"); err != nil {
			return err
		}
		if len(value) != 16 {
			return NewTransportError(ErrTransportParameterErr, "stateless_reset_token must be 16 bytes", nil)
		}
		copy(p.StatelessResetToken[:], value)
		p.HasStatelessResetToken = true

	case paramMaxUDPPayloadSize:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.MaxUDPPayloadSize = v

	case paramInitialMaxData:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxData = v

	case paramInitialMaxStreamDataBidiLocal:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataBidiLocal = v

	case paramInitialMaxStreamDataBidiRemote:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataBidiRemote = v

	case paramInitialMaxStreamDataUni:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataUni = v

	case paramInitialMaxStreamsBidi:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamsBidi = v

	case paramInitialMaxStreamsUni:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamsUni = v

	case paramAckDelayExponent:
		v, err := asVarint()
		if err != nil {
			return err
		}
		if v > 20 {
			return NewTransportError(ErrTransportParameterErr, "ack_delay_exponent exceeds 20", nil)
		}
		p.AckDelayExponent = v

	case paramMaxAckDelay:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.MaxAckDelay = v

	case paramDisableActiveMigration:
		p.DisableActiveMigration = true

	case paramPreferredAddress:
		if err := serverOnly(isFromClient, "preferred_address"); err != nil {
			return err
		}
		pa, err := decodePreferredAddress(value)
		if err != nil {
			return err
		}
		p.PreferredAddress = pa

	case paramActiveConnectionIDLimit:
		v, err := asVarint()
		if err != nil {
			return err
		}
		if v < 2 {
			return NewTransportError(ErrTransportParameterErr, "active_connection_id_limit below minimum of 2", nil)
		}
		p.ActiveConnIDLimit = v

	case paramInitialSourceConnectionID:
		cid, err := NewConnectionID(value)
		if err != nil {
			return err
		}
		p.InitialSourceConnectionID = cid
		p.HasInitialSourceConnID = true

	case paramRetrySourceConnectionID:
		if err := serverOnly(isFromClient, "retry_source_connection_id"); err != nil {
			return err
		}
		cid, err := NewConnectionID(value)
		if err != nil {
			return err
		}
		p.RetrySourceConnectionID = cid
		p.HasRetrySourceConnID = true

	case paramMaxDatagramFrameSize:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.MaxDatagramFrameSize = v
		p.HasMaxDatagramFrameSize = true

	default:
		// Unknown parameter IDs are ignored for forward compatibility
		// (RFC 9000 §7.4.2).
	}
	return nil
}

func decodePreferredAddress(value []byte) (*PreferredAddress, error) {
	const minLen = 4 + 2 + 16 + 2 + 1
	if len(value) < minLen {
		return nil, NewTransportError(ErrTransportParameterErr, "preferred_address truncated", nil)
	}
	pa := &PreferredAddress{}
	copy(pa.IPv4[:], value[0:4])
	pa.IPv4Port = uint16(value[4])<<8 | uint16(value[5])
	copy(pa.IPv6[:], value[6:22])
	pa.IPv6Port = uint16(value[22])<<8 | uint16(value[23])

	cidLen := int(value[24])
	offset := 25
	if len(value) < offset+cidLen+16 {
		return nil, NewTransportError(ErrTransportParameterErr, "preferred_address truncated", nil)
	}
	cid, err := NewConnectionID(value[offset : offset+cidLen])
	if err != nil {
		return nil, err
	}
	pa.ConnectionID = cid
	offset += cidLen
	copy(pa.StatelessResetToken[:], value[offset:offset+16])
	return pa, nil
}
