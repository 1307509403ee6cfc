package quic

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// MaxConnectionIDLen is the largest connection ID RFC 9000 allows (§17.2).
const MaxConnectionIDLen = 20

// ErrConnectionIDTooLong is returned when a connection ID length byte on the
// wire exceeds MaxConnectionIDLen.
var ErrConnectionIDTooLong = errors.New("quic: connection ID exceeds 20 bytes")

// ConnectionID is an immutable, opaque 0..20 byte identifier (RFC 9000 §5.1).
// It is a value type: two ConnectionIDs compare equal iff their lengths and
// bytes match. The zero value is the distinguished empty connection ID.
type ConnectionID struct {
	b [MaxConnectionIDLen]byte
	n uint8
}

// NewConnectionID copies b (which must be 0..20 bytes) into a ConnectionID.
func NewConnectionID(b []byte) (ConnectionID, error) {
	var cid ConnectionID
	if len(b) > MaxConnectionIDLen {
		return cid, ErrConnectionIDTooLong
	}
	cid.n = uint8(len(b))
	copy(cid.b[:], b)
	return cid, nil
}

// GenerateConnectionID returns a random connection ID of the given length.
func GenerateConnectionID(length int) (ConnectionID, error) {
	var cid ConnectionID
	if length < 0 || length > MaxConnectionIDLen {
		return cid, ErrConnectionIDTooLong
	}
	cid.n = uint8(length)
	if length == 0 {
		return cid, nil
	}
	if _, err := rand.Read(cid.b[:length]); err != nil {
		return ConnectionID{}, err
	}
	return cid, nil
}

// Len returns the length of the connection ID in bytes.
func (c ConnectionID) Len() int { return int(c.n) }

// IsEmpty reports whether the connection ID has zero length.
func (c ConnectionID) IsEmpty() bool { return c.n == 0 }

// Bytes returns the connection ID's bytes. The caller must not mutate the
// returned slice's backing array beyond its length.
func (c ConnectionID) Bytes() []byte {
	return append([]byte(nil), c.b[:c.n]...)
}

// Equal reports whether c and other identify the same connection ID.
func (c ConnectionID) Equal(other ConnectionID) bool {
	if c.n != other.n {
		return false
	}
	return c.b == other.b
}

// String renders the connection ID as lowercase hex.
func (c ConnectionID) String() string {
	return hex.EncodeToString(c.b[:c.n])
}

// parseConnectionID reads a length-prefixed connection ID (the form used
// inside long-header packets: a 1-byte length followed by that many bytes).
// Returns (cid, bytesConsumed, error).
func parseConnectionID(data []byte) (ConnectionID, int, error) {
	if len(data) == 0 {
		return ConnectionID{}, 0, ErrVarintTruncated
	}
	cidLen := int(data[0])
	if cidLen > MaxConnectionIDLen {
		return ConnectionID{}, 0, ErrConnectionIDTooLong
	}
	if len(data) < 1+cidLen {
		return ConnectionID{}, 0, ErrVarintTruncated
	}
	cid, err := NewConnectionID(data[1 : 1+cidLen])
	if err != nil {
		return ConnectionID{}, 0, err
	}
	return cid, 1 + cidLen, nil
}

// appendConnectionID appends a length-prefixed connection ID to buf.
func appendConnectionID(buf []byte, cid ConnectionID) []byte {
	buf = append(buf, byte(cid.n))
	return append(buf, cid.b[:cid.n]...)
}
