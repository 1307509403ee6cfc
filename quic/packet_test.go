package quic

import (
	"bytes"
	"testing"
)

func TestLongHeaderRoundTrip(t *testing.T) {
	dest, _ := NewConnectionID([]byte{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08})
	src, _ := NewConnectionID([]byte{0x01, 0x02, 0x03, 0x04})

	p := &Packet{
		IsLongHeader: true,
		Long: LongHeader{
			Type:    PacketTypeInitial,
			Version: Version1,
			DestCID: dest,
			SrcCID:  src,
			Token:   []byte{0xaa, 0xbb},
		},
		PacketNumber:    2,
		PacketNumberLen: 2,
		Payload:         bytes.Repeat([]byte{0x42}, 32),
	}

	buf := p.AppendTo(nil)

	got, n, err := ParsePacket(buf, 0)
	if err != nil {
		t.Fatalf("ParsePacket() error = %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed = %d, want %d", n, len(buf))
	}
	if !got.IsLongHeader {
		t.Fatalf("IsLongHeader = false")
	}
	if got.Long.Type != PacketTypeInitial {
		t.Fatalf("Type = %v, want Initial", got.Long.Type)
	}
	if !got.Long.DestCID.Equal(dest) || !got.Long.SrcCID.Equal(src) {
		t.Fatalf("connection IDs did not round-trip")
	}
	if !bytes.Equal(got.Long.Token, p.Long.Token) {
		t.Fatalf("Token = %x, want %x", got.Long.Token, p.Long.Token)
	}
	if got.PacketNumber != 2 || got.PacketNumberLen != 2 {
		t.Fatalf("packet number = (%d,%d), want (2,2)", got.PacketNumber, got.PacketNumberLen)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("Payload mismatch")
	}
}

func TestShortHeaderRoundTrip(t *testing.T) {
	dest, _ := NewConnectionID([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	p := &Packet{
		IsLongHeader: false,
		Short: ShortHeader{
			SpinBit:  true,
			KeyPhase: true,
			DestCID:  dest,
		},
		PacketNumber:    513,
		PacketNumberLen: 2,
		Payload:         []byte{0x01, 0x02, 0x03},
	}

	buf := p.AppendTo(nil)
	got, n, err := ParsePacket(buf, dest.Len())
	if err != nil {
		t.Fatalf("ParsePacket() error = %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed = %d, want %d", n, len(buf))
	}
	if got.IsLongHeader {
		t.Fatalf("IsLongHeader = true")
	}
	if !got.Short.SpinBit || !got.Short.KeyPhase {
		t.Fatalf("spin/key-phase bits lost in round trip")
	}
	if !got.Short.DestCID.Equal(dest) {
		t.Fatalf("DestCID mismatch")
	}
	if got.PacketNumber != 513 {
		t.Fatalf("PacketNumber = %d, want 513", got.PacketNumber)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("Payload mismatch")
	}
}

func TestVersionNegotiationRoundTrip(t *testing.T) {
	dest, _ := NewConnectionID([]byte{1, 2, 3})
	src, _ := NewConnectionID([]byte{4, 5, 6})
	p := &Packet{
		IsLongHeader: true,
		Long: LongHeader{
			Type:    PacketTypeVersionNegotiation,
			DestCID: dest,
			SrcCID:  src,
		},
		SupportedVersions: []uint32{Version1, 0xff00001d},
	}

	buf := p.AppendTo(nil)
	got, _, err := ParsePacket(buf, 0)
	if err != nil {
		t.Fatalf("ParsePacket() error = %v", err)
	}
	if len(got.SupportedVersions) != 2 || got.SupportedVersions[0] != Version1 {
		t.Fatalf("SupportedVersions = %v", got.SupportedVersions)
	}
}

func TestRetryRoundTrip(t *testing.T) {
	dest, _ := NewConnectionID([]byte{1, 2, 3, 4})
	src, _ := NewConnectionID([]byte{5, 6, 7, 8})
	p := &Packet{
		IsLongHeader: true,
		Long: LongHeader{
			Type:       PacketTypeRetry,
			Version:    Version1,
			DestCID:    dest,
			SrcCID:     src,
			RetryToken: []byte("retry-token"),
		},
	}
	copy(p.Long.RetryIntegrity[:], bytes.Repeat([]byte{0x7a}, RetryIntegrityTagLen))

	buf := p.AppendTo(nil)
	got, _, err := ParsePacket(buf, 0)
	if err != nil {
		t.Fatalf("ParsePacket() error = %v", err)
	}
	if got.Long.Type != PacketTypeRetry {
		t.Fatalf("Type = %v, want Retry", got.Long.Type)
	}
	if !bytes.Equal(got.Long.RetryToken, p.Long.RetryToken) {
		t.Fatalf("RetryToken mismatch")
	}
	if got.Long.RetryIntegrity != p.Long.RetryIntegrity {
		t.Fatalf("RetryIntegrity mismatch")
	}
}

func TestLocatePacketNumberOffsetShort(t *testing.T) {
	dest, _ := NewConnectionID([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	p := &Packet{
		Short:           ShortHeader{DestCID: dest},
		PacketNumberLen: 1,
		Payload:         bytes.Repeat([]byte{0}, 20),
	}
	buf := p.AppendTo(nil)

	off, isLong, err := locatePacketNumberOffset(buf, dest.Len())
	if err != nil {
		t.Fatalf("locatePacketNumberOffset() error = %v", err)
	}
	if isLong {
		t.Fatalf("isLong = true, want false")
	}
	if off != 1+dest.Len() {
		t.Fatalf("offset = %d, want %d", off, 1+dest.Len())
	}
}

func TestLocatePacketNumberOffsetLongInitial(t *testing.T) {
	dest, _ := NewConnectionID([]byte{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08})
	src, _ := NewConnectionID(nil)
	p := &Packet{
		IsLongHeader: true,
		Long: LongHeader{
			Type:    PacketTypeInitial,
			Version: Version1,
			DestCID: dest,
			SrcCID:  src,
			Token:   []byte{0x01, 0x02, 0x03},
		},
		PacketNumberLen: 2,
		Payload:         bytes.Repeat([]byte{0}, 40),
	}
	buf := p.AppendTo(nil)

	off, isLong, err := locatePacketNumberOffset(buf, 0)
	if err != nil {
		t.Fatalf("locatePacketNumberOffset() error = %v", err)
	}
	if !isLong {
		t.Fatalf("isLong = false, want true")
	}

	reparsed, _, err := ParsePacket(buf, 0)
	if err != nil {
		t.Fatalf("ParsePacket() error = %v", err)
	}
	// The byte at off..off+pnLen must equal the packet number we encoded.
	pnLen := reparsed.PacketNumberLen
	var pn uint64
	for i := 0; i < pnLen; i++ {
		pn = pn<<8 | uint64(buf[off+i])
	}
	if pn != reparsed.PacketNumber {
		t.Fatalf("byte at computed offset = %d, want packet number %d", pn, reparsed.PacketNumber)
	}
}

func TestLocatePacketNumberOffsetRejectsRetryAndVN(t *testing.T) {
	dest, _ := NewConnectionID([]byte{1, 2, 3})
	src, _ := NewConnectionID([]byte{4, 5, 6})

	retry := &Packet{
		IsLongHeader: true,
		Long:         LongHeader{Type: PacketTypeRetry, Version: Version1, DestCID: dest, SrcCID: src},
	}
	buf := retry.AppendTo(nil)
	if _, _, err := locatePacketNumberOffset(buf, 0); err == nil {
		t.Fatalf("expected error locating packet number offset in a Retry packet")
	}

	vn := &Packet{
		IsLongHeader:      true,
		Long:              LongHeader{Type: PacketTypeVersionNegotiation, DestCID: dest, SrcCID: src},
		SupportedVersions: []uint32{Version1},
	}
	buf = vn.AppendTo(nil)
	if _, _, err := locatePacketNumberOffset(buf, 0); err == nil {
		t.Fatalf("expected error locating packet number offset in a version-negotiation packet")
	}
}

func TestHeaderProtectionSampleTruncated(t *testing.T) {
	short := make([]byte, 10)
	if _, err := headerProtectionSample(short, 3); err != ErrPacketTruncated {
		t.Fatalf("headerProtectionSample() error = %v, want ErrPacketTruncated", err)
	}
}

func TestEncodedPacketNumberLen(t *testing.T) {
	tests := []struct {
		pn           uint64
		largestAcked int64
		want         int
	}{
		{0, -1, 1},
		{1, -1, 1},
		{0xa82f9b32, 0xa82f30ea, 2},
		{0xabe8bc, 0xabe8b8, 1},
	}
	for _, tt := range tests {
		if got := EncodedPacketNumberLen(tt.pn, tt.largestAcked); got != tt.want {
			t.Fatalf("EncodedPacketNumberLen(%d, %d) = %d, want %d", tt.pn, tt.largestAcked, got, tt.want)
		}
	}
}

func TestDecodePacketNumber(t *testing.T) {
	// RFC 9000 Appendix A.3 worked example.
	largest := int64(0xa82f30ea)
	full := DecodePacketNumber(largest, 0x9b32, 2)
	if full != 0xa82f9b32 {
		t.Fatalf("DecodePacketNumber() = %#x, want 0xa82f9b32", full)
	}
}
