package quic

import (
	"bytes"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		want  []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"42", 42, []byte{0x2A}},
		{"1-byte max", 63, []byte{0x3F}},
		{"2-byte min", 64, []byte{0x40, 0x40}},
		{"15293", 15293, []byte{0x7b, 0xbd}},
		{"2-byte max", 16383, []byte{0x7F, 0xFF}},
		{"4-byte min", 16384, []byte{0x80, 0x00, 0x40, 0x00}},
		{"494878333", 494878333, []byte{0x9d, 0x7f, 0x3e, 0x7d}},
		{"4-byte max", 1<<30 - 1, []byte{0xBF, 0xFF, 0xFF, 0xFF}},
		{"8-byte min", 1 << 30, []byte{0xC0, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00}},
		{"151288809941952652", 151288809941952652, []byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}},
		{"8-byte max", 1<<62 - 1, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 8)
			n := PutVarint(buf, tt.value)
			if n != len(tt.want) {
				t.Fatalf("PutVarint() length = %d, want %d", n, len(tt.want))
			}
			if !bytes.Equal(buf[:n], tt.want) {
				t.Fatalf("PutVarint() = %x, want %x", buf[:n], tt.want)
			}

			appended, err := AppendVarint(nil, tt.value)
			if err != nil {
				t.Fatalf("AppendVarint() error = %v", err)
			}
			if !bytes.Equal(appended, tt.want) {
				t.Fatalf("AppendVarint() = %x, want %x", appended, tt.want)
			}

			got, consumed, err := ParseVarint(tt.want)
			if err != nil {
				t.Fatalf("ParseVarint() error = %v", err)
			}
			if consumed != len(tt.want) {
				t.Fatalf("ParseVarint() consumed = %d, want %d", consumed, len(tt.want))
			}
			if got != tt.value {
				t.Fatalf("ParseVarint() = %d, want %d", got, tt.value)
			}

			if got := VarintLen(tt.value); got != len(tt.want) {
				t.Fatalf("VarintLen() = %d, want %d", got, len(tt.want))
			}
		})
	}
}

func TestVarintAcceptsNonMinimalEncoding(t *testing.T) {
	// RFC 9000 does not require the decoder to reject a longer-than-minimal
	// length prefix; only the encoder must pick the shortest form.
	data := []byte{0x40, 0x01} // 2-byte encoding of the value 1
	got, n, err := ParseVarint(data)
	if err != nil {
		t.Fatalf("ParseVarint() error = %v", err)
	}
	if n != 2 || got != 1 {
		t.Fatalf("ParseVarint() = (%d, %d), want (1, 2)", got, n)
	}
}

func TestVarintTruncated(t *testing.T) {
	cases := [][]byte{
		{},
		{0x40},       // 2-byte prefix, only 1 byte present
		{0x80, 0x00}, // 4-byte prefix, only 2 bytes present
		{0xC0},       // 8-byte prefix, only 1 byte present
	}
	for _, data := range cases {
		if _, _, err := ParseVarint(data); err != ErrVarintTruncated {
			t.Fatalf("ParseVarint(%x) error = %v, want ErrVarintTruncated", data, err)
		}
	}
}

func TestVarintOverflow(t *testing.T) {
	if _, err := AppendVarint(nil, 1<<62); err != ErrVarintOverflow {
		t.Fatalf("AppendVarint(2^62) error = %v, want ErrVarintOverflow", err)
	}
	if n := PutVarint(make([]byte, 8), 1<<62); n != 0 {
		t.Fatalf("PutVarint(2^62) = %d, want 0", n)
	}
	if n := VarintLen(1 << 62); n != -1 {
		t.Fatalf("VarintLen(2^62) = %d, want -1", n)
	}
}
