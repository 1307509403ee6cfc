package quic

import (
	"bytes"
	"crypto/tls"
	"testing"
)

func TestCryptoReorderBufferInOrder(t *testing.T) {
	b := newCryptoReorderBuffer()

	out := b.admit(0, []byte("hello "))
	if !bytes.Equal(out, []byte("hello ")) {
		t.Fatalf("admit(0) = %q, want %q", out, "hello ")
	}
	out = b.admit(6, []byte("world"))
	if !bytes.Equal(out, []byte("world")) {
		t.Fatalf("admit(6) = %q, want %q", out, "world")
	}
}

func TestCryptoReorderBufferOutOfOrder(t *testing.T) {
	b := newCryptoReorderBuffer()

	if out := b.admit(6, []byte("world")); out != nil {
		t.Fatalf("admit(6) before offset 0 arrives = %q, want nil", out)
	}
	out := b.admit(0, []byte("hello "))
	if !bytes.Equal(out, []byte("hello world")) {
		t.Fatalf("admit(0) after a buffered gap-filling frame = %q, want %q", out, "hello world")
	}
}

func TestCryptoReorderBufferDuplicateIgnored(t *testing.T) {
	b := newCryptoReorderBuffer()
	b.admit(0, []byte("hello"))

	if out := b.admit(0, []byte("hello")); out != nil {
		t.Fatalf("admit() of a fully-duplicate frame = %q, want nil", out)
	}
}

func TestCryptoReorderBufferPartialOverlap(t *testing.T) {
	b := newCryptoReorderBuffer()
	b.admit(0, []byte("hello"))

	out := b.admit(3, []byte("lo world"))
	if !bytes.Equal(out, []byte(" world")) {
		t.Fatalf("admit() of a partially-overlapping frame = %q, want %q", out, " world")
	}
}

func TestEncryptionLevelRoundTripsThroughTLSMapping(t *testing.T) {
	levels := []EncryptionLevel{
		EncryptionLevelInitial,
		EncryptionLevelEarlyData,
		EncryptionLevelHandshake,
		EncryptionLevelApplication,
	}
	for _, level := range levels {
		if got := quicEncryptionLevel(tlsEncryptionLevel(level)); got != level {
			t.Errorf("round trip of %v = %v", level, got)
		}
	}
}

func TestTLSConfigClonedToTLS13Only(t *testing.T) {
	c := &Connection{}
	base := &tls.Config{}
	cfg := c.tlsConfig(base)

	if cfg == base {
		t.Fatalf("tlsConfig() returned the base config instead of a clone")
	}
	if cfg.MinVersion != tls.VersionTLS13 || cfg.MaxVersion != tls.VersionTLS13 {
		t.Fatalf("tlsConfig() did not pin TLS 1.3")
	}
	if len(cfg.NextProtos) == 0 {
		t.Fatalf("tlsConfig() left NextProtos empty")
	}
}

func TestNewTLSHandlerRejectsNilConfig(t *testing.T) {
	c := newTestConnection(t, true)
	if _, err := NewTLSHandler(c, nil, true, nil); err == nil {
		t.Fatalf("NewTLSHandler() with nil config should fail")
	}
}

func TestNewTLSHandlerGeneratesInitialKeys(t *testing.T) {
	c := newTestConnection(t, true)
	cfg := &tls.Config{NextProtos: []string{"h3"}}

	th, err := NewTLSHandler(c, cfg, true, nil)
	if err != nil {
		t.Fatalf("NewTLSHandler() error = %v", err)
	}
	read, write := th.Keys(EncryptionLevelInitial)
	if read == nil || write == nil {
		t.Fatalf("Keys(Initial) = (%v, %v), want both non-nil immediately after construction", read, write)
	}
}
