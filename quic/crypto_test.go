package quic

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex.DecodeString(%q) error = %v", s, err)
	}
	return b
}

// TestInitialKeysRFC9001Vectors checks the client Initial key derivation
// against the worked example in RFC 9001 Appendix A.1.
func TestInitialKeysRFC9001Vectors(t *testing.T) {
	dcid, err := NewConnectionID(mustHex(t, "8394c8f03e515708"))
	if err != nil {
		t.Fatalf("NewConnectionID() error = %v", err)
	}

	client, _, err := NewInitialKeySet(dcid, true)
	if err != nil {
		t.Fatalf("NewInitialKeySet() error = %v", err)
	}

	wantKey := mustHex(t, "1f369613dd76d5467730efcbe3b1a22d")
	wantIV := mustHex(t, "fa044b2f42a3fd3b46fb255c")
	wantHP := mustHex(t, "9f50449e04a0e810283a1e9933adedd2")

	if !bytes.Equal(client.aeadKey, wantKey) {
		t.Fatalf("client key = %x, want %x", client.aeadKey, wantKey)
	}
	if !bytes.Equal(client.iv, wantIV) {
		t.Fatalf("client iv = %x, want %x", client.iv, wantIV)
	}
	if !bytes.Equal(client.hp, wantHP) {
		t.Fatalf("client hp = %x, want %x", client.hp, wantHP)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	dcid, _ := NewConnectionID(mustHex(t, "8394c8f03e515708"))
	client, server, err := NewInitialKeySet(dcid, true)
	if err != nil {
		t.Fatalf("NewInitialKeySet() error = %v", err)
	}

	aad := []byte{0xc3, 0x00, 0x00, 0x00, 0x01}
	payload := []byte("hello quic")

	sealed := client.Seal(2, aad, payload)
	opened, err := client.Open(2, aad, sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, payload) {
		t.Fatalf("Open() = %q, want %q", opened, payload)
	}

	if _, err := server.Open(2, aad, sealed); err != ErrAEADAuthFailed {
		t.Fatalf("cross-direction Open() error = %v, want ErrAEADAuthFailed", err)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	dcid, _ := NewConnectionID(mustHex(t, "8394c8f03e515708"))
	client, _, err := NewInitialKeySet(dcid, true)
	if err != nil {
		t.Fatalf("NewInitialKeySet() error = %v", err)
	}
	aad := []byte{0xc3}
	sealed := client.Seal(1, aad, []byte("data"))
	sealed[0] ^= 0xff

	if _, err := client.Open(1, aad, sealed); err != ErrAEADAuthFailed {
		t.Fatalf("Open() on tampered ciphertext error = %v, want ErrAEADAuthFailed", err)
	}
}

func TestNextGenerationKeySetReusesHP(t *testing.T) {
	dcid, _ := NewConnectionID(mustHex(t, "8394c8f03e515708"))
	client, _, err := NewInitialKeySet(dcid, true)
	if err != nil {
		t.Fatalf("NewInitialKeySet() error = %v", err)
	}

	next, err := NextGenerationKeySet(client)
	if err != nil {
		t.Fatalf("NextGenerationKeySet() error = %v", err)
	}
	if !bytes.Equal(next.hp, client.hp) {
		t.Fatalf("header protection key changed across key update")
	}
	if bytes.Equal(next.aeadKey, client.aeadKey) {
		t.Fatalf("AEAD key did not change across key update")
	}
	if bytes.Equal(next.Secret, client.Secret) {
		t.Fatalf("secret did not change across key update")
	}
}
