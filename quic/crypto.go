package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// EncryptionLevel identifies which of the four QUIC packet-protection key
// sets applies (RFC 9001 §4.1.4).
type EncryptionLevel uint8

const (
	EncryptionLevelInitial EncryptionLevel = iota
	EncryptionLevelEarlyData
	EncryptionLevelHandshake
	EncryptionLevelApplication
)

func (e EncryptionLevel) String() string {
	switch e {
	case EncryptionLevelInitial:
		return "Initial"
	case EncryptionLevelEarlyData:
		return "0-RTT"
	case EncryptionLevelHandshake:
		return "Handshake"
	case EncryptionLevelApplication:
		return "Application"
	default:
		return fmt.Sprintf("EncryptionLevel(%d)", uint8(e))
	}
}

// initialSalt is the version 1 Initial salt (RFC 9001 §5.2).
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// CipherSuite identifies the TLS 1.3 AEAD negotiated for the connection.
type CipherSuite uint16

const (
	SuiteAES128GCMSHA256      CipherSuite = 0x1301
	SuiteAES256GCMSHA384      CipherSuite = 0x1302
	SuiteChaCha20Poly1305SHA256 CipherSuite = 0x1303
)

func (cs CipherSuite) hash() func() hash.Hash {
	if cs == SuiteAES256GCMSHA384 {
		return sha512.New384
	}
	return sha256.New
}

func (cs CipherSuite) keyIVHPLen() (keyLen, ivLen, hpLen int, err error) {
	switch cs {
	case SuiteAES128GCMSHA256:
		return 16, 12, 16, nil
	case SuiteAES256GCMSHA384:
		return 32, 12, 32, nil
	case SuiteChaCha20Poly1305SHA256:
		return 32, 12, 32, nil
	default:
		return 0, 0, 0, fmt.Errorf("quic: unsupported cipher suite 0x%04x", uint16(cs))
	}
}

// KeySet holds one direction's packet-protection and header-protection
// keys for a single encryption level (RFC 9001 §5.1).
type KeySet struct {
	Level  EncryptionLevel
	Suite  CipherSuite
	Secret []byte

	aeadKey []byte
	iv      []byte
	hp      []byte
	aead    cipher.AEAD
}

// NewInitialKeySet derives both the client and the server Initial key sets
// from the destination connection ID chosen by the client (RFC 9001 §5.2,
// RFC 9001 Appendix A.1). isClient does not affect the result.
func NewInitialKeySet(dcid ConnectionID, isClient bool) (client, server *KeySet, err error) {
	initialSecret := hkdf.Extract(sha256.New, dcid.Bytes(), initialSalt)

	clientSecret := hkdfExpandLabel(sha256.New, initialSecret, "client in", nil, 32)
	serverSecret := hkdfExpandLabel(sha256.New, initialSecret, "server in", nil, 32)

	client, err = deriveKeySet(clientSecret, EncryptionLevelInitial, SuiteAES128GCMSHA256)
	if err != nil {
		return nil, nil, err
	}
	server, err = deriveKeySet(serverSecret, EncryptionLevelInitial, SuiteAES128GCMSHA256)
	if err != nil {
		return nil, nil, err
	}
	_ = isClient
	return client, server, nil
}

// deriveKeySet expands a traffic secret into the AEAD key, IV and header
// protection key for one direction at one encryption level.
func deriveKeySet(secret []byte, level EncryptionLevel, suite CipherSuite) (*KeySet, error) {
	keyLen, ivLen, hpLen, err := suite.keyIVHPLen()
	if err != nil {
		return nil, err
	}
	h := suite.hash()

	ks := &KeySet{
		Level:   level,
		Suite:   suite,
		Secret:  secret,
		aeadKey: hkdfExpandLabel(h, secret, "quic key", nil, keyLen),
		iv:      hkdfExpandLabel(h, secret, "quic iv", nil, ivLen),
		hp:      hkdfExpandLabel(h, secret, "quic hp", nil, hpLen),
	}

	switch suite {
	case SuiteAES128GCMSHA256, SuiteAES256GCMSHA384:
		block, err := aes.NewCipher(ks.aeadKey)
		if err != nil {
			return nil, err
		}
		ks.aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
	case SuiteChaCha20Poly1305SHA256:
		ks.aead, err = chacha20poly1305.New(ks.aeadKey)
		if err != nil {
			return nil, err
		}
	}
	return ks, nil
}

// NextGenerationKeySet derives the key set for the next key-update
// generation from the current one (RFC 9001 §6, the "quic ku" label).
func NextGenerationKeySet(current *KeySet) (*KeySet, error) {
	h := current.Suite.hash()
	_, _, hpLen, err := current.Suite.keyIVHPLen()
	if err != nil {
		return nil, err
	}
	nextSecret := hkdfExpandLabel(h, current.Secret, "quic ku", nil, len(current.Secret))
	next, err := deriveKeySet(nextSecret, current.Level, current.Suite)
	if err != nil {
		return nil, err
	}
	// Header protection keys are never updated across key-phase changes
	// (RFC 9001 §6): reuse the prior generation's HP key.
	next.hp = append([]byte(nil), current.hp[:hpLen]...)
	return next, nil
}

// hkdfExpandLabel implements TLS 1.3's HKDF-Expand-Label (RFC 8446 §7.1)
// with the QUIC "tls13 " label prefix.
func hkdfExpandLabel(hashFunc func() hash.Hash, secret []byte, label string, context []byte, length int) []byte {
	fullLabel := "tls13 " + label
	hkdfLabel := make([]byte, 0, 2+1+len(fullLabel)+1+len(context))
	hkdfLabel = append(hkdfLabel, byte(length>>8), byte(length))
	hkdfLabel = append(hkdfLabel, byte(len(fullLabel)))
	hkdfLabel = append(hkdfLabel, fullLabel...)
	hkdfLabel = append(hkdfLabel, byte(len(context)))
	hkdfLabel = append(hkdfLabel, context...)

	out := make([]byte, length)
	r := hkdf.Expand(hashFunc, secret, hkdfLabel)
	if _, err := r.Read(out); err != nil {
		panic("quic: hkdf.Expand read failed: " + err.Error())
	}
	return out
}

// packetNonce builds the per-packet AEAD nonce: the IV with the packet
// number XORed into its low-order bytes (RFC 9001 §5.3).
func packetNonce(iv []byte, pn uint64) []byte {
	nonce := append([]byte(nil), iv...)
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> (8 * uint(i)))
	}
	return nonce
}

// Seal AEAD-encrypts payload in place of a packet's protected payload,
// using aad as the additional authenticated data (the packet header
// through the packet number, inclusive; RFC 9001 §5.3).
func (k *KeySet) Seal(pn uint64, aad, payload []byte) []byte {
	return k.aead.Seal(nil, packetNonce(k.iv, pn), payload, aad)
}

// Open AEAD-decrypts and authenticates ciphertext.
func (k *KeySet) Open(pn uint64, aad, ciphertext []byte) ([]byte, error) {
	plaintext, err := k.aead.Open(nil, packetNonce(k.iv, pn), ciphertext, aad)
	if err != nil {
		return nil, ErrAEADAuthFailed
	}
	return plaintext, nil
}

// Overhead returns the AEAD's authentication tag length.
func (k *KeySet) Overhead() int { return k.aead.Overhead() }
