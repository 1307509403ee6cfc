package quic

import (
	"crypto/aes"

	"golang.org/x/crypto/chacha20"
)

// headerProtectionMask computes the 5-byte mask applied to the first header
// byte and the packet-number field (RFC 9001 §5.4.2). AES-based suites use
// the HP key as an AES-ECB encryption of the sample; ChaCha20Poly1305 uses
// the sample's last 16 bytes as a counter+nonce into the ChaCha20 block
// function, per RFC 9001 §5.4.4.
func (k *KeySet) headerProtectionMask(sample []byte) ([]byte, error) {
	if len(sample) != headerProtectionSampleLen {
		return nil, ErrPacketTruncated
	}

	switch k.Suite {
	case SuiteAES128GCMSHA256, SuiteAES256GCMSHA384:
		block, err := aes.NewCipher(k.hp)
		if err != nil {
			return nil, err
		}
		mask := make([]byte, aes.BlockSize)
		block.Encrypt(mask, sample)
		return mask, nil

	case SuiteChaCha20Poly1305SHA256:
		counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
		nonce := append([]byte(nil), sample[4:16]...)
		cipherStream, err := chacha20.NewUnauthenticatedCipher(k.hp, nonce)
		if err != nil {
			return nil, err
		}
		cipherStream.SetCounter(counter)
		mask := make([]byte, 5)
		cipherStream.XORKeyStream(mask, mask)
		return mask, nil

	default:
		return nil, ErrKeysNotInstalled
	}
}

// ApplyHeaderProtection XORs the header-protection mask into buf's first
// byte and packet-number field in place. isLongHeader selects whether 4 or
// 5 bits of the first byte are protected (RFC 9001 §5.4.1). pnOffset is the
// offset of the packet-number field, whose length is read from the
// unprotected buf[0] before the mask is applied.
func (k *KeySet) ApplyHeaderProtection(buf []byte, pnOffset int, isLongHeader bool) error {
	sample, err := headerProtectionSample(buf, pnOffset)
	if err != nil {
		return err
	}
	mask, err := k.headerProtectionMask(sample)
	if err != nil {
		return err
	}

	pnLen := int(buf[0]&0x03) + 1
	if isLongHeader {
		buf[0] ^= mask[0] & 0x0f
	} else {
		buf[0] ^= mask[0] & 0x1f
	}

	for i := 0; i < pnLen; i++ {
		buf[pnOffset+i] ^= mask[1+i]
	}
	return nil
}

// RemoveHeaderProtection reverses ApplyHeaderProtection. pnOffset must be
// the value returned by locatePacketNumberOffset on the still-protected
// packet (the packet-number length isn't known until after this call).
// Returns the now-revealed packet-number length.
func (k *KeySet) RemoveHeaderProtection(buf []byte, pnOffset int, isLongHeader bool) (pnLen int, err error) {
	sample, err := headerProtectionSample(buf, pnOffset)
	if err != nil {
		return 0, err
	}
	mask, err := k.headerProtectionMask(sample)
	if err != nil {
		return 0, err
	}

	if isLongHeader {
		buf[0] ^= mask[0] & 0x0f
	} else {
		buf[0] ^= mask[0] & 0x1f
	}

	pnLen = int(buf[0]&0x03) + 1
	for i := 0; i < pnLen; i++ {
		buf[pnOffset+i] ^= mask[1+i]
	}
	return pnLen, nil
}
