package hpke

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

type AEADID uint16

const (
	AES_128_GCM       AEADID = 0x0001
	AES_256_GCM       AEADID = 0x0002
	CHACHA20_POLY1305 AEADID = 0x0003
)

type aeadScheme struct {
	id      AEADID
	keySize int
}

func newAEADScheme(id AEADID) (aeadScheme, error) {
	switch id {
	case AES_128_GCM:
		return aeadScheme{id, 16}, nil
	case AES_256_GCM:
		return aeadScheme{id, 32}, nil
	case CHACHA20_POLY1305:
		return aeadScheme{id, chacha20poly1305.KeySize}, nil
	default:
		return aeadScheme{}, fmt.Errorf("hpke: AEAD %04x: %w", uint16(id), ErrUnsupported)
	}
}

func (s aeadScheme) ID() AEADID {
	return s.id
}

func (s aeadScheme) KeySize() int {
	return s.keySize
}

func (s aeadScheme) NonceSize() int {
	return 12
}

func (s aeadScheme) newCipher(key []byte) (cipher.AEAD, error) {
	switch s.id {
	case AES_128_GCM, AES_256_GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)

	case CHACHA20_POLY1305:
		return chacha20poly1305.New(key)
	}
	panic("unreachable")
}

func (s aeadScheme) Seal(key, nonce, aad, pt []byte) ([]byte, error) {
	aead, err := s.newCipher(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, pt, aad), nil
}

// Open returns ErrOpenFailed on authentication failure, which callers
// treat as absence rather than a fatal condition.
func (s aeadScheme) Open(key, nonce, aad, ct []byte) ([]byte, error) {
	aead, err := s.newCipher(key)
	if err != nil {
		return nil, err
	}

	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return pt, nil
}
