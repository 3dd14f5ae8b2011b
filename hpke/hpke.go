// Package hpke implements draft-irtf-cfrg-hpke-05: a hybrid public key
// encryption scheme combining a KEM, a KDF, and an AEAD.  A successful
// setup yields a sender or receiver context producing a nonce-unique
// stream of AEAD operations plus an arbitrary-length exporter.
package hpke

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnsupported      = errors.New("unsupported algorithm")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidPSKInputs = errors.New("invalid PSK inputs")
	ErrSequenceOverflow = errors.New("sequence number overflow")
	ErrOpenFailed       = errors.New("open failed")
)

type Mode uint8

const (
	ModeBase    Mode = 0x00
	ModePSK     Mode = 0x01
	ModeAuth    Mode = 0x02
	ModeAuthPSK Mode = 0x03
)

// Suite binds a KEM, KDF, and AEAD under the 10-byte suite identifier
// "HPKE" || kem_id || kdf_id || aead_id.
type Suite struct {
	ID   []byte
	KEM  KEMScheme
	kdf  hkdfScheme
	aead aeadScheme
}

func NewSuite(kemID KEMID, kdfID KDFID, aeadID AEADID) (Suite, error) {
	kem, err := newKEMScheme(kemID)
	if err != nil {
		return Suite{}, err
	}

	kdf, err := newKDFScheme(kdfID)
	if err != nil {
		return Suite{}, err
	}

	aead, err := newAEADScheme(aeadID)
	if err != nil {
		return Suite{}, err
	}

	id := append([]byte("HPKE"), i2osp(uint64(kemID), 2)...)
	id = append(id, i2osp(uint64(kdfID), 2)...)
	id = append(id, i2osp(uint64(aeadID), 2)...)

	return Suite{ID: id, KEM: kem, kdf: kdf, aead: aead}, nil
}

func (s Suite) KDFHashSize() int {
	return s.kdf.HashSize()
}

func (s Suite) AEADKeySize() int {
	return s.aead.KeySize()
}

func (s Suite) AEADNonceSize() int {
	return s.aead.NonceSize()
}

///
/// Encryption contexts
///

type context struct {
	suiteID        []byte
	key            []byte
	nonceBase      []byte
	exporterSecret []byte
	seq            uint64

	kdf  hkdfScheme
	aead aeadScheme
}

func (c *context) currentNonce() []byte {
	nonce := i2osp(c.seq, c.aead.NonceSize())
	for i := range nonce {
		nonce[i] ^= c.nonceBase[i]
	}
	return nonce
}

// A context whose counter has reached the maximum is permanently
// unusable; its key material is wiped so no further operation can
// succeed even by accident.
func (c *context) checkSeq() error {
	if c.seq == math.MaxUint64 {
		c.Zeroize()
		return ErrSequenceOverflow
	}
	return nil
}

func (c *context) Export(exporterContext []byte, outLen int) ([]byte, error) {
	return c.kdf.LabeledExpand(c.suiteID, c.exporterSecret, "sec", exporterContext, outLen)
}

func (c *context) Zeroize() {
	zeroize(c.key)
	zeroize(c.nonceBase)
	zeroize(c.exporterSecret)
}

// Equal compares the derived state, not the primitive references.
func (c *context) Equal(other *context) bool {
	suite := hmac.Equal(c.suiteID, other.suiteID)
	key := hmac.Equal(c.key, other.key)
	nonce := hmac.Equal(c.nonceBase, other.nonceBase)
	exporter := hmac.Equal(c.exporterSecret, other.exporterSecret)
	return suite && key && nonce && exporter && c.seq == other.seq
}

type SenderContext struct {
	context
}

func (ctx *SenderContext) Seal(aad, pt []byte) ([]byte, error) {
	if err := ctx.checkSeq(); err != nil {
		return nil, err
	}

	ct, err := ctx.aead.Seal(ctx.key, ctx.currentNonce(), aad, pt)
	if err != nil {
		return nil, err
	}

	ctx.seq++
	return ct, nil
}

type ReceiverContext struct {
	context
}

// Open steps the nonce sequence even when authentication fails, so that
// a discard-and-retry policy at the caller keeps the stream aligned.
func (ctx *ReceiverContext) Open(aad, ct []byte) ([]byte, error) {
	if err := ctx.checkSeq(); err != nil {
		return nil, err
	}

	pt, err := ctx.aead.Open(ctx.key, ctx.currentNonce(), aad, ct)
	ctx.seq++
	if err != nil {
		return nil, err
	}
	return pt, nil
}

///
/// Setup modes
///

var (
	defaultPSK   = []byte{}
	defaultPSKID = []byte{}
)

func (s Suite) SetupBaseS(pkR KEMPublicKey, info []byte) ([]byte, *SenderContext, error) {
	sharedSecret, enc, err := s.KEM.Encap(pkR)
	if err != nil {
		return nil, nil, err
	}

	ctx, err := s.keySchedule(ModeBase, sharedSecret, info, defaultPSK, defaultPSKID)
	if err != nil {
		return nil, nil, err
	}
	return enc, &SenderContext{ctx}, nil
}

func (s Suite) SetupBaseR(enc []byte, skR KEMPrivateKey, info []byte) (*ReceiverContext, error) {
	sharedSecret, err := s.KEM.Decap(enc, skR)
	if err != nil {
		return nil, err
	}

	ctx, err := s.keySchedule(ModeBase, sharedSecret, info, defaultPSK, defaultPSKID)
	if err != nil {
		return nil, err
	}
	return &ReceiverContext{ctx}, nil
}

func (s Suite) SetupPSKS(pkR KEMPublicKey, info, psk, pskID []byte) ([]byte, *SenderContext, error) {
	sharedSecret, enc, err := s.KEM.Encap(pkR)
	if err != nil {
		return nil, nil, err
	}

	ctx, err := s.keySchedule(ModePSK, sharedSecret, info, psk, pskID)
	if err != nil {
		return nil, nil, err
	}
	return enc, &SenderContext{ctx}, nil
}

func (s Suite) SetupPSKR(enc []byte, skR KEMPrivateKey, info, psk, pskID []byte) (*ReceiverContext, error) {
	sharedSecret, err := s.KEM.Decap(enc, skR)
	if err != nil {
		return nil, err
	}

	ctx, err := s.keySchedule(ModePSK, sharedSecret, info, psk, pskID)
	if err != nil {
		return nil, err
	}
	return &ReceiverContext{ctx}, nil
}

func (s Suite) SetupAuthS(pkR KEMPublicKey, info []byte, skS KEMPrivateKey) ([]byte, *SenderContext, error) {
	sharedSecret, enc, err := s.KEM.AuthEncap(pkR, skS)
	if err != nil {
		return nil, nil, err
	}

	ctx, err := s.keySchedule(ModeAuth, sharedSecret, info, defaultPSK, defaultPSKID)
	if err != nil {
		return nil, nil, err
	}
	return enc, &SenderContext{ctx}, nil
}

func (s Suite) SetupAuthR(enc []byte, skR KEMPrivateKey, info []byte, pkS KEMPublicKey) (*ReceiverContext, error) {
	sharedSecret, err := s.KEM.AuthDecap(enc, pkS, skR)
	if err != nil {
		return nil, err
	}

	ctx, err := s.keySchedule(ModeAuth, sharedSecret, info, defaultPSK, defaultPSKID)
	if err != nil {
		return nil, err
	}
	return &ReceiverContext{ctx}, nil
}

func (s Suite) SetupAuthPSKS(pkR KEMPublicKey, info, psk, pskID []byte, skS KEMPrivateKey) ([]byte, *SenderContext, error) {
	sharedSecret, enc, err := s.KEM.AuthEncap(pkR, skS)
	if err != nil {
		return nil, nil, err
	}

	ctx, err := s.keySchedule(ModeAuthPSK, sharedSecret, info, psk, pskID)
	if err != nil {
		return nil, nil, err
	}
	return enc, &SenderContext{ctx}, nil
}

func (s Suite) SetupAuthPSKR(enc []byte, skR KEMPrivateKey, info, psk, pskID []byte, pkS KEMPublicKey) (*ReceiverContext, error) {
	sharedSecret, err := s.KEM.AuthDecap(enc, pkS, skR)
	if err != nil {
		return nil, err
	}

	ctx, err := s.keySchedule(ModeAuthPSK, sharedSecret, info, psk, pskID)
	if err != nil {
		return nil, err
	}
	return &ReceiverContext{ctx}, nil
}

///
/// Key schedule
///

func verifyPSKInputs(mode Mode, psk, pskID []byte) bool {
	gotPSK := len(psk) > 0
	gotPSKID := len(pskID) > 0
	if gotPSK != gotPSKID {
		return false
	}

	return (!gotPSK && (mode == ModeBase || mode == ModeAuth)) ||
		(gotPSK && (mode == ModePSK || mode == ModeAuthPSK))
}

func (s Suite) keySchedule(mode Mode, sharedSecret, info, psk, pskID []byte) (context, error) {
	if !verifyPSKInputs(mode, psk, pskID) {
		return context{}, fmt.Errorf("hpke: mode %02x: %w", uint8(mode), ErrInvalidPSKInputs)
	}

	pskIDHash := s.kdf.LabeledExtract(s.ID, nil, "psk_id_hash", pskID)
	infoHash := s.kdf.LabeledExtract(s.ID, nil, "info_hash", info)
	ksContext := append([]byte{uint8(mode)}, pskIDHash...)
	ksContext = append(ksContext, infoHash...)

	pskHash := s.kdf.LabeledExtract(s.ID, nil, "psk_hash", psk)
	secret := s.kdf.LabeledExtract(s.ID, pskHash, "secret", sharedSecret)

	key, err := s.kdf.LabeledExpand(s.ID, secret, "key", ksContext, s.aead.KeySize())
	if err != nil {
		return context{}, err
	}

	nonceBase, err := s.kdf.LabeledExpand(s.ID, secret, "nonce", ksContext, s.aead.NonceSize())
	if err != nil {
		return context{}, err
	}

	exporterSecret, err := s.kdf.LabeledExpand(s.ID, secret, "exp", ksContext, s.kdf.HashSize())
	if err != nil {
		return context{}, err
	}

	zeroize(secret)
	zeroize(pskHash)

	return context{
		suiteID:        s.ID,
		key:            key,
		nonceBase:      nonceBase,
		exporterSecret: exporterSecret,
		seq:            0,
		kdf:            s.kdf,
		aead:           s.aead,
	}, nil
}

func zeroize(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
