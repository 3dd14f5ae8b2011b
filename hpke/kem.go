package hpke

import (
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"

	x448 "git.schwanenlied.me/yawning/x448.git"
	"golang.org/x/crypto/curve25519"
)

type KEMID uint16

const (
	DHKEM_P256_SHA256   KEMID = 0x0010
	DHKEM_P384_SHA384   KEMID = 0x0011
	DHKEM_P521_SHA512   KEMID = 0x0012
	DHKEM_X25519_SHA256 KEMID = 0x0020
	DHKEM_X448_SHA512   KEMID = 0x0021
)

type KEMPublicKey interface{}

type KEMPrivateKey interface {
	PublicKey() KEMPublicKey
}

// KEMScheme is the encapsulation interface consumed by the HPKE setup
// modes.  AuthEncap and AuthDecap return ErrUnsupported for KEMs without
// an authenticated variant.
type KEMScheme interface {
	ID() KEMID
	GenerateKeyPair() (KEMPrivateKey, KEMPublicKey, error)
	DeriveKeyPair(ikm []byte) (KEMPrivateKey, KEMPublicKey, error)
	SerializePublic(pk KEMPublicKey) []byte
	DeserializePublic(enc []byte) (KEMPublicKey, error)
	SerializePrivate(sk KEMPrivateKey) []byte
	DeserializePrivate(enc []byte) (KEMPrivateKey, error)
	Encap(pkR KEMPublicKey) (sharedSecret, enc []byte, err error)
	Decap(enc []byte, skR KEMPrivateKey) ([]byte, error)
	AuthEncap(pkR KEMPublicKey, skS KEMPrivateKey) (sharedSecret, enc []byte, err error)
	AuthDecap(enc []byte, pkS KEMPublicKey, skR KEMPrivateKey) ([]byte, error)
}

func newKEMScheme(id KEMID) (KEMScheme, error) {
	switch id {
	case DHKEM_P256_SHA256:
		kdf, _ := newKDFScheme(HKDF_SHA256)
		return &dhkemScheme{id, ecdhGroup{elliptic.P256(), 32}, kdf}, nil
	case DHKEM_P384_SHA384:
		kdf, _ := newKDFScheme(HKDF_SHA384)
		return &dhkemScheme{id, ecdhGroup{elliptic.P384(), 48}, kdf}, nil
	case DHKEM_P521_SHA512:
		kdf, _ := newKDFScheme(HKDF_SHA512)
		return &dhkemScheme{id, ecdhGroup{elliptic.P521(), 66}, kdf}, nil
	case DHKEM_X25519_SHA256:
		kdf, _ := newKDFScheme(HKDF_SHA256)
		return &dhkemScheme{id, x25519Group{}, kdf}, nil
	case DHKEM_X448_SHA512:
		kdf, _ := newKDFScheme(HKDF_SHA512)
		return &dhkemScheme{id, x448Group{}, kdf}, nil
	default:
		return nil, fmt.Errorf("hpke: KEM %04x: %w", uint16(id), ErrUnsupported)
	}
}

///
/// DH groups
///

type dhGroup interface {
	generateKeyPair() (KEMPrivateKey, KEMPublicKey, error)
	deriveKeyPair(kdf hkdfScheme, suiteID, ikm []byte) (KEMPrivateKey, KEMPublicKey, error)
	serializePublic(pk KEMPublicKey) []byte
	deserializePublic(enc []byte) (KEMPublicKey, error)
	serializePrivate(sk KEMPrivateKey) []byte
	deserializePrivate(enc []byte) (KEMPrivateKey, error)
	dh(sk KEMPrivateKey, pk KEMPublicKey) ([]byte, error)
}

// NIST curves

type ecdhPublicKey struct {
	curve elliptic.Curve
	x, y  *big.Int
}

type ecdhPrivateKey struct {
	curve elliptic.Curve
	d     []byte
	pub   ecdhPublicKey
}

func (sk ecdhPrivateKey) PublicKey() KEMPublicKey {
	return sk.pub
}

type ecdhGroup struct {
	curve     elliptic.Curve
	scalarLen int
}

func (g ecdhGroup) keyPairFromScalar(d []byte) (KEMPrivateKey, KEMPublicKey, error) {
	x, y := g.curve.ScalarBaseMult(d)
	pub := ecdhPublicKey{g.curve, x, y}
	return ecdhPrivateKey{g.curve, d, pub}, pub, nil
}

func (g ecdhGroup) generateKeyPair() (KEMPrivateKey, KEMPublicKey, error) {
	d, _, _, err := elliptic.GenerateKey(g.curve, rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return g.keyPairFromScalar(d)
}

func (g ecdhGroup) deriveKeyPair(kdf hkdfScheme, suiteID, ikm []byte) (KEMPrivateKey, KEMPublicKey, error) {
	var bitmask byte = 0xFF
	if g.curve.Params().BitSize == 521 {
		bitmask = 0x01
	}

	dkpPRK := kdf.LabeledExtract(suiteID, nil, "dkp_prk", ikm)
	order := g.curve.Params().N
	for counter := 0; counter < 256; counter++ {
		d, err := kdf.LabeledExpand(suiteID, dkpPRK, "candidate", []byte{byte(counter)}, g.scalarLen)
		if err != nil {
			return nil, nil, err
		}
		d[0] &= bitmask

		s := new(big.Int).SetBytes(d)
		if s.Sign() != 0 && s.Cmp(order) < 0 {
			return g.keyPairFromScalar(d)
		}
	}
	return nil, nil, fmt.Errorf("hpke: key derivation failed: %w", ErrInvalidParameter)
}

func (g ecdhGroup) serializePublic(pk KEMPublicKey) []byte {
	pub := pk.(ecdhPublicKey)
	return elliptic.Marshal(g.curve, pub.x, pub.y)
}

func (g ecdhGroup) deserializePublic(enc []byte) (KEMPublicKey, error) {
	x, y := elliptic.Unmarshal(g.curve, enc)
	if x == nil {
		return nil, fmt.Errorf("hpke: malformed public key: %w", ErrInvalidParameter)
	}
	return ecdhPublicKey{g.curve, x, y}, nil
}

func (g ecdhGroup) serializePrivate(sk KEMPrivateKey) []byte {
	priv := sk.(ecdhPrivateKey)
	out := make([]byte, g.scalarLen)
	copy(out[g.scalarLen-len(priv.d):], priv.d)
	return out
}

func (g ecdhGroup) deserializePrivate(enc []byte) (KEMPrivateKey, error) {
	if len(enc) == 0 || len(enc) > g.scalarLen {
		return nil, fmt.Errorf("hpke: malformed private key: %w", ErrInvalidParameter)
	}

	sk, _, err := g.keyPairFromScalar(dup(enc))
	return sk, err
}

func (g ecdhGroup) dh(sk KEMPrivateKey, pk KEMPublicKey) ([]byte, error) {
	priv, okS := sk.(ecdhPrivateKey)
	pub, okP := pk.(ecdhPublicKey)
	if !okS || !okP {
		return nil, fmt.Errorf("hpke: mismatched key types: %w", ErrInvalidParameter)
	}

	x, _ := g.curve.ScalarMult(pub.x, pub.y, priv.d)

	// Fixed-width big-endian X coordinate
	coordLen := (g.curve.Params().BitSize + 7) >> 3
	out := make([]byte, coordLen)
	xb := x.Bytes()
	copy(out[coordLen-len(xb):], xb)
	return out, nil
}

// X25519

type x25519PublicKey struct {
	val [32]byte
}

type x25519PrivateKey struct {
	val [32]byte
	pub x25519PublicKey
}

func (sk x25519PrivateKey) PublicKey() KEMPublicKey {
	return sk.pub
}

type x25519Group struct{}

func (g x25519Group) keyPairFromScalar(scalar []byte) (KEMPrivateKey, KEMPublicKey, error) {
	pubVal, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}

	var sk x25519PrivateKey
	copy(sk.val[:], scalar)
	copy(sk.pub.val[:], pubVal)
	return sk, sk.pub, nil
}

func (g x25519Group) generateKeyPair() (KEMPrivateKey, KEMPublicKey, error) {
	scalar := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(scalar); err != nil {
		return nil, nil, err
	}
	return g.keyPairFromScalar(scalar)
}

func (g x25519Group) deriveKeyPair(kdf hkdfScheme, suiteID, ikm []byte) (KEMPrivateKey, KEMPublicKey, error) {
	dkpPRK := kdf.LabeledExtract(suiteID, nil, "dkp_prk", ikm)
	scalar, err := kdf.LabeledExpand(suiteID, dkpPRK, "sk", nil, curve25519.ScalarSize)
	if err != nil {
		return nil, nil, err
	}
	return g.keyPairFromScalar(scalar)
}

func (g x25519Group) serializePublic(pk KEMPublicKey) []byte {
	pub := pk.(x25519PublicKey)
	out := make([]byte, len(pub.val))
	copy(out, pub.val[:])
	return out
}

func (g x25519Group) deserializePublic(enc []byte) (KEMPublicKey, error) {
	if len(enc) != 32 {
		return nil, fmt.Errorf("hpke: malformed public key: %w", ErrInvalidParameter)
	}

	var pub x25519PublicKey
	copy(pub.val[:], enc)
	return pub, nil
}

func (g x25519Group) serializePrivate(sk KEMPrivateKey) []byte {
	priv := sk.(x25519PrivateKey)
	return dup(priv.val[:])
}

func (g x25519Group) deserializePrivate(enc []byte) (KEMPrivateKey, error) {
	if len(enc) != 32 {
		return nil, fmt.Errorf("hpke: malformed private key: %w", ErrInvalidParameter)
	}

	sk, _, err := g.keyPairFromScalar(enc)
	return sk, err
}

func (g x25519Group) dh(sk KEMPrivateKey, pk KEMPublicKey) ([]byte, error) {
	priv, okS := sk.(x25519PrivateKey)
	pub, okP := pk.(x25519PublicKey)
	if !okS || !okP {
		return nil, fmt.Errorf("hpke: mismatched key types: %w", ErrInvalidParameter)
	}
	return curve25519.X25519(priv.val[:], pub.val[:])
}

// X448

type x448PublicKey struct {
	val [56]byte
}

type x448PrivateKey struct {
	val [56]byte
	pub x448PublicKey
}

func (sk x448PrivateKey) PublicKey() KEMPublicKey {
	return sk.pub
}

type x448Group struct{}

func (g x448Group) keyPairFromScalar(scalar []byte) (KEMPrivateKey, KEMPublicKey, error) {
	var sk x448PrivateKey
	copy(sk.val[:], scalar)
	x448.ScalarBaseMult(&sk.pub.val, &sk.val)
	return sk, sk.pub, nil
}

func (g x448Group) generateKeyPair() (KEMPrivateKey, KEMPublicKey, error) {
	scalar := make([]byte, 56)
	if _, err := rand.Read(scalar); err != nil {
		return nil, nil, err
	}
	return g.keyPairFromScalar(scalar)
}

func (g x448Group) deriveKeyPair(kdf hkdfScheme, suiteID, ikm []byte) (KEMPrivateKey, KEMPublicKey, error) {
	dkpPRK := kdf.LabeledExtract(suiteID, nil, "dkp_prk", ikm)
	scalar, err := kdf.LabeledExpand(suiteID, dkpPRK, "sk", nil, 56)
	if err != nil {
		return nil, nil, err
	}
	return g.keyPairFromScalar(scalar)
}

func (g x448Group) serializePublic(pk KEMPublicKey) []byte {
	pub := pk.(x448PublicKey)
	out := make([]byte, len(pub.val))
	copy(out, pub.val[:])
	return out
}

func (g x448Group) deserializePublic(enc []byte) (KEMPublicKey, error) {
	if len(enc) != 56 {
		return nil, fmt.Errorf("hpke: malformed public key: %w", ErrInvalidParameter)
	}

	var pub x448PublicKey
	copy(pub.val[:], enc)
	return pub, nil
}

func (g x448Group) serializePrivate(sk KEMPrivateKey) []byte {
	priv := sk.(x448PrivateKey)
	return dup(priv.val[:])
}

func (g x448Group) deserializePrivate(enc []byte) (KEMPrivateKey, error) {
	if len(enc) != 56 {
		return nil, fmt.Errorf("hpke: malformed private key: %w", ErrInvalidParameter)
	}

	sk, _, err := g.keyPairFromScalar(enc)
	return sk, err
}

func (g x448Group) dh(sk KEMPrivateKey, pk KEMPublicKey) ([]byte, error) {
	priv, okS := sk.(x448PrivateKey)
	pub, okP := pk.(x448PublicKey)
	if !okS || !okP {
		return nil, fmt.Errorf("hpke: mismatched key types: %w", ErrInvalidParameter)
	}

	var out [56]byte
	if rv := x448.ScalarMult(&out, &priv.val, &pub.val); rv != 0 {
		return nil, fmt.Errorf("hpke: low-order X448 point: %w", ErrInvalidParameter)
	}
	return out[:], nil
}

///
/// DHKEM
///

type dhkemScheme struct {
	id    KEMID
	group dhGroup
	kdf   hkdfScheme
}

func (s dhkemScheme) ID() KEMID {
	return s.id
}

func (s dhkemScheme) suiteID() []byte {
	return append([]byte("KEM"), i2osp(uint64(s.id), 2)...)
}

func (s dhkemScheme) GenerateKeyPair() (KEMPrivateKey, KEMPublicKey, error) {
	return s.group.generateKeyPair()
}

func (s dhkemScheme) DeriveKeyPair(ikm []byte) (KEMPrivateKey, KEMPublicKey, error) {
	return s.group.deriveKeyPair(s.kdf, s.suiteID(), ikm)
}

func (s dhkemScheme) SerializePublic(pk KEMPublicKey) []byte {
	return s.group.serializePublic(pk)
}

func (s dhkemScheme) DeserializePublic(enc []byte) (KEMPublicKey, error) {
	return s.group.deserializePublic(enc)
}

func (s dhkemScheme) SerializePrivate(sk KEMPrivateKey) []byte {
	return s.group.serializePrivate(sk)
}

func (s dhkemScheme) DeserializePrivate(enc []byte) (KEMPrivateKey, error) {
	return s.group.deserializePrivate(enc)
}

func (s dhkemScheme) extractAndExpand(dh, kemContext []byte) ([]byte, error) {
	suiteID := s.suiteID()
	eaePRK := s.kdf.LabeledExtract(suiteID, nil, "eae_prk", dh)
	return s.kdf.LabeledExpand(suiteID, eaePRK, "shared_secret", kemContext, s.kdf.HashSize())
}

func (s dhkemScheme) Encap(pkR KEMPublicKey) ([]byte, []byte, error) {
	skE, pkE, err := s.group.generateKeyPair()
	if err != nil {
		return nil, nil, err
	}

	dh, err := s.group.dh(skE, pkR)
	if err != nil {
		return nil, nil, err
	}

	enc := s.group.serializePublic(pkE)
	kemContext := append(dup(enc), s.group.serializePublic(pkR)...)

	sharedSecret, err := s.extractAndExpand(dh, kemContext)
	if err != nil {
		return nil, nil, err
	}
	return sharedSecret, enc, nil
}

func (s dhkemScheme) Decap(enc []byte, skR KEMPrivateKey) ([]byte, error) {
	pkE, err := s.group.deserializePublic(enc)
	if err != nil {
		return nil, err
	}

	dh, err := s.group.dh(skR, pkE)
	if err != nil {
		return nil, err
	}

	kemContext := append(dup(enc), s.group.serializePublic(skR.PublicKey())...)
	return s.extractAndExpand(dh, kemContext)
}

func (s dhkemScheme) AuthEncap(pkR KEMPublicKey, skS KEMPrivateKey) ([]byte, []byte, error) {
	skE, pkE, err := s.group.generateKeyPair()
	if err != nil {
		return nil, nil, err
	}

	dhER, err := s.group.dh(skE, pkR)
	if err != nil {
		return nil, nil, err
	}

	dhSR, err := s.group.dh(skS, pkR)
	if err != nil {
		return nil, nil, err
	}

	dh := append(dhER, dhSR...)
	enc := s.group.serializePublic(pkE)

	kemContext := append(dup(enc), s.group.serializePublic(pkR)...)
	kemContext = append(kemContext, s.group.serializePublic(skS.PublicKey())...)

	sharedSecret, err := s.extractAndExpand(dh, kemContext)
	if err != nil {
		return nil, nil, err
	}
	return sharedSecret, enc, nil
}

func (s dhkemScheme) AuthDecap(enc []byte, pkS KEMPublicKey, skR KEMPrivateKey) ([]byte, error) {
	pkE, err := s.group.deserializePublic(enc)
	if err != nil {
		return nil, err
	}

	dhER, err := s.group.dh(skR, pkE)
	if err != nil {
		return nil, err
	}

	dhSR, err := s.group.dh(skR, pkS)
	if err != nil {
		return nil, err
	}

	dh := append(dhER, dhSR...)

	kemContext := append(dup(enc), s.group.serializePublic(skR.PublicKey())...)
	kemContext = append(kemContext, s.group.serializePublic(pkS)...)

	return s.extractAndExpand(dh, kemContext)
}

func dup(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
