package mls

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"encoding/asn1"
	"fmt"
	"hash"
	"math/big"

	"github.com/cisco/go-tls-syntax"
	"github.com/cloudflare/circl/sign/ed448"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cisco/go-mls-core/hpke"

	_ "crypto/sha256"
	_ "crypto/sha512"
)

type CipherSuite uint16

const (
	X25519_AES128GCM_SHA256_Ed25519        CipherSuite = 0x0001
	P256_AES128GCM_SHA256_P256             CipherSuite = 0x0002
	X25519_CHACHA20POLY1305_SHA256_Ed25519 CipherSuite = 0x0003
	X448_AES256GCM_SHA512_Ed448            CipherSuite = 0x0004
	P521_AES256GCM_SHA512_P521             CipherSuite = 0x0005
	X448_CHACHA20POLY1305_SHA512_Ed448     CipherSuite = 0x0006
)

type cipherConstants struct {
	KeySize    int
	NonceSize  int
	SecretSize int
	HPKEKem    hpke.KEMID
	HPKEKdf    hpke.KDFID
	HPKEAead   hpke.AEADID
}

func (cs CipherSuite) supported() bool {
	switch cs {
	case X25519_AES128GCM_SHA256_Ed25519, P256_AES128GCM_SHA256_P256,
		X25519_CHACHA20POLY1305_SHA256_Ed25519, X448_AES256GCM_SHA512_Ed448,
		P521_AES256GCM_SHA512_P521, X448_CHACHA20POLY1305_SHA512_Ed448:
		return true
	}
	return false
}

func (cs CipherSuite) String() string {
	switch cs {
	case X25519_AES128GCM_SHA256_Ed25519:
		return "X25519_AES128GCM_SHA256_Ed25519"
	case P256_AES128GCM_SHA256_P256:
		return "P256_AES128GCM_SHA256_P256"
	case X25519_CHACHA20POLY1305_SHA256_Ed25519:
		return "X25519_CHACHA20POLY1305_SHA256_Ed25519"
	case X448_AES256GCM_SHA512_Ed448:
		return "X448_AES256GCM_SHA512_Ed448"
	case P521_AES256GCM_SHA512_P521:
		return "P521_AES256GCM_SHA512_P521"
	case X448_CHACHA20POLY1305_SHA512_Ed448:
		return "X448_CHACHA20POLY1305_SHA512_Ed448"
	}
	return "UnknownCipherSuite"
}

func (cs CipherSuite) Constants() cipherConstants {
	switch cs {
	case X25519_AES128GCM_SHA256_Ed25519:
		return cipherConstants{16, 12, 32, hpke.DHKEM_X25519_SHA256, hpke.HKDF_SHA256, hpke.AES_128_GCM}
	case P256_AES128GCM_SHA256_P256:
		return cipherConstants{16, 12, 32, hpke.DHKEM_P256_SHA256, hpke.HKDF_SHA256, hpke.AES_128_GCM}
	case X25519_CHACHA20POLY1305_SHA256_Ed25519:
		return cipherConstants{32, 12, 32, hpke.DHKEM_X25519_SHA256, hpke.HKDF_SHA256, hpke.CHACHA20_POLY1305}
	case X448_AES256GCM_SHA512_Ed448:
		return cipherConstants{32, 12, 64, hpke.DHKEM_X448_SHA512, hpke.HKDF_SHA512, hpke.AES_256_GCM}
	case P521_AES256GCM_SHA512_P521:
		return cipherConstants{32, 12, 64, hpke.DHKEM_P521_SHA512, hpke.HKDF_SHA512, hpke.AES_256_GCM}
	case X448_CHACHA20POLY1305_SHA512_Ed448:
		return cipherConstants{32, 12, 64, hpke.DHKEM_X448_SHA512, hpke.HKDF_SHA512, hpke.CHACHA20_POLY1305}
	}
	panic("Unsupported ciphersuite")
}

func (cs CipherSuite) Scheme() SignatureScheme {
	switch cs {
	case X25519_AES128GCM_SHA256_Ed25519, X25519_CHACHA20POLY1305_SHA256_Ed25519:
		return Ed25519
	case P256_AES128GCM_SHA256_P256:
		return ECDSA_SECP256R1_SHA256
	case X448_AES256GCM_SHA512_Ed448, X448_CHACHA20POLY1305_SHA512_Ed448:
		return Ed448
	case P521_AES256GCM_SHA512_P521:
		return ECDSA_SECP521R1_SHA512
	}
	panic("Unsupported ciphersuite")
}

func (cs CipherSuite) hashFunc() crypto.Hash {
	switch cs {
	case X25519_AES128GCM_SHA256_Ed25519, P256_AES128GCM_SHA256_P256,
		X25519_CHACHA20POLY1305_SHA256_Ed25519:
		return crypto.SHA256
	case X448_AES256GCM_SHA512_Ed448, P521_AES256GCM_SHA512_P521,
		X448_CHACHA20POLY1305_SHA512_Ed448:
		return crypto.SHA512
	}
	panic("Unsupported ciphersuite")
}

func (cs CipherSuite) newDigest() hash.Hash {
	return cs.hashFunc().New()
}

func (cs CipherSuite) Digest(data []byte) []byte {
	d := cs.newDigest()
	d.Write(data)
	return d.Sum(nil)
}

func (cs CipherSuite) newHMAC(key []byte) hash.Hash {
	return hmac.New(cs.hashFunc().New, key)
}

func (cs CipherSuite) NewAEAD(key []byte) (cipher.AEAD, error) {
	switch cs.Constants().HPKEAead {
	case hpke.AES_128_GCM, hpke.AES_256_GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)

	case hpke.CHACHA20_POLY1305:
		return chacha20poly1305.New(key)
	}
	panic("Unsupported ciphersuite")
}

func (cs CipherSuite) newAEAD(key []byte) (cipher.AEAD, error) {
	return cs.NewAEAD(key)
}

func (cs CipherSuite) zero() []byte {
	return make([]byte, cs.Constants().SecretSize)
}

///
/// HKDF with MLS labels
///

func (cs CipherSuite) hkdfExtract(salt, ikm []byte) []byte {
	mac := cs.newHMAC(salt)
	mac.Write(ikm)
	return mac.Sum(nil)
}

func (cs CipherSuite) hkdfExpand(secret, info []byte, size int) []byte {
	last := []byte{}
	buf := []byte{}
	counter := byte(1)
	for len(buf) < size {
		mac := cs.newHMAC(secret)
		mac.Write(last)
		mac.Write(info)
		mac.Write([]byte{counter})

		last = mac.Sum(nil)
		counter += 1
		buf = append(buf, last...)
	}
	return buf[:size]
}

type hkdfLabel struct {
	Length  uint16
	Label   []byte `tls:"head=1"`
	Context []byte `tls:"head=4"`
}

func (cs CipherSuite) hkdfExpandLabel(secret []byte, label string, context []byte, length int) []byte {
	mlsLabel := []byte("mls10 " + label)
	labelData, err := syntax.Marshal(hkdfLabel{uint16(length), mlsLabel, context})
	if err != nil {
		panic(fmt.Errorf("mls.crypto: hkdfLabel marshal failure %v", err))
	}
	return cs.hkdfExpand(secret, labelData, length)
}

func (cs CipherSuite) deriveSecret(secret []byte, label string, context []byte) []byte {
	contextHash := cs.Digest(context)
	size := cs.Constants().SecretSize
	return cs.hkdfExpandLabel(secret, label, contextHash, size)
}

type applicationContext struct {
	Node       NodeIndex
	Generation uint32
}

func (cs CipherSuite) deriveAppSecret(secret []byte, label string, node NodeIndex, generation uint32, length int) []byte {
	ctx, err := syntax.Marshal(applicationContext{node, generation})
	if err != nil {
		panic(fmt.Errorf("mls.crypto: applicationContext marshal failure %v", err))
	}
	return cs.hkdfExpandLabel(secret, label, ctx, length)
}

///
/// HPKE
///

type HPKEPublicKey struct {
	Data []byte `tls:"head=2"`
}

func (k HPKEPublicKey) Equals(o HPKEPublicKey) bool {
	return bytes.Equal(k.Data, o.Data)
}

type HPKEPrivateKey struct {
	Data      []byte `tls:"head=2"`
	PublicKey HPKEPublicKey
}

type HPKECiphertext struct {
	KEMOutput  []byte `tls:"head=2"`
	Ciphertext []byte `tls:"head=4"`
}

type hpkeInstance struct {
	BaseSuite hpke.Suite
}

func (cs CipherSuite) hpke() hpkeInstance {
	c := cs.Constants()
	suite, err := hpke.NewSuite(c.HPKEKem, c.HPKEKdf, c.HPKEAead)
	if err != nil {
		panic(fmt.Errorf("mls.crypto: invalid HPKE suite %v", err))
	}
	return hpkeInstance{suite}
}

func (h hpkeInstance) Generate() (HPKEPrivateKey, error) {
	sk, pk, err := h.BaseSuite.KEM.GenerateKeyPair()
	if err != nil {
		return HPKEPrivateKey{}, err
	}

	key := HPKEPrivateKey{
		Data:      h.BaseSuite.KEM.SerializePrivate(sk),
		PublicKey: HPKEPublicKey{h.BaseSuite.KEM.SerializePublic(pk)},
	}
	return key, nil
}

func (h hpkeInstance) Derive(seed []byte) (HPKEPrivateKey, error) {
	sk, pk, err := h.BaseSuite.KEM.DeriveKeyPair(seed)
	if err != nil {
		return HPKEPrivateKey{}, err
	}

	key := HPKEPrivateKey{
		Data:      h.BaseSuite.KEM.SerializePrivate(sk),
		PublicKey: HPKEPublicKey{h.BaseSuite.KEM.SerializePublic(pk)},
	}
	return key, nil
}

func (h hpkeInstance) Encrypt(pub HPKEPublicKey, aad, pt []byte) (HPKECiphertext, error) {
	pkR, err := h.BaseSuite.KEM.DeserializePublic(pub.Data)
	if err != nil {
		return HPKECiphertext{}, err
	}

	enc, ctx, err := h.BaseSuite.SetupBaseS(pkR, nil)
	if err != nil {
		return HPKECiphertext{}, err
	}

	ct, err := ctx.Seal(aad, pt)
	if err != nil {
		return HPKECiphertext{}, err
	}
	return HPKECiphertext{enc, ct}, nil
}

func (h hpkeInstance) Decrypt(priv HPKEPrivateKey, aad []byte, ct HPKECiphertext) ([]byte, error) {
	skR, err := h.BaseSuite.KEM.DeserializePrivate(priv.Data)
	if err != nil {
		return nil, err
	}

	ctx, err := h.BaseSuite.SetupBaseR(ct.KEMOutput, skR, nil)
	if err != nil {
		return nil, err
	}
	return ctx.Open(aad, ct.Ciphertext)
}

///
/// Signing
///

type Signature struct {
	Data []byte `tls:"head=2"`
}

type SignaturePublicKey struct {
	Data []byte `tls:"head=2"`
}

func (pub SignaturePublicKey) Equals(other SignaturePublicKey) bool {
	return bytes.Equal(pub.Data, other.Data)
}

type SignaturePrivateKey struct {
	Data      []byte `tls:"head=2"`
	PublicKey SignaturePublicKey
}

type SignatureScheme uint16

const (
	SIGNATURE_SCHEME_UNKNOWN SignatureScheme = 0x0000
	ECDSA_SECP256R1_SHA256   SignatureScheme = 0x0403
	ECDSA_SECP521R1_SHA512   SignatureScheme = 0x0603
	Ed25519                  SignatureScheme = 0x0807
	Ed448                    SignatureScheme = 0x0808
)

func (ss SignatureScheme) supported() bool {
	switch ss {
	case ECDSA_SECP256R1_SHA256, ECDSA_SECP521R1_SHA512, Ed25519, Ed448:
		return true
	}
	return false
}

func (ss SignatureScheme) String() string {
	switch ss {
	case ECDSA_SECP256R1_SHA256:
		return "ECDSA_SECP256R1_SHA256"
	case ECDSA_SECP521R1_SHA512:
		return "ECDSA_SECP521R1_SHA512"
	case Ed25519:
		return "Ed25519"
	case Ed448:
		return "Ed448"
	}
	return "UnknownSignatureScheme"
}

func (ss SignatureScheme) curve() elliptic.Curve {
	switch ss {
	case ECDSA_SECP256R1_SHA256:
		return elliptic.P256()
	case ECDSA_SECP521R1_SHA512:
		return elliptic.P521()
	}
	panic("Unsupported signature scheme")
}

func (ss SignatureScheme) hashFunc() crypto.Hash {
	switch ss {
	case ECDSA_SECP256R1_SHA256, Ed25519:
		return crypto.SHA256
	case ECDSA_SECP521R1_SHA512, Ed448:
		return crypto.SHA512
	}
	panic("Unsupported signature scheme")
}

func (ss SignatureScheme) ecdsaKeyFromScalar(d []byte) SignaturePrivateKey {
	curve := ss.curve()
	x, y := curve.ScalarBaseMult(d)
	pub := elliptic.Marshal(curve, x, y)
	return SignaturePrivateKey{
		Data:      dup(d),
		PublicKey: SignaturePublicKey{pub},
	}
}

func (ss SignatureScheme) Generate() (SignaturePrivateKey, error) {
	switch ss {
	case ECDSA_SECP256R1_SHA256, ECDSA_SECP521R1_SHA512:
		d, _, _, err := elliptic.GenerateKey(ss.curve(), rand.Reader)
		if err != nil {
			return SignaturePrivateKey{}, err
		}
		return ss.ecdsaKeyFromScalar(d), nil

	case Ed25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return SignaturePrivateKey{}, err
		}
		return SignaturePrivateKey{
			Data:      priv,
			PublicKey: SignaturePublicKey{pub},
		}, nil

	case Ed448:
		pub, priv, err := ed448.GenerateKey(rand.Reader)
		if err != nil {
			return SignaturePrivateKey{}, err
		}
		return SignaturePrivateKey{
			Data:      priv,
			PublicKey: SignaturePublicKey{pub},
		}, nil
	}
	return SignaturePrivateKey{}, fmt.Errorf("mls.crypto: scheme %04x: %w", uint16(ss), ErrUnsupported)
}

func (ss SignatureScheme) Derive(preSeed []byte) (SignaturePrivateKey, error) {
	digest := ss.hashFunc().New()
	digest.Write(preSeed)
	seed := digest.Sum(nil)

	switch ss {
	case ECDSA_SECP256R1_SHA256, ECDSA_SECP521R1_SHA512:
		order := ss.curve().Params().N
		d := new(big.Int).SetBytes(seed)
		d.Mod(d, new(big.Int).Sub(order, big.NewInt(1)))
		d.Add(d, big.NewInt(1))
		return ss.ecdsaKeyFromScalar(d.Bytes()), nil

	case Ed25519:
		priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
		pub := priv.Public().(ed25519.PublicKey)
		return SignaturePrivateKey{
			Data:      priv,
			PublicKey: SignaturePublicKey{pub},
		}, nil

	case Ed448:
		priv := ed448.NewKeyFromSeed(seed[:ed448.SeedSize])
		pub := priv.Public().(ed448.PublicKey)
		return SignaturePrivateKey{
			Data:      priv,
			PublicKey: SignaturePublicKey{pub},
		}, nil
	}
	return SignaturePrivateKey{}, fmt.Errorf("mls.crypto: scheme %04x: %w", uint16(ss), ErrUnsupported)
}

type ecdsaSignature struct {
	R, S *big.Int
}

func (ss SignatureScheme) Sign(priv *SignaturePrivateKey, message []byte) ([]byte, error) {
	switch ss {
	case ECDSA_SECP256R1_SHA256, ECDSA_SECP521R1_SHA512:
		curve := ss.curve()
		key := &ecdsa.PrivateKey{
			PublicKey: ecdsa.PublicKey{Curve: curve},
			D:         new(big.Int).SetBytes(priv.Data),
		}
		key.X, key.Y = curve.ScalarBaseMult(priv.Data)

		digest := ss.hashFunc().New()
		digest.Write(message)

		r, s, err := ecdsa.Sign(rand.Reader, key, digest.Sum(nil))
		if err != nil {
			return nil, err
		}
		return asn1.Marshal(ecdsaSignature{r, s})

	case Ed25519:
		return ed25519.Sign(ed25519.PrivateKey(priv.Data), message), nil

	case Ed448:
		return ed448.Sign(ed448.PrivateKey(priv.Data), message, ""), nil
	}
	return nil, fmt.Errorf("mls.crypto: scheme %04x: %w", uint16(ss), ErrUnsupported)
}

func (ss SignatureScheme) Verify(pub *SignaturePublicKey, message, signature []byte) bool {
	switch ss {
	case ECDSA_SECP256R1_SHA256, ECDSA_SECP521R1_SHA512:
		curve := ss.curve()
		x, y := elliptic.Unmarshal(curve, pub.Data)
		if x == nil {
			return false
		}

		var sig ecdsaSignature
		rest, err := asn1.Unmarshal(signature, &sig)
		if err != nil || len(rest) > 0 {
			return false
		}

		digest := ss.hashFunc().New()
		digest.Write(message)

		key := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
		return ecdsa.Verify(key, digest.Sum(nil), sig.R, sig.S)

	case Ed25519:
		if len(pub.Data) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub.Data), message, signature)

	case Ed448:
		if len(pub.Data) != ed448.PublicKeySize {
			return false
		}
		return ed448.Verify(ed448.PublicKey(pub.Data), message, signature, "")
	}
	return false
}
