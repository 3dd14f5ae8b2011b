package mls

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/x509"
	"fmt"

	"github.com/cisco/go-tls-syntax"
)

type CredentialType uint8

const (
	CredentialTypeInvalid CredentialType = 255
	CredentialTypeBasic   CredentialType = 0
	CredentialTypeX509    CredentialType = 1
)

func (ct CredentialType) ValidForTLS() error {
	return validateEnum(ct, CredentialTypeBasic, CredentialTypeX509)
}

//	struct {
//	    opaque identity<0..2^16-1>;
//	    SignatureScheme algorithm;
//	    SignaturePublicKey public_key;
//	} BasicCredential;
type BasicCredential struct {
	Identity        []byte `tls:"head=2"`
	SignatureScheme SignatureScheme
	PublicKey       SignaturePublicKey
}

func (bc BasicCredential) Equals(other *BasicCredential) bool {
	return bytes.Equal(bc.Identity, other.Identity) &&
		bc.SignatureScheme == other.SignatureScheme &&
		bc.PublicKey.Equals(other.PublicKey)
}

// X509Credential carries a certificate chain, leaf first.  On the wire
// each certificate travels as its own DER entry.
//
//	opaque certificate<1..2^24-1>;
//	certificate chain<1..2^32-1>;
type X509Credential struct {
	Chain []*x509.Certificate
}

type certificateData struct {
	Data []byte `tls:"head=3"`
}

type x509ChainData struct {
	Certificates []certificateData `tls:"head=4"`
}

// Scheme maps the leaf certificate's key type onto the signature
// schemes this package knows; SIGNATURE_SCHEME_UNKNOWN for anything
// else.
func (cred X509Credential) Scheme() SignatureScheme {
	if len(cred.Chain) == 0 {
		return SIGNATURE_SCHEME_UNKNOWN
	}

	switch pub := cred.Chain[0].PublicKey.(type) {
	case *ecdsa.PublicKey:
		switch pub.Curve {
		case elliptic.P256():
			return ECDSA_SECP256R1_SHA256
		case elliptic.P521():
			return ECDSA_SECP521R1_SHA512
		}
	case ed25519.PublicKey:
		return Ed25519
	}

	return SIGNATURE_SCHEME_UNKNOWN
}

func (cred X509Credential) PublicKey() *SignaturePublicKey {
	if len(cred.Chain) == 0 {
		return nil
	}

	switch pub := cred.Chain[0].PublicKey.(type) {
	case *ecdsa.PublicKey:
		return &SignaturePublicKey{Data: elliptic.Marshal(pub.Curve, pub.X, pub.Y)}
	case ed25519.PublicKey:
		return &SignaturePublicKey{Data: pub}
	}

	return nil
}

func (cred X509Credential) Equals(other *X509Credential) bool {
	if len(cred.Chain) != len(other.Chain) {
		return false
	}

	for i, cert := range cred.Chain {
		if !bytes.Equal(cert.Raw, other.Chain[i].Raw) {
			return false
		}
	}

	return true
}

func (cred X509Credential) MarshalTLS() ([]byte, error) {
	chain := x509ChainData{
		Certificates: make([]certificateData, len(cred.Chain)),
	}
	for i, cert := range cred.Chain {
		chain.Certificates[i] = certificateData{cert.Raw}
	}

	return syntax.Marshal(chain)
}

func (cred *X509Credential) UnmarshalTLS(data []byte) (int, error) {
	var chain x509ChainData
	read, err := syntax.Unmarshal(data, &chain)
	if err != nil {
		return 0, err
	}

	cred.Chain = make([]*x509.Certificate, len(chain.Certificates))
	for i, entry := range chain.Certificates {
		cred.Chain[i], err = x509.ParseCertificate(entry.Data)
		if err != nil {
			return 0, err
		}
	}

	return read, nil
}

// Verify walks the presented chain hop by hop, accepting as soon as a
// link is signed by one of the trusted certificates.  Only signatures
// and the hop-by-hop policy of CheckSignatureFrom are checked; name
// constraints are the caller's problem.
func (cred X509Credential) Verify(trusted []*x509.Certificate) error {
	anchors := map[string]*x509.Certificate{}
	for _, cert := range trusted {
		anchors[string(cert.RawSubject)] = cert
	}

	for i, cert := range cred.Chain {
		if anchor, ok := anchors[string(cert.RawIssuer)]; ok {
			if err := cert.CheckSignatureFrom(anchor); err == nil {
				return nil
			}
		}

		if i+1 == len(cred.Chain) {
			break
		}

		// Not anchored yet, so this link must be signed by the next
		// certificate in the chain
		if err := cert.CheckSignatureFrom(cred.Chain[i+1]); err != nil {
			return err
		}
	}

	return fmt.Errorf("mls.credential: no trust anchor for chain: %w", ErrInvalidParameter)
}

//	struct {
//	    CredentialType credential_type;
//	    select (Credential.credential_type) {
//	        case basic:
//	            BasicCredential;
//	        case x509:
//	            certificate chain<1..2^32-1>;
//	    };
//	} Credential;
type Credential struct {
	X509  *X509Credential
	Basic *BasicCredential
}

func NewBasicCredential(userID []byte, scheme SignatureScheme, pub SignaturePublicKey) *Credential {
	basicCredential := &BasicCredential{
		Identity:        userID,
		SignatureScheme: scheme,
		PublicKey:       pub,
	}
	return &Credential{Basic: basicCredential}
}

func NewX509Credential(chain []*x509.Certificate) (*Credential, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("mls.credential: at least one certificate is required: %w", ErrInvalidParameter)
	}

	return &Credential{X509: &X509Credential{Chain: chain}}, nil
}

// Accessors degrade gracefully on a malformed credential: Type reports
// CredentialTypeInvalid and the rest return zero values, so a decoder
// never has to fear a panic from hostile input.

func (c Credential) Type() CredentialType {
	switch {
	case c.X509 != nil:
		return CredentialTypeX509
	case c.Basic != nil:
		return CredentialTypeBasic
	default:
		return CredentialTypeInvalid
	}
}

// compare the public aspects
func (c Credential) Equals(o Credential) bool {
	if c.Type() != o.Type() {
		return false
	}

	switch c.Type() {
	case CredentialTypeX509:
		return c.X509.Equals(o.X509)
	case CredentialTypeBasic:
		return c.Basic.Equals(o.Basic)
	default:
		return false
	}
}

func (c Credential) Identity() []byte {
	switch c.Type() {
	case CredentialTypeX509:
		if len(c.X509.Chain) == 0 {
			return nil
		}
		return c.X509.Chain[0].RawSubject
	case CredentialTypeBasic:
		return c.Basic.Identity
	default:
		return nil
	}
}

func (c Credential) Scheme() SignatureScheme {
	switch c.Type() {
	case CredentialTypeX509:
		return c.X509.Scheme()
	case CredentialTypeBasic:
		return c.Basic.SignatureScheme
	default:
		return SIGNATURE_SCHEME_UNKNOWN
	}
}

func (c Credential) PublicKey() *SignaturePublicKey {
	switch c.Type() {
	case CredentialTypeX509:
		return c.X509.PublicKey()
	case CredentialTypeBasic:
		return &c.Basic.PublicKey
	default:
		return nil
	}
}

// SupportedBy reports whether the credential can sign under the given
// suite: its scheme must be the one the suite prescribes.
func (c Credential) SupportedBy(suite CipherSuite) bool {
	return suite.supported() && c.Scheme() == suite.Scheme()
}

// MatchesSigningKey reports whether the credential's public key is the
// public half of priv.
func (c Credential) MatchesSigningKey(priv SignaturePrivateKey) bool {
	pub := c.PublicKey()
	return pub != nil && pub.Equals(priv.PublicKey)
}

func (c Credential) MarshalTLS() ([]byte, error) {
	credentialType := c.Type()
	if credentialType == CredentialTypeInvalid {
		return nil, fmt.Errorf("mls.credential: cannot marshal malformed credential: %w", ErrInvalidParameter)
	}

	s := syntax.NewWriteStream()
	err := s.Write(credentialType)
	if err != nil {
		return nil, err
	}

	switch credentialType {
	case CredentialTypeX509:
		err = s.Write(c.X509)
	case CredentialTypeBasic:
		err = s.Write(c.Basic)
	}

	if err != nil {
		return nil, err
	}
	return s.Data(), nil
}

func (c *Credential) UnmarshalTLS(data []byte) (int, error) {
	s := syntax.NewReadStream(data)
	var credentialType CredentialType
	_, err := s.Read(&credentialType)
	if err != nil {
		return 0, err
	}

	switch credentialType {
	case CredentialTypeX509:
		c.X509 = new(X509Credential)
		c.Basic = nil
		_, err = s.Read(c.X509)
	case CredentialTypeBasic:
		c.Basic = new(BasicCredential)
		c.X509 = nil
		_, err = s.Read(c.Basic)
	default:
		err = fmt.Errorf("mls.credential: credential type %d not allowed: %w", credentialType, ErrInvalidParameter)
	}

	if err != nil {
		return 0, err
	}
	return s.Position(), nil
}
