package mls

import (
	"fmt"

	"github.com/cisco/go-tls-syntax"
)

type ProtocolVersion uint8

const (
	ProtocolVersionMLS10 ProtocolVersion = 0x00
)

///
/// KeyPackage
///

//	struct {
//	    ProtocolVersion version;
//	    CipherSuite cipher_suite;
//	    HPKEPublicKey init_key;
//	    Credential credential;
//	    Extension extensions<0..2^16-1>;
//	    opaque signature<0..2^16-1>;
//	} KeyPackage;
type KeyPackage struct {
	Version     ProtocolVersion
	CipherSuite CipherSuite
	InitKey     HPKEPublicKey
	Credential  Credential
	Extensions  ExtensionList
	Signature   Signature
}

func NewKeyPackage(suite CipherSuite, initKey HPKEPublicKey, cred *Credential, priv SignaturePrivateKey) (*KeyPackage, error) {
	kp := &KeyPackage{
		Version:     ProtocolVersionMLS10,
		CipherSuite: suite,
		InitKey:     initKey,
		Credential:  *cred,
		Extensions:  NewExtensionList(),
	}

	if err := kp.Sign(priv); err != nil {
		return nil, err
	}
	return kp, nil
}

func (kp KeyPackage) toBeSigned() ([]byte, error) {
	return syntax.Marshal(struct {
		Version     ProtocolVersion
		CipherSuite CipherSuite
		InitKey     HPKEPublicKey
		Credential  Credential
		Extensions  ExtensionList
	}{
		Version:     kp.Version,
		CipherSuite: kp.CipherSuite,
		InitKey:     kp.InitKey,
		Credential:  kp.Credential,
		Extensions:  kp.Extensions,
	})
}

func (kp *KeyPackage) Sign(priv SignaturePrivateKey) error {
	if !kp.Credential.SupportedBy(kp.CipherSuite) {
		return fmt.Errorf("mls.keypackage: credential scheme does not match suite: %w", ErrInvalidParameter)
	}

	if !kp.Credential.MatchesSigningKey(priv) {
		return fmt.Errorf("mls.keypackage: credential and signing key disagree: %w", ErrInvalidParameter)
	}

	tbs, err := kp.toBeSigned()
	if err != nil {
		return err
	}

	sig, err := kp.Credential.Scheme().Sign(&priv, tbs)
	if err != nil {
		return err
	}

	kp.Signature = Signature{sig}
	return nil
}

func (kp KeyPackage) Verify() bool {
	pub := kp.Credential.PublicKey()
	if pub == nil || !kp.Credential.SupportedBy(kp.CipherSuite) {
		return false
	}

	tbs, err := kp.toBeSigned()
	if err != nil {
		return false
	}
	return kp.Credential.Scheme().Verify(pub, tbs, kp.Signature.Data)
}

// Hash is the identity under which a Welcome addresses this key
// package.
func (kp KeyPackage) Hash() ([]byte, error) {
	data, err := syntax.Marshal(kp)
	if err != nil {
		return nil, err
	}
	return kp.CipherSuite.Digest(data), nil
}

///
/// GroupInfo
///

//	struct {
//	    opaque group_id<0..255>;
//	    uint64 epoch;
//	    optional<KeyPackage> tree<1..2^32-1>;
//	    opaque confirmed_transcript_hash<0..255>;
//	    opaque interim_transcript_hash<0..255>;
//	    Extension extensions<0..2^16-1>;
//	    opaque confirmation<0..255>;
//	    uint32 signer_index;
//	    opaque signature<0..2^16-1>;
//	} GroupInfo;
type GroupInfo struct {
	GroupID                 []byte `tls:"head=1"`
	Epoch                   Epoch
	Tree                    TreeKEMPublicKey
	ConfirmedTranscriptHash []byte `tls:"head=1"`
	InterimTranscriptHash   []byte `tls:"head=1"`
	Extensions              ExtensionList
	Confirmation            []byte `tls:"head=1"`
	SignerIndex             LeafIndex
	Signature               []byte `tls:"head=2"`
}

func (gi GroupInfo) toBeSigned() ([]byte, error) {
	return syntax.Marshal(struct {
		GroupID                 []byte `tls:"head=1"`
		Epoch                   Epoch
		Tree                    TreeKEMPublicKey
		ConfirmedTranscriptHash []byte `tls:"head=1"`
		InterimTranscriptHash   []byte `tls:"head=1"`
		Confirmation            []byte `tls:"head=1"`
		SignerIndex             LeafIndex
	}{
		GroupID:                 gi.GroupID,
		Epoch:                   gi.Epoch,
		Tree:                    gi.Tree,
		ConfirmedTranscriptHash: gi.ConfirmedTranscriptHash,
		InterimTranscriptHash:   gi.InterimTranscriptHash,
		Confirmation:            gi.Confirmation,
		SignerIndex:             gi.SignerIndex,
	})
}

// Sign requires the signer's leaf to be populated and its credential to
// match the signing key.
func (gi *GroupInfo) Sign(index LeafIndex, priv SignaturePrivateKey) error {
	kp, ok := gi.Tree.KeyPackage(index)
	if !ok {
		return fmt.Errorf("mls.groupinfo: cannot sign from a blank leaf: %w", ErrInvalidParameter)
	}

	if !kp.Credential.MatchesSigningKey(priv) {
		return fmt.Errorf("mls.groupinfo: bad key for index %d: %w", index, ErrInvalidParameter)
	}

	gi.SignerIndex = index

	tbs, err := gi.toBeSigned()
	if err != nil {
		return err
	}

	sig, err := kp.Credential.Scheme().Sign(&priv, tbs)
	if err != nil {
		return err
	}

	gi.Signature = sig
	return nil
}

func (gi GroupInfo) Verify() error {
	kp, ok := gi.Tree.KeyPackage(gi.SignerIndex)
	if !ok {
		return fmt.Errorf("mls.groupinfo: signer leaf is blank: %w", ErrInvalidParameter)
	}

	pub := kp.Credential.PublicKey()
	if pub == nil {
		return fmt.Errorf("mls.groupinfo: signer credential is malformed: %w", ErrInvalidParameter)
	}

	tbs, err := gi.toBeSigned()
	if err != nil {
		return err
	}

	if !kp.Credential.Scheme().Verify(pub, tbs, gi.Signature) {
		return fmt.Errorf("mls.groupinfo: signature verification failed: %w", ErrProtocol)
	}
	return nil
}

///
/// Welcome
///

//	struct {
//	    opaque epoch_secret<1..255>;
//	    optional<PathSecret> path_secret;
//	} GroupSecrets;
type GroupSecrets struct {
	EpochSecret []byte      `tls:"head=1"`
	PathSecret  *PathSecret `tls:"optional"`
}

type PathSecret struct {
	Data []byte `tls:"head=1"`
}

//	struct {
//	    opaque key_package_hash<1..255>;
//	    HPKECiphertext encrypted_group_secrets;
//	} EncryptedGroupSecrets;
type EncryptedGroupSecrets struct {
	KeyPackageHash        []byte `tls:"head=1"`
	EncryptedGroupSecrets HPKECiphertext
}

//	struct {
//	    ProtocolVersion version = mls10;
//	    CipherSuite cipher_suite;
//	    EncryptedGroupSecrets secrets<0..2^32-1>;
//	    opaque encrypted_group_info<1..2^32-1>;
//	} Welcome;
type Welcome struct {
	Version            ProtocolVersion
	CipherSuite        CipherSuite
	Secrets            []EncryptedGroupSecrets `tls:"head=4"`
	EncryptedGroupInfo []byte                  `tls:"head=4"`

	epochSecret []byte `tls:"omit"`
}

// NewWelcome seals a signed GroupInfo under keys derived from the epoch
// secret.  Recipients are added with EncryptTo.
func NewWelcome(suite CipherSuite, epochSecret []byte, groupInfo *GroupInfo) (*Welcome, error) {
	giData, err := syntax.Marshal(groupInfo)
	if err != nil {
		return nil, fmt.Errorf("mls.welcome: groupInfo marshal failure %v", err)
	}

	kn := groupInfoKeyAndNonce(suite, epochSecret)
	aead, err := suite.newAEAD(kn.Key)
	if err != nil {
		return nil, err
	}
	encGi := aead.Seal(nil, kn.Nonce, giData, []byte{})

	return &Welcome{
		Version:            ProtocolVersionMLS10,
		CipherSuite:        suite,
		EncryptedGroupInfo: encGi,
		epochSecret:        dup(epochSecret),
	}, nil
}

// EncryptTo HPKE-seals the group secrets to one recipient's init key
// and records them under the recipient's key package hash.
func (w *Welcome) EncryptTo(kp KeyPackage, pathSecret []byte) error {
	gs := GroupSecrets{
		EpochSecret: w.epochSecret,
	}
	if pathSecret != nil {
		gs.PathSecret = &PathSecret{pathSecret}
	}

	pt, err := syntax.Marshal(gs)
	if err != nil {
		return fmt.Errorf("mls.welcome: groupSecrets marshal failure %v", err)
	}

	egs, err := kp.CipherSuite.hpke().Encrypt(kp.InitKey, []byte{}, pt)
	if err != nil {
		return err
	}

	kpHash, err := kp.Hash()
	if err != nil {
		return err
	}

	w.Secrets = append(w.Secrets, EncryptedGroupSecrets{
		KeyPackageHash:        kpHash,
		EncryptedGroupSecrets: egs,
	})
	return nil
}

// Find returns the index of the secrets entry addressed to this key
// package.  Duplicate entries are not collapsed; the first match wins.
func (w Welcome) Find(kp KeyPackage) (int, bool) {
	hash, err := kp.Hash()
	if err != nil {
		return 0, false
	}

	for i, egs := range w.Secrets {
		if constantTimeEq(hash, egs.KeyPackageHash) {
			return i, true
		}
	}
	return 0, false
}

// Decrypt recovers the GroupInfo given the epoch secret a recipient
// obtained from its group secrets.
func (w Welcome) Decrypt(epochSecret []byte) (*GroupInfo, error) {
	kn := groupInfoKeyAndNonce(w.CipherSuite, epochSecret)
	aead, err := w.CipherSuite.newAEAD(kn.Key)
	if err != nil {
		return nil, err
	}

	giData, err := aead.Open(nil, kn.Nonce, w.EncryptedGroupInfo, []byte{})
	if err != nil {
		return nil, ErrWelcomeDecryptionFailed
	}

	gi := new(GroupInfo)
	if _, err := syntax.Unmarshal(giData, gi); err != nil {
		return nil, fmt.Errorf("mls.welcome: groupInfo unmarshal failure %v", err)
	}
	return gi, nil
}
