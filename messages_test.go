package mls

import (
	"errors"
	"testing"

	"github.com/cisco/go-tls-syntax"
	"github.com/stretchr/testify/require"
)

func TestKeyPackage(t *testing.T) {
	for _, suite := range supportedSuites {
		kp, sigPriv := newTestKeyPackage(t, suite, []byte("alice"))

		t.Run(suite.String(), roundTrip(kp, new(KeyPackage)))

		// The hash is stable
		h1, err := kp.Hash()
		require.Nil(t, err)
		h2, err := kp.Hash()
		require.Nil(t, err)
		require.Equal(t, h1, h2)

		// Tampering invalidates the signature
		badKP := *kp
		badKP.InitKey = HPKEPublicKey{randomBytes(len(kp.InitKey.Data))}
		require.False(t, badKP.Verify())

		// Re-signing over the new contents makes it valid again
		err = badKP.Sign(sigPriv)
		require.Nil(t, err)
		require.True(t, badKP.Verify())

		// Signing with a key that does not match the credential fails
		otherPriv, err := suite.Scheme().Derive([]byte("mallory"))
		require.Nil(t, err)
		err = badKP.Sign(otherPriv)
		require.True(t, errors.Is(err, ErrInvalidParameter))
	}
}

func newTestGroupInfo(t *testing.T, suite CipherSuite) (*GroupInfo, *KeyPackage, SignaturePrivateKey) {
	kpA, privA := newTestKeyPackage(t, suite, []byte("alice"))
	kpB, _ := newTestKeyPackage(t, suite, []byte("bob"))

	tree := TreeKEMPublicKey{}
	tree.AddLeaf(*kpA)
	tree.AddLeaf(*kpB)

	gi := &GroupInfo{
		GroupID:                 unhex("0007"),
		Epoch:                   121,
		Tree:                    tree,
		ConfirmedTranscriptHash: []byte{0x03, 0x04, 0x05, 0x06},
		InterimTranscriptHash:   []byte{0x02, 0x03, 0x04, 0x05},
		Extensions:              NewExtensionList(),
		Confirmation:            []byte{0x00, 0x00, 0x00, 0x00},
	}

	err := gi.Sign(0, privA)
	require.Nil(t, err)
	return gi, kpA, privA
}

func TestGroupInfoSignVerify(t *testing.T) {
	suite := X25519_AES128GCM_SHA256_Ed25519
	gi, _, privA := newTestGroupInfo(t, suite)

	require.Nil(t, gi.Verify())
	require.Equal(t, LeafIndex(0), gi.SignerIndex)

	t.Run("GroupInfo", roundTrip(gi, new(GroupInfo)))

	// Signing from a blank leaf fails
	blankTree := gi.Tree.Clone()
	blankTree.BlankLeaf(0)
	badGI := *gi
	badGI.Tree = blankTree
	err := badGI.Sign(0, privA)
	require.True(t, errors.Is(err, ErrInvalidParameter))

	// Signing with a key that does not match the leaf credential fails
	otherPriv, err := suite.Scheme().Derive([]byte("mallory"))
	require.Nil(t, err)
	badGI = *gi
	err = badGI.Sign(0, otherPriv)
	require.True(t, errors.Is(err, ErrInvalidParameter))

	// Out-of-range signer index fails verification
	badGI = *gi
	badGI.SignerIndex = 17
	require.Error(t, badGI.Verify())

	// A tampered signature fails verification
	badGI = *gi
	badGI.Signature = dup(gi.Signature)
	badGI.Signature[2] ^= 0xFF
	err = badGI.Verify()
	require.True(t, errors.Is(err, ErrProtocol))
}

func TestWelcome(t *testing.T) {
	suite := X25519_AES128GCM_SHA256_Ed25519
	gi, _, _ := newTestGroupInfo(t, suite)

	// Charlie is the recipient being welcomed
	kpC, _ := newTestKeyPackage(t, suite, []byte("charlie"))
	initPrivC, err := suite.hpke().Derive(append([]byte("init"), []byte("charlie")...))
	require.Nil(t, err)

	epochSecret := randomBytes(suite.Constants().SecretSize)
	welcome, err := NewWelcome(suite, epochSecret, gi)
	require.Nil(t, err)

	err = welcome.EncryptTo(*kpC, []byte("path secret"))
	require.Nil(t, err)

	// Only the wire fields survive a round trip; the cached epoch
	// secret stays with the committer
	wireWelcome := *welcome
	wireWelcome.epochSecret = nil
	t.Run("Welcome", roundTrip(&wireWelcome, new(Welcome)))

	// The recipient finds its entry by key package hash
	idx, ok := welcome.Find(*kpC)
	require.True(t, ok)
	require.Equal(t, 0, idx)

	hash, err := kpC.Hash()
	require.Nil(t, err)
	require.Equal(t, hash, welcome.Secrets[idx].KeyPackageHash)

	// A non-recipient does not find an entry
	kpD, _ := newTestKeyPackage(t, suite, []byte("dave"))
	_, ok = welcome.Find(*kpD)
	require.False(t, ok)

	// The recipient recovers the group secrets with its init key...
	gsData, err := suite.hpke().Decrypt(initPrivC, []byte{}, welcome.Secrets[idx].EncryptedGroupSecrets)
	require.Nil(t, err)

	var gs GroupSecrets
	_, err = syntax.Unmarshal(gsData, &gs)
	require.Nil(t, err)
	require.Equal(t, epochSecret, gs.EpochSecret)
	require.NotNil(t, gs.PathSecret)
	require.Equal(t, []byte("path secret"), gs.PathSecret.Data)

	// ...and uses the epoch secret to recover the signed GroupInfo
	gi2, err := welcome.Decrypt(gs.EpochSecret)
	require.Nil(t, err)
	require.Nil(t, gi2.Verify())
	require.Equal(t, gi.GroupID, gi2.GroupID)
	require.Equal(t, gi.Epoch, gi2.Epoch)
	require.Equal(t, gi.Signature, gi2.Signature)

	// The wrong epoch secret fails closed
	_, err = welcome.Decrypt(randomBytes(suite.Constants().SecretSize))
	require.True(t, errors.Is(err, ErrWelcomeDecryptionFailed))
}

func TestWelcomeWithoutPathSecret(t *testing.T) {
	suite := P256_AES128GCM_SHA256_P256
	gi, _, _ := newTestGroupInfo(t, suite)

	kpC, _ := newTestKeyPackage(t, suite, []byte("charlie"))
	initPrivC, err := suite.hpke().Derive(append([]byte("init"), []byte("charlie")...))
	require.Nil(t, err)

	epochSecret := randomBytes(suite.Constants().SecretSize)
	welcome, err := NewWelcome(suite, epochSecret, gi)
	require.Nil(t, err)

	err = welcome.EncryptTo(*kpC, nil)
	require.Nil(t, err)

	idx, ok := welcome.Find(*kpC)
	require.True(t, ok)

	gsData, err := suite.hpke().Decrypt(initPrivC, []byte{}, welcome.Secrets[idx].EncryptedGroupSecrets)
	require.Nil(t, err)

	var gs GroupSecrets
	_, err = syntax.Unmarshal(gsData, &gs)
	require.Nil(t, err)
	require.Equal(t, epochSecret, gs.EpochSecret)
	require.Nil(t, gs.PathSecret)
}
