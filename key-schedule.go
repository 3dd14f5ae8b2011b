package mls

import (
	"fmt"

	"github.com/cisco/go-tls-syntax"
)

type keyAndNonce struct {
	Key   []byte `tls:"head=1"`
	Nonce []byte `tls:"head=1"`
}

type Bytes1 []byte

func (b Bytes1) MarshalTLS() ([]byte, error) {
	return syntax.Marshal(struct {
		Data []byte `tls:"head=1"`
	}{b})
}

func (b *Bytes1) UnmarshalTLS(data []byte) (int, error) {
	tmp := struct {
		Data []byte `tls:"head=1"`
	}{}
	read, err := syntax.Unmarshal(data, &tmp)
	if err != nil {
		return read, err
	}

	*b = dup(tmp.Data)
	return read, nil
}

///
/// Hash ratchet
///

// hashRatchet walks one sender's secret chain.  The chain secret for a
// generation is parked in Skipped until that generation is erased; key
// and nonce material is derived from it on demand instead of being
// cached alongside it.
type hashRatchet struct {
	Suite          CipherSuite
	Node           NodeIndex
	NextSecret     []byte `tls:"head=1"`
	NextGeneration uint32
	Skipped        map[uint32]Bytes1 `tls:"head=4"`
}

func newHashRatchet(suite CipherSuite, node NodeIndex, baseSecret []byte) *hashRatchet {
	return &hashRatchet{
		Suite:      suite,
		Node:       node,
		NextSecret: baseSecret,
		Skipped:    map[uint32]Bytes1{},
	}
}

// advance steps the chain forward once, parking the consumed chain
// secret under its generation number.
func (hr *hashRatchet) advance() uint32 {
	secretSize := hr.Suite.Constants().SecretSize
	generation := hr.NextGeneration
	next := hr.Suite.deriveAppSecret(hr.NextSecret, "app-secret", hr.Node, generation, secretSize)

	hr.Skipped[generation] = hr.NextSecret
	hr.NextSecret = next
	hr.NextGeneration += 1
	return generation
}

func (hr *hashRatchet) keys(generation uint32, chainSecret []byte) keyAndNonce {
	c := hr.Suite.Constants()
	return keyAndNonce{
		Key:   hr.Suite.deriveAppSecret(chainSecret, "app-key", hr.Node, generation, c.KeySize),
		Nonce: hr.Suite.deriveAppSecret(chainSecret, "app-nonce", hr.Node, generation, c.NonceSize),
	}
}

func (hr *hashRatchet) Next() (uint32, keyAndNonce) {
	generation := hr.advance()
	return generation, hr.keys(generation, hr.Skipped[generation])
}

func (hr *hashRatchet) Get(generation uint32) (keyAndNonce, error) {
	for hr.NextGeneration <= generation {
		hr.advance()
	}

	chainSecret, ok := hr.Skipped[generation]
	if !ok {
		return keyAndNonce{}, fmt.Errorf("mls.keys: request for expired generation %d", generation)
	}
	return hr.keys(generation, chainSecret), nil
}

func (hr *hashRatchet) Erase(generation uint32) {
	chainSecret, ok := hr.Skipped[generation]
	if !ok {
		return
	}

	zeroize(chainSecret)
	delete(hr.Skipped, generation)
}

///
/// Base key sources
///

// epochBaseSource dispenses the per-sender base secrets that seed the
// hash ratchets.  The flat flavor derives every sender's secret
// straight from the root secret and keeps it reproducible.  The tree
// flavor descends the secret tree, wiping each parent as its children
// are derived, so a sender's base secret can be produced exactly once.
type epochBaseSource struct {
	CipherSuite CipherSuite
	Size        LeafCount
	TreeWise    uint8
	RootSecret  []byte               `tls:"head=1"`
	TreeSecrets map[NodeIndex]Bytes1 `tls:"head=4"`
}

func newFlatBaseSource(suite CipherSuite, rootSecret []byte) *epochBaseSource {
	return &epochBaseSource{
		CipherSuite: suite,
		RootSecret:  rootSecret,
		TreeSecrets: map[NodeIndex]Bytes1{},
	}
}

func newTreeBaseSource(suite CipherSuite, size LeafCount, rootSecret []byte) *epochBaseSource {
	bs := &epochBaseSource{
		CipherSuite: suite,
		Size:        size,
		TreeWise:    1,
		RootSecret:  []byte{},
		TreeSecrets: map[NodeIndex]Bytes1{},
	}
	bs.TreeSecrets[root(size)] = rootSecret
	return bs
}

func (bs *epochBaseSource) Get(sender LeafIndex) []byte {
	secretSize := bs.CipherSuite.Constants().SecretSize
	node := toNodeIndex(sender)

	if bs.TreeWise == 0 {
		return bs.CipherSuite.deriveAppSecret(bs.RootSecret, "hs-secret", node, 0, secretSize)
	}

	bs.populate(node)
	out := dup(bs.TreeSecrets[node])
	zeroize(bs.TreeSecrets[node])
	delete(bs.TreeSecrets, node)
	return out
}

// populate makes the secret for node present, recursing to the parent
// when it is not.  A parent is wiped as soon as its children exist.
func (bs *epochBaseSource) populate(node NodeIndex) {
	if _, ok := bs.TreeSecrets[node]; ok {
		return
	}

	p := parent(node, bs.Size)
	if p == node {
		// Unpopulated root: the secret for this node was already
		// consumed
		panic("Unable to find source for base key")
	}
	bs.populate(p)

	secret := bs.TreeSecrets[p]
	secretSize := bs.CipherSuite.Constants().SecretSize
	L := left(p)
	R := right(p, bs.Size)
	bs.TreeSecrets[L] = bs.CipherSuite.deriveAppSecret(secret, "tree", L, 0, secretSize)
	bs.TreeSecrets[R] = bs.CipherSuite.deriveAppSecret(secret, "tree", R, 0, secretSize)
	zeroize(secret)
	delete(bs.TreeSecrets, p)
}

///
/// Group key source
///

// groupKeySource pairs a base source with the ratchets it has spawned.
type groupKeySource struct {
	Base     *epochBaseSource
	Ratchets map[LeafIndex]*hashRatchet
}

func (gks groupKeySource) ratchet(sender LeafIndex) *hashRatchet {
	if r, ok := gks.Ratchets[sender]; ok {
		return r
	}

	r := newHashRatchet(gks.Base.CipherSuite, toNodeIndex(sender), gks.Base.Get(sender))
	gks.Ratchets[sender] = r
	return r
}

func (gks groupKeySource) Next(sender LeafIndex) (uint32, keyAndNonce) {
	return gks.ratchet(sender).Next()
}

func (gks groupKeySource) Get(sender LeafIndex, generation uint32) (keyAndNonce, error) {
	return gks.ratchet(sender).Get(generation)
}

func (gks groupKeySource) Erase(sender LeafIndex, generation uint32) {
	gks.ratchet(sender).Erase(generation)
}

///
/// GroupInfo keys
///

// The GroupInfo key and nonce hang off an intermediate "group info"
// secret, not directly off the epoch secret.
func groupInfoKeyAndNonce(suite CipherSuite, epochSecret []byte) keyAndNonce {
	secretSize := suite.Constants().SecretSize
	keySize := suite.Constants().KeySize
	nonceSize := suite.Constants().NonceSize

	groupInfoSecret := suite.hkdfExpandLabel(epochSecret, "group info", []byte{}, secretSize)
	groupInfoKey := suite.hkdfExpandLabel(groupInfoSecret, "key", []byte{}, keySize)
	groupInfoNonce := suite.hkdfExpandLabel(groupInfoSecret, "nonce", []byte{}, nonceSize)

	return keyAndNonce{
		Key:   groupInfoKey,
		Nonce: groupInfoNonce,
	}
}

///
/// Key schedule epoch
///

type keyScheduleEpoch struct {
	Suite        CipherSuite
	GroupContext []byte `tls:"head=1"`

	EpochSecret       []byte `tls:"head=1"`
	SenderDataSecret  []byte `tls:"head=1"`
	SenderDataKey     []byte `tls:"head=1"`
	HandshakeSecret   []byte `tls:"head=1"`
	ApplicationSecret []byte `tls:"head=1"`
	ExporterSecret    []byte `tls:"head=1"`
	ConfirmationKey   []byte `tls:"head=1"`
	InitSecret        []byte `tls:"head=1"`
	MembershipKey     []byte `tls:"head=1"`

	HandshakeBaseKeys   *epochBaseSource
	ApplicationBaseKeys *epochBaseSource

	HandshakeRatchets   map[LeafIndex]*hashRatchet `tls:"head=4"`
	ApplicationRatchets map[LeafIndex]*hashRatchet `tls:"head=4"`

	ApplicationKeys *groupKeySource `tls:"omit"`
	HandshakeKeys   *groupKeySource `tls:"omit"`
}

// The fan-out labels and their order follow the protocol's epoch
// derivation; only the machinery around them is ours.
func newKeyScheduleEpoch(suite CipherSuite, size LeafCount, epochSecret, context []byte) keyScheduleEpoch {
	derive := func(label string) []byte {
		return suite.deriveSecret(epochSecret, label, context)
	}

	kse := keyScheduleEpoch{
		Suite:        suite,
		GroupContext: context,

		EpochSecret:       epochSecret,
		SenderDataSecret:  derive("sender data"),
		HandshakeSecret:   derive("handshake"),
		ApplicationSecret: derive("app"),
		ExporterSecret:    derive("exporter"),
		ConfirmationKey:   derive("confirm"),
		InitSecret:        derive("init"),
		MembershipKey:     derive("membership"),

		HandshakeRatchets:   map[LeafIndex]*hashRatchet{},
		ApplicationRatchets: map[LeafIndex]*hashRatchet{},
	}

	kse.SenderDataKey = suite.hkdfExpandLabel(kse.SenderDataSecret, "sd key", []byte{}, suite.Constants().KeySize)
	kse.HandshakeBaseKeys = newFlatBaseSource(suite, kse.HandshakeSecret)
	kse.ApplicationBaseKeys = newTreeBaseSource(suite, size, kse.ApplicationSecret)

	kse.enableKeySources()
	return kse
}

// Wire up the key sources as logic on top of data owned by the epoch
func (kse *keyScheduleEpoch) enableKeySources() {
	kse.HandshakeKeys = &groupKeySource{kse.HandshakeBaseKeys, kse.HandshakeRatchets}
	kse.ApplicationKeys = &groupKeySource{kse.ApplicationBaseKeys, kse.ApplicationRatchets}
}

// Next folds the optional PSK and the commit secret into the next
// epoch's secret with the two-extract schedule.
func (kse *keyScheduleEpoch) Next(size LeafCount, psk, commitSecret, context []byte) keyScheduleEpoch {
	if len(psk) == 0 {
		psk = kse.Suite.zero()
	}

	earlySecret := kse.Suite.hkdfExtract(psk, kse.InitSecret)
	preEpochSecret := kse.Suite.deriveSecret(earlySecret, "derived", context)
	epochSecret := kse.Suite.hkdfExtract(commitSecret, preEpochSecret)
	return newKeyScheduleEpoch(kse.Suite, size, epochSecret, context)
}

func (kse *keyScheduleEpoch) Export(label string, context []byte, keyLength int) []byte {
	exporterBase := kse.Suite.deriveSecret(kse.ExporterSecret, label, kse.GroupContext)
	hctx := kse.Suite.Digest(context)
	return kse.Suite.hkdfExpandLabel(exporterBase, "exporter", hctx, keyLength)
}
