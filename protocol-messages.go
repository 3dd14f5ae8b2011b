package mls

import (
	"crypto/hmac"
	"crypto/rand"
	"fmt"

	"github.com/cisco/go-tls-syntax"
)

type Epoch uint64

type ContentType uint8

const (
	ContentTypeInvalid     ContentType = 0
	ContentTypeApplication ContentType = 1
	ContentTypeProposal    ContentType = 2
	ContentTypeCommit      ContentType = 3
)

func (ct ContentType) ValidForTLS() error {
	return validateEnum(ct, ContentTypeApplication, ContentTypeProposal, ContentTypeCommit)
}

type SenderType uint8

const (
	SenderTypeInvalid       SenderType = 0
	SenderTypeMember        SenderType = 1
	SenderTypePreconfigured SenderType = 2
	SenderTypeNewMember     SenderType = 3
)

func (st SenderType) ValidForTLS() error {
	return validateEnum(st, SenderTypeMember, SenderTypePreconfigured, SenderTypeNewMember)
}

type Sender struct {
	Type   SenderType
	Sender uint32
}

///
/// GroupContext
///

// GroupContext captures the epoch-bound group state that signatures and
// membership tags are computed over.  It is supplied by the state layer.
type GroupContext struct {
	GroupID                 []byte `tls:"head=1"`
	Epoch                   Epoch
	TreeHash                []byte `tls:"head=1"`
	ConfirmedTranscriptHash []byte `tls:"head=1"`
}

///
/// Content types
///

type ApplicationData struct {
	Data []byte `tls:"head=4"`
}

type ProposalType uint8

const (
	ProposalTypeInvalid ProposalType = 0
	ProposalTypeAdd     ProposalType = 1
	ProposalTypeUpdate  ProposalType = 2
	ProposalTypeRemove  ProposalType = 3
)

func (pt ProposalType) ValidForTLS() error {
	return validateEnum(pt, ProposalTypeAdd, ProposalTypeUpdate, ProposalTypeRemove)
}

type AddProposal struct {
	KeyPackage KeyPackage
}

type UpdateProposal struct {
	LeafKey HPKEPublicKey
}

type RemoveProposal struct {
	Removed LeafIndex
}

type Proposal struct {
	Add    *AddProposal
	Update *UpdateProposal
	Remove *RemoveProposal
}

func (p Proposal) Type() ProposalType {
	switch {
	case p.Add != nil:
		return ProposalTypeAdd
	case p.Update != nil:
		return ProposalTypeUpdate
	case p.Remove != nil:
		return ProposalTypeRemove
	default:
		panic("Malformed proposal")
	}
}

func (p Proposal) MarshalTLS() ([]byte, error) {
	s := syntax.NewWriteStream()
	proposalType := p.Type()
	err := s.Write(proposalType)
	if err != nil {
		return nil, err
	}

	switch proposalType {
	case ProposalTypeAdd:
		err = s.Write(p.Add)
	case ProposalTypeUpdate:
		err = s.Write(p.Update)
	case ProposalTypeRemove:
		err = s.Write(p.Remove)
	default:
		return nil, fmt.Errorf("mls.proposal: type not allowed: %w", ErrInvalidParameter)
	}

	if err != nil {
		return nil, err
	}
	return s.Data(), nil
}

func (p *Proposal) UnmarshalTLS(data []byte) (int, error) {
	s := syntax.NewReadStream(data)
	var proposalType ProposalType
	_, err := s.Read(&proposalType)
	if err != nil {
		return 0, err
	}

	switch proposalType {
	case ProposalTypeAdd:
		p.Add = new(AddProposal)
		_, err = s.Read(p.Add)
	case ProposalTypeUpdate:
		p.Update = new(UpdateProposal)
		_, err = s.Read(p.Update)
	case ProposalTypeRemove:
		p.Remove = new(RemoveProposal)
		_, err = s.Read(p.Remove)
	default:
		err = fmt.Errorf("mls.proposal: unknown type %d: %w", proposalType, ErrInvalidParameter)
	}

	if err != nil {
		return 0, err
	}
	return s.Position(), nil
}

// ProposalID is the hash of a marshaled proposal plaintext, used by a
// Commit to reference the proposals it covers.
type ProposalID struct {
	Hash []byte `tls:"head=1"`
}

type Commit struct {
	Updates []ProposalID `tls:"head=4"`
	Removes []ProposalID `tls:"head=4"`
	Adds    []ProposalID `tls:"head=4"`
}

///
/// MLSPlaintext
///

type MAC struct {
	Value []byte `tls:"head=1"`
}

type MLSPlaintextContent struct {
	Application *ApplicationData
	Proposal    *Proposal
	Commit      *Commit
}

func (c MLSPlaintextContent) Type() ContentType {
	switch {
	case c.Application != nil:
		return ContentTypeApplication
	case c.Proposal != nil:
		return ContentTypeProposal
	case c.Commit != nil:
		return ContentTypeCommit
	default:
		panic("Malformed plaintext content")
	}
}

func (c MLSPlaintextContent) MarshalTLS() ([]byte, error) {
	s := syntax.NewWriteStream()
	contentType := c.Type()
	err := s.Write(contentType)
	if err != nil {
		return nil, err
	}

	switch contentType {
	case ContentTypeApplication:
		err = s.Write(c.Application)
	case ContentTypeProposal:
		err = s.Write(c.Proposal)
	case ContentTypeCommit:
		err = s.Write(c.Commit)
	default:
		return nil, fmt.Errorf("mls.plaintext: content type not allowed: %w", ErrInvalidParameter)
	}

	if err != nil {
		return nil, err
	}
	return s.Data(), nil
}

func (c *MLSPlaintextContent) UnmarshalTLS(data []byte) (int, error) {
	s := syntax.NewReadStream(data)
	var contentType ContentType
	_, err := s.Read(&contentType)
	if err != nil {
		return 0, err
	}

	switch contentType {
	case ContentTypeApplication:
		c.Application = new(ApplicationData)
		_, err = s.Read(c.Application)
	case ContentTypeProposal:
		c.Proposal = new(Proposal)
		_, err = s.Read(c.Proposal)
	case ContentTypeCommit:
		c.Commit = new(Commit)
		_, err = s.Read(c.Commit)
	default:
		err = fmt.Errorf("mls.plaintext: unknown content type %d: %w", contentType, ErrInvalidParameter)
	}

	if err != nil {
		return 0, err
	}
	return s.Position(), nil
}

type MLSPlaintext struct {
	GroupID           []byte `tls:"head=1"`
	Epoch             Epoch
	Sender            Sender
	AuthenticatedData []byte `tls:"head=4"`
	Content           MLSPlaintextContent
	Signature         Signature
	ConfirmationTag   *MAC `tls:"optional"`
	MembershipTag     *MAC `tls:"optional"`

	// Decrypted records that this plaintext was recovered from an
	// MLSCiphertext whose AEAD already authenticated the sender, so the
	// membership tag need not be present or re-verified.  It is set
	// only by decryptCiphertext, never from the wire.
	Decrypted bool `tls:"omit"`
}

func (pt MLSPlaintext) toBeSigned(ctx GroupContext) ([]byte, error) {
	s := NewWriteStream()
	err := s.WriteAll(ctx, struct {
		GroupID           []byte `tls:"head=1"`
		Epoch             Epoch
		Sender            Sender
		AuthenticatedData []byte `tls:"head=4"`
		Content           MLSPlaintextContent
	}{
		GroupID:           pt.GroupID,
		Epoch:             pt.Epoch,
		Sender:            pt.Sender,
		AuthenticatedData: pt.AuthenticatedData,
		Content:           pt.Content,
	})
	if err != nil {
		return nil, err
	}
	return s.Data(), nil
}

func (pt *MLSPlaintext) Sign(suite CipherSuite, ctx GroupContext, priv SignaturePrivateKey) error {
	tbs, err := pt.toBeSigned(ctx)
	if err != nil {
		return err
	}

	sig, err := suite.Scheme().Sign(&priv, tbs)
	if err != nil {
		return err
	}

	pt.Signature = Signature{sig}
	return nil
}

func (pt MLSPlaintext) Verify(suite CipherSuite, ctx GroupContext, pub *SignaturePublicKey) bool {
	tbs, err := pt.toBeSigned(ctx)
	if err != nil {
		return false
	}
	return suite.Scheme().Verify(pub, tbs, pt.Signature.Data)
}

func (pt MLSPlaintext) membershipTagInput(ctx GroupContext) ([]byte, error) {
	tbs, err := pt.toBeSigned(ctx)
	if err != nil {
		return nil, err
	}

	s := NewWriteStream()
	err = s.WriteAll(pt.Signature, struct {
		ConfirmationTag *MAC `tls:"optional"`
	}{pt.ConfirmationTag})
	if err != nil {
		return nil, err
	}
	return append(tbs, s.Data()...), nil
}

func (pt *MLSPlaintext) SetMembershipTag(suite CipherSuite, ctx GroupContext, membershipKey []byte) error {
	tbm, err := pt.membershipTagInput(ctx)
	if err != nil {
		return err
	}

	mac := suite.newHMAC(membershipKey)
	mac.Write(tbm)
	pt.MembershipTag = &MAC{mac.Sum(nil)}
	return nil
}

// VerifyMembershipTag accepts a plaintext whose sender was already
// authenticated at the AEAD layer (Decrypted set), and otherwise
// recomputes the tag and compares in constant time.
func (pt MLSPlaintext) VerifyMembershipTag(suite CipherSuite, ctx GroupContext, membershipKey []byte) bool {
	if pt.Decrypted {
		return true
	}

	if pt.MembershipTag == nil {
		return false
	}

	tbm, err := pt.membershipTagInput(ctx)
	if err != nil {
		return false
	}

	mac := suite.newHMAC(membershipKey)
	mac.Write(tbm)
	return hmac.Equal(mac.Sum(nil), pt.MembershipTag.Value)
}

// CommitContent is the deterministic byte string a Commit contributes to
// the confirmed transcript hash.
func (pt MLSPlaintext) CommitContent() ([]byte, error) {
	s := NewWriteStream()
	err := s.Write(struct {
		GroupID   []byte `tls:"head=1"`
		Epoch     Epoch
		Sender    Sender
		Content   MLSPlaintextContent
		Signature Signature
	}{
		GroupID:   pt.GroupID,
		Epoch:     pt.Epoch,
		Sender:    pt.Sender,
		Content:   pt.Content,
		Signature: pt.Signature,
	})
	if err != nil {
		return nil, err
	}
	return s.Data(), nil
}

// CommitAuthData is the confirmation tag's contribution to the interim
// transcript hash.
func (pt MLSPlaintext) CommitAuthData() ([]byte, error) {
	return syntax.Marshal(struct {
		ConfirmationTag *MAC `tls:"optional"`
	}{pt.ConfirmationTag})
}

///
/// MLSCiphertext
///

type MLSCiphertext struct {
	GroupID             []byte `tls:"head=1"`
	Epoch               Epoch
	ContentType         ContentType
	AuthenticatedData   []byte `tls:"head=4"`
	SenderDataNonce     []byte `tls:"head=1"`
	EncryptedSenderData []byte `tls:"head=1"`
	Ciphertext          []byte `tls:"head=4"`
}

func senderDataAAD(groupID []byte, epoch Epoch, contentType ContentType, nonce []byte) []byte {
	s := NewWriteStream()
	err := s.Write(struct {
		GroupID         []byte `tls:"head=1"`
		Epoch           Epoch
		ContentType     ContentType
		SenderDataNonce []byte `tls:"head=1"`
	}{
		GroupID:         groupID,
		Epoch:           epoch,
		ContentType:     contentType,
		SenderDataNonce: nonce,
	})
	if err != nil {
		return nil
	}
	return s.Data()
}

func contentAAD(groupID []byte, epoch Epoch, contentType ContentType,
	authenticatedData, senderDataNonce, encryptedSenderData []byte) []byte {

	s := NewWriteStream()
	err := s.Write(struct {
		GroupID             []byte `tls:"head=1"`
		Epoch               Epoch
		ContentType         ContentType
		AuthenticatedData   []byte `tls:"head=4"`
		SenderDataNonce     []byte `tls:"head=1"`
		EncryptedSenderData []byte `tls:"head=1"`
	}{
		GroupID:             groupID,
		Epoch:               epoch,
		ContentType:         contentType,
		AuthenticatedData:   authenticatedData,
		SenderDataNonce:     senderDataNonce,
		EncryptedSenderData: encryptedSenderData,
	})
	if err != nil {
		return nil
	}
	return s.Data()
}

func applyGuard(nonceIn []byte, reuseGuard [4]byte) []byte {
	nonceOut := dup(nonceIn)
	for i := range reuseGuard {
		nonceOut[i] ^= reuseGuard[i]
	}
	return nonceOut
}

// marshalContent produces the AEAD plaintext of an MLSCiphertext: the
// tagged content followed by the signature, the optional confirmation
// tag, and an empty padding vector.
func (pt MLSPlaintext) marshalContent() ([]byte, error) {
	s := NewWriteStream()
	err := s.WriteAll(pt.Content, pt.Signature, struct {
		ConfirmationTag *MAC `tls:"optional"`
	}{pt.ConfirmationTag}, struct {
		Padding []byte `tls:"head=2"`
	}{})
	if err != nil {
		return nil, err
	}
	return s.Data(), nil
}

// encryptPlaintext turns a signed MLSPlaintext into an MLSCiphertext
// using the epoch's ratcheted keys for the sending leaf.
func (kse *keyScheduleEpoch) encryptPlaintext(index LeafIndex, pt *MLSPlaintext) (*MLSCiphertext, error) {
	var generation uint32
	var keys keyAndNonce
	contentType := pt.Content.Type()
	switch contentType {
	case ContentTypeApplication:
		generation, keys = kse.ApplicationKeys.Next(index)
	case ContentTypeProposal, ContentTypeCommit:
		generation, keys = kse.HandshakeKeys.Next(index)
	default:
		return nil, fmt.Errorf("mls.framing: encrypt unknown content type: %w", ErrInvalidParameter)
	}

	var reuseGuard [4]byte
	rand.Read(reuseGuard[:])

	stream := NewWriteStream()
	err := stream.WriteAll(index, generation, reuseGuard)
	if err != nil {
		return nil, fmt.Errorf("mls.framing: sender data marshal failure %v", err)
	}
	senderData := stream.Data()

	senderDataNonce := make([]byte, kse.Suite.Constants().NonceSize)
	rand.Read(senderDataNonce)
	sdAAD := senderDataAAD(pt.GroupID, pt.Epoch, contentType, senderDataNonce)
	sdAead, err := kse.Suite.newAEAD(kse.SenderDataKey)
	if err != nil {
		return nil, err
	}
	sdCt := sdAead.Seal(nil, senderDataNonce, senderData, sdAAD)

	content, err := pt.marshalContent()
	if err != nil {
		return nil, fmt.Errorf("mls.framing: content marshal failure %v", err)
	}

	aad := contentAAD(pt.GroupID, pt.Epoch, contentType,
		pt.AuthenticatedData, senderDataNonce, sdCt)
	aead, err := kse.Suite.newAEAD(keys.Key)
	if err != nil {
		return nil, err
	}
	contentCt := aead.Seal(nil, applyGuard(keys.Nonce, reuseGuard), content, aad)

	return &MLSCiphertext{
		GroupID:             pt.GroupID,
		Epoch:               pt.Epoch,
		ContentType:         contentType,
		AuthenticatedData:   pt.AuthenticatedData,
		SenderDataNonce:     senderDataNonce,
		EncryptedSenderData: sdCt,
		Ciphertext:          contentCt,
	}, nil
}

// decryptCiphertext is the one converter that produces a plaintext with
// the Decrypted bit set: the sender-data AEAD authenticated the sender,
// so the result carries no membership tag.
func (kse *keyScheduleEpoch) decryptCiphertext(ct *MLSCiphertext) (*MLSPlaintext, error) {
	sdAAD := senderDataAAD(ct.GroupID, ct.Epoch, ct.ContentType, ct.SenderDataNonce)
	sdAead, err := kse.Suite.newAEAD(kse.SenderDataKey)
	if err != nil {
		return nil, err
	}
	sd, err := sdAead.Open(nil, ct.SenderDataNonce, ct.EncryptedSenderData, sdAAD)
	if err != nil {
		return nil, fmt.Errorf("mls.framing: senderData decryption failure: %w", ErrProtocol)
	}

	var sender LeafIndex
	var generation uint32
	var reuseGuard [4]byte
	stream := NewReadStream(sd)
	_, err = stream.ReadAll(&sender, &generation, &reuseGuard)
	if err != nil {
		return nil, fmt.Errorf("mls.framing: senderData unmarshal failure %v", err)
	}

	var keys keyAndNonce
	switch ct.ContentType {
	case ContentTypeApplication:
		keys, err = kse.ApplicationKeys.Get(sender, generation)
		if err != nil {
			return nil, fmt.Errorf("mls.framing: application keys extraction failed %v", err)
		}
		kse.ApplicationKeys.Erase(sender, generation)
	case ContentTypeProposal, ContentTypeCommit:
		keys, err = kse.HandshakeKeys.Get(sender, generation)
		if err != nil {
			return nil, fmt.Errorf("mls.framing: handshake keys extraction failed %v", err)
		}
		kse.HandshakeKeys.Erase(sender, generation)
	default:
		return nil, fmt.Errorf("mls.framing: decrypt unknown content type: %w", ErrInvalidParameter)
	}

	aad := contentAAD(ct.GroupID, ct.Epoch, ct.ContentType,
		ct.AuthenticatedData, ct.SenderDataNonce, ct.EncryptedSenderData)
	aead, err := kse.Suite.newAEAD(keys.Key)
	if err != nil {
		return nil, err
	}
	content, err := aead.Open(nil, applyGuard(keys.Nonce, reuseGuard), ct.Ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("mls.framing: content decryption failure: %w", ErrProtocol)
	}

	var mlsContent MLSPlaintextContent
	var signature Signature
	var confirmationTag struct {
		ConfirmationTag *MAC `tls:"optional"`
	}
	var padding struct {
		Padding []byte `tls:"head=2"`
	}
	stream = NewReadStream(content)
	_, err = stream.ReadAll(&mlsContent, &signature, &confirmationTag, &padding)
	if err != nil {
		return nil, fmt.Errorf("mls.framing: content unmarshal failure %v", err)
	}

	return &MLSPlaintext{
		GroupID:           ct.GroupID,
		Epoch:             ct.Epoch,
		Sender:            Sender{SenderTypeMember, uint32(sender)},
		AuthenticatedData: ct.AuthenticatedData,
		Content:           mlsContent,
		Signature:         signature,
		ConfirmationTag:   confirmationTag.ConfirmationTag,
		Decrypted:         true,
	}, nil
}
