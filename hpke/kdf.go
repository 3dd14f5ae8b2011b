package hpke

import (
	"crypto"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	_ "crypto/sha256"
	_ "crypto/sha512"
)

type KDFID uint16

const (
	HKDF_SHA256 KDFID = 0x0001
	HKDF_SHA384 KDFID = 0x0002
	HKDF_SHA512 KDFID = 0x0003
)

// draft-irtf-cfrg-hpke-05, section 4.  The prefix includes the trailing
// space and changes with the draft number.
const versionLabel = "HPKE-05 "

type hkdfScheme struct {
	id   KDFID
	hash crypto.Hash
}

func newKDFScheme(id KDFID) (hkdfScheme, error) {
	switch id {
	case HKDF_SHA256:
		return hkdfScheme{id, crypto.SHA256}, nil
	case HKDF_SHA384:
		return hkdfScheme{id, crypto.SHA384}, nil
	case HKDF_SHA512:
		return hkdfScheme{id, crypto.SHA512}, nil
	default:
		return hkdfScheme{}, fmt.Errorf("hpke: KDF %04x: %w", uint16(id), ErrUnsupported)
	}
}

func (s hkdfScheme) ID() KDFID {
	return s.id
}

func (s hkdfScheme) HashSize() int {
	return s.hash.Size()
}

func (s hkdfScheme) Extract(salt, ikm []byte) []byte {
	return hkdf.Extract(s.hash.New, ikm, salt)
}

func (s hkdfScheme) Expand(prk, info []byte, outLen int) ([]byte, error) {
	if outLen > 255*s.hash.Size() {
		return nil, fmt.Errorf("hpke: expand length %d too large: %w", outLen, ErrUnsupported)
	}

	out := make([]byte, outLen)
	r := hkdf.Expand(s.hash.New, prk, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s hkdfScheme) LabeledExtract(suiteID, salt []byte, label string, ikm []byte) []byte {
	labeledIKM := append([]byte(versionLabel), suiteID...)
	labeledIKM = append(labeledIKM, []byte(label)...)
	labeledIKM = append(labeledIKM, ikm...)
	return s.Extract(salt, labeledIKM)
}

func (s hkdfScheme) LabeledExpand(suiteID, prk []byte, label string, info []byte, outLen int) ([]byte, error) {
	labeledInfo := i2osp(uint64(outLen), 2)
	labeledInfo = append(labeledInfo, []byte(versionLabel)...)
	labeledInfo = append(labeledInfo, suiteID...)
	labeledInfo = append(labeledInfo, []byte(label)...)
	labeledInfo = append(labeledInfo, info...)
	return s.Expand(prk, labeledInfo, outLen)
}

// i2osp encodes n big-endian in exactly outLen bytes.
func i2osp(n uint64, outLen int) []byte {
	out := make([]byte, outLen)
	for i := outLen - 1; i >= 0 && n > 0; i-- {
		out[i] = byte(n)
		n >>= 8
	}
	return out
}
