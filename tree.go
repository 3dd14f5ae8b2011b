package mls

import "github.com/cisco/go-tls-syntax"

// TreeKEMPublicKey is the public view of the group's ratchet tree, as
// consumed by GroupInfo and Welcome: a serializable table of leaves,
// some of which hold key packages.  Path secrets, parent nodes, and the
// TreeKEM update machinery live with the state layer that owns the full
// tree.
type TreeKEMPublicKey struct {
	KeyPackages []optionalKeyPackage `tls:"head=4"`
}

type optionalKeyPackage struct {
	KeyPackage *KeyPackage `tls:"optional"`
}

// AddLeaf fills the leftmost blank leaf, extending the tree if none.
func (t *TreeKEMPublicKey) AddLeaf(kp KeyPackage) LeafIndex {
	for i := range t.KeyPackages {
		if t.KeyPackages[i].KeyPackage == nil {
			t.KeyPackages[i].KeyPackage = &kp
			return LeafIndex(i)
		}
	}

	t.KeyPackages = append(t.KeyPackages, optionalKeyPackage{&kp})
	return LeafIndex(len(t.KeyPackages) - 1)
}

func (t *TreeKEMPublicKey) BlankLeaf(index LeafIndex) {
	if int(index) >= len(t.KeyPackages) {
		return
	}
	t.KeyPackages[index].KeyPackage = nil
}

// KeyPackage returns the key package at a leaf, or false for a blank or
// out-of-range leaf.
func (t TreeKEMPublicKey) KeyPackage(index LeafIndex) (KeyPackage, bool) {
	if int(index) >= len(t.KeyPackages) || t.KeyPackages[index].KeyPackage == nil {
		return KeyPackage{}, false
	}
	return *t.KeyPackages[index].KeyPackage, true
}

func (t TreeKEMPublicKey) Size() LeafCount {
	return LeafCount(len(t.KeyPackages))
}

func (t TreeKEMPublicKey) RootHash(suite CipherSuite) ([]byte, error) {
	data, err := syntax.Marshal(t)
	if err != nil {
		return nil, err
	}
	return suite.Digest(data), nil
}

func (t TreeKEMPublicKey) Clone() TreeKEMPublicKey {
	out := TreeKEMPublicKey{
		KeyPackages: make([]optionalKeyPackage, len(t.KeyPackages)),
	}
	for i, entry := range t.KeyPackages {
		if entry.KeyPackage != nil {
			kp := *entry.KeyPackage
			out.KeyPackages[i].KeyPackage = &kp
		}
	}
	return out
}
