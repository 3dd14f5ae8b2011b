package mls

// The below functions provide the index calculus for the tree structures used in MLS.
// They are premised on a "flat" representation of a balanced binary tree.  Leaf nodes
// are even-numbered nodes, with the n-th leaf at 2*n.  Intermediate nodes are held in
// odd-numbered nodes.  For example, a 11-element tree has the following structure:
//
//                                              X
//                      X
//          X                       X                       X
//    X           X           X           X           X
// X     X     X     X     X     X     X     X     X     X     X
// 0  1  2  3  4  5  6  7  8  9  a  b  c  d  e  f 10 11 12 13 14
//
// This allows us to compute relationships between tree nodes simply by manipulating
// indices, rather than having to maintain complicated structures in memory, even for
// partial trees.  (The storage for a tree can just be a map[int]Node dictionary or
// an array.)  The basic rule is that the high-order bits of parent and child nodes
// have the following relation:
//
//    01x = <00x, 10x>

// LeafIndex, LeafCount, and NodeIndex are all addresses in this flat
// representation; the types keep leaf-addressed and node-addressed code
// from mixing silently.
type LeafIndex uint32
type LeafCount uint32
type NodeIndex uint32

func toNodeIndex(leaf LeafIndex) NodeIndex {
	return NodeIndex(2 * leaf)
}

// Position of the most significant 1 bit
func log2(x NodeIndex) NodeIndex {
	if x == 0 {
		return 0
	}

	k := NodeIndex(0)
	for (x >> k) > 0 {
		k += 1
	}
	return k - 1
}

// Position of the least significant 0 bit
func level(x NodeIndex) NodeIndex {
	if x&0x01 == 0 {
		return 0
	}

	k := NodeIndex(0)
	for (x>>k)&0x01 == 1 {
		k += 1
	}
	return k
}

// Number of nodes for a tree of size N
func nodeWidth(n LeafCount) NodeIndex {
	return 2*(NodeIndex(n)-1) + 1
}

// Index of the root of the tree with N leaves
func root(n LeafCount) NodeIndex {
	w := nodeWidth(n)
	return (1 << log2(w)) - 1
}

// Left child of x
func left(x NodeIndex) NodeIndex {
	if level(x) == 0 {
		return x
	}

	return x ^ (0x01 << (level(x) - 1))
}

// Right child of x
func right(x NodeIndex, n LeafCount) NodeIndex {
	if level(x) == 0 {
		return x
	}

	r := x ^ (0x03 << (level(x) - 1))
	for r > 2*(NodeIndex(n)-1) {
		r = left(r)
	}
	return r
}

// Immediate parent of x; may not exist in tree
func parentStep(x NodeIndex) NodeIndex {
	k := level(x)
	one := NodeIndex(1)
	return (x | (one << k)) & ^(one << (k + 1))
}

// Parent of x
func parent(x NodeIndex, n LeafCount) NodeIndex {
	// root's parent is itself
	if x == root(n) {
		return x
	}

	p := parentStep(x)
	for p > 2*(NodeIndex(n)-1) {
		p = parentStep(p)
	}
	return p
}

// Direct path for x, ordered from leaf to root, excluding both
func dirpath(x NodeIndex, n LeafCount) []NodeIndex {
	d := []NodeIndex{}
	r := root(n)
	if x == r {
		return d
	}

	p := parent(x, n)
	for p != r {
		d = append(d, p)
		p = parent(p, n)
	}
	return d
}
