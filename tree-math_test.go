package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Precomputed answers for the tree on eleven elements pictured at the
// top of tree-math.go
var (
	aN = LeafCount(11)

	aRoot = []NodeIndex{
		0x00, 0x01, 0x03, 0x03, 0x07, 0x07, 0x07, 0x07, 0x0f, 0x0f, 0x0f,
	}

	aLeft = []NodeIndex{
		0x00, 0x00, 0x02, 0x01, 0x04, 0x04, 0x06, 0x03, 0x08, 0x08, 0x0a,
		0x09, 0x0c, 0x0c, 0x0e, 0x07, 0x10, 0x10, 0x12, 0x11, 0x14,
	}

	aRight = []NodeIndex{
		0x00, 0x02, 0x02, 0x05, 0x04, 0x06, 0x06, 0x0b, 0x08, 0x0a, 0x0a,
		0x0d, 0x0c, 0x0e, 0x0e, 0x13, 0x10, 0x12, 0x12, 0x14, 0x14,
	}

	aParent = []NodeIndex{
		0x01, 0x03, 0x01, 0x07, 0x05, 0x03, 0x05, 0x0f, 0x09, 0x0b, 0x09,
		0x07, 0x0d, 0x0b, 0x0d, 0x0f, 0x11, 0x13, 0x11, 0x0f, 0x13,
	}
)

func TestTreeMath(t *testing.T) {
	width := nodeWidth(aN)
	require.Equal(t, NodeIndex(21), width)

	for n := LeafCount(1); n <= aN; n += 1 {
		require.Equal(t, aRoot[n-1], root(n))
	}

	for x := NodeIndex(0); x < width; x += 1 {
		require.Equal(t, aLeft[x], left(x))
		require.Equal(t, aRight[x], right(x, aN))
		require.Equal(t, aParent[x], parent(x, aN))
	}
}

func TestDirpath(t *testing.T) {
	// Leaf 0 (node 0) ascends through 1, 3, 7 to the root 15
	require.Equal(t, []NodeIndex{0x01, 0x03, 0x07}, dirpath(0x00, aN))

	// The root has an empty direct path
	require.Equal(t, []NodeIndex{}, dirpath(root(aN), aN))
}
