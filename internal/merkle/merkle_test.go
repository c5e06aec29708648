package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func leafOf(b byte) Leaf {
	var l Leaf
	for i := range l {
		l[i] = b
	}
	return l
}

func TestHashLeafDeterministic(t *testing.T) {
	secret := []byte("a-segment-secret-needs-32-bytes")
	h1 := HashLeaf(secret)
	h2 := HashLeaf(secret)
	require.Equal(t, h1, h2)
}

func TestBuildTreeAndVerify_AllSizes(t *testing.T) {
	for n := 1; n <= 4; n++ {
		leaves := make([]Leaf, n)
		for i := 0; i < n; i++ {
			leaves[i] = leafOf(byte(i + 1))
		}
		tree, err := BuildTree(leaves)
		require.NoError(t, err)
		require.Len(t, tree.Proofs, n)

		for i, leaf := range leaves {
			require.True(t, Verify(leaf, tree.Proofs[i], tree.Root), "leaf %d should verify for n=%d", i, n)
		}
	}
}

// TestMerkleSoundness builds a tree for N=4 and verifies leaves[1]
// against proofs[1]; flipping a byte of the proof must fail.
func TestMerkleSoundness(t *testing.T) {
	leaves := []Leaf{leafOf(1), leafOf(2), leafOf(3), leafOf(4)}
	tree, err := BuildTree(leaves)
	require.NoError(t, err)

	require.True(t, Verify(leaves[1], tree.Proofs[1], tree.Root))

	mutated := make([]ProofStep, len(tree.Proofs[1]))
	copy(mutated, tree.Proofs[1])
	mutated[0].Sibling[0] ^= 0xFF
	require.False(t, Verify(leaves[1], mutated, tree.Root))

	mutatedLeaf := leaves[1]
	mutatedLeaf[0] ^= 0xFF
	require.False(t, Verify(mutatedLeaf, tree.Proofs[1], tree.Root))
}

func TestBuildTreeRejectsOutOfRange(t *testing.T) {
	_, err := BuildTree(nil)
	require.ErrorIs(t, err, ErrUnsupportedLeafCount)

	leaves := make([]Leaf, 5)
	_, err = BuildTree(leaves)
	require.ErrorIs(t, err, ErrUnsupportedLeafCount)
}

func TestTwoLeafRootIsOrderIndependentOfInputOrder(t *testing.T) {
	a, b := leafOf(7), leafOf(9)
	t1, err := BuildTree([]Leaf{a, b})
	require.NoError(t, err)
	t2, err := BuildTree([]Leaf{b, a})
	require.NoError(t, err)
	require.Equal(t, t1.Root, t2.Root, "sorted-pair hashing makes the root independent of leaf argument order")
}
