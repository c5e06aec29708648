// Package merkle implements the sorted-pair Merkle tree used to gate
// segmented-fill withdrawals. Leaf order is position-free:
// pairing always sorts the two children lexicographically before
// concatenation, which is what lets the on-chain verifier fold a proof
// without knowing which side of the tree it came from.
package merkle

import (
	"bytes"
	"crypto/sha256"
)

// Leaf is a 32-byte Merkle leaf or node hash.
type Leaf = [32]byte

// HashLeaf hashes a segment secret into its leaf value.
func HashLeaf(secret []byte) Leaf {
	return sha256.Sum256(secret)
}

func hashPair(a, b Leaf) Leaf {
	lo, hi := a, b
	if bytes.Compare(lo[:], hi[:]) > 0 {
		lo, hi = hi, lo
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, lo[:]...)
	buf = append(buf, hi[:]...)
	return sha256.Sum256(buf)
}

// ProofStep is one authentication-path element: the sibling hash to
// fold in. Sorted-pair hashing makes the side irrelevant to encode —
// Verify always sorts the pair the same way BuildTree did.
type ProofStep struct {
	Sibling Leaf
}

// Tree holds the root and per-leaf proofs produced by BuildTree.
type Tree struct {
	Root   Leaf
	Proofs [][]ProofStep
}

// BuildTree constructs the sorted-pair Merkle tree for 1..4 leaves,
// with a fixed pairing rule for each N.
func BuildTree(leaves []Leaf) (Tree, error) {
	n := len(leaves)
	if n < 1 || n > 4 {
		return Tree{}, ErrUnsupportedLeafCount
	}

	switch n {
	case 1:
		return Tree{Root: leaves[0], Proofs: [][]ProofStep{{}}}, nil
	case 2:
		root := hashPair(leaves[0], leaves[1])
		return Tree{
			Root: root,
			Proofs: [][]ProofStep{
				{{Sibling: leaves[1]}},
				{{Sibling: leaves[0]}},
			},
		}, nil
	case 3:
		// intermediate = hash(l0,l1); root = hash(intermediate,l2)
		inter := hashPair(leaves[0], leaves[1])
		root := hashPair(inter, leaves[2])
		return Tree{
			Root: root,
			Proofs: [][]ProofStep{
				{{Sibling: leaves[1]}, {Sibling: leaves[2]}},
				{{Sibling: leaves[0]}, {Sibling: leaves[2]}},
				{{Sibling: inter}},
			},
		}, nil
	default: // 4
		left := hashPair(leaves[0], leaves[1])
		right := hashPair(leaves[2], leaves[3])
		root := hashPair(left, right)
		return Tree{
			Root: root,
			Proofs: [][]ProofStep{
				{{Sibling: leaves[1]}, {Sibling: right}},
				{{Sibling: leaves[0]}, {Sibling: right}},
				{{Sibling: leaves[3]}, {Sibling: left}},
				{{Sibling: leaves[2]}, {Sibling: left}},
			},
		}, nil
	}
}

// Verify folds leaf through proof by sorted-pair hashing and compares
// against root, matching the on-chain verifier's algorithm exactly.
func Verify(leaf Leaf, proof []ProofStep, root Leaf) bool {
	cur := leaf
	for _, step := range proof {
		cur = hashPair(cur, step.Sibling)
	}
	return cur == root
}
