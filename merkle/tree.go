// Package merkle implements the binary Merkle commitment over an ordered
// signer registry, with single and batched inclusion proofs.
//
// The tree is stored as a flat array addressed by generalized indices: the
// root is at index 1 and the children of node i are at 2i and 2i+1. The leaf
// count is padded up to the next power of two; absent leaves hold the
// all-zero sentinel digest so the root is defined for any leaf count >= 1.
//
// Proof verification never needs the tree, only the root, so a verifier can
// check inclusion against a commitment published by someone else.
package merkle

import (
	"bytes"
	"errors"
	"sort"
)

// Errors returned by tree construction and proving.
var (
	ErrNoLeaves        = errors.New("merkle: tree needs at least one leaf")
	ErrDigestSize      = errors.New("merkle: leaf digest size does not match hasher")
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
	ErrNoProofIndices  = errors.New("merkle: no leaf indices to prove")
)

// Tree is an immutable binary Merkle tree over leaf digests.
type Tree struct {
	hasher    Hasher
	nodes     []Digest // generalized-index layout, nodes[0] unused
	leafCount int
	size      int // leaf slots, padded to a power of two
}

// Path is the ordered list of sibling digests from a leaf to the root.
type Path struct {
	Values []Digest
}

// NewTree builds a tree over the given leaf digests. The leaves are the
// caller's already-hashed values; their order is the committed order.
func NewTree(h Hasher, leaves []Digest) (*Tree, error) {
	n := len(leaves)
	if n == 0 {
		return nil, ErrNoLeaves
	}
	for _, leaf := range leaves {
		if len(leaf) != h.Size() {
			return nil, ErrDigestSize
		}
	}

	size := 1
	for size < n {
		size *= 2
	}

	nodes := make([]Digest, 2*size)
	sentinel := make(Digest, h.Size())
	for i := 0; i < size; i++ {
		if i < n {
			nodes[size+i] = append(Digest(nil), leaves[i]...)
		} else {
			nodes[size+i] = sentinel
		}
	}
	for i := size - 1; i >= 1; i-- {
		nodes[i] = hashPair(h, nodes[2*i], nodes[2*i+1])
	}

	return &Tree{hasher: h, nodes: nodes, leafCount: n, size: size}, nil
}

// Root returns the root digest.
func (t *Tree) Root() Digest {
	return append(Digest(nil), t.nodes[1]...)
}

// LeafCount returns the number of committed leaves, excluding padding.
func (t *Tree) LeafCount() int {
	return t.leafCount
}

// Leaf returns the digest committed at position i.
func (t *Tree) Leaf(i uint64) (Digest, error) {
	if i >= uint64(t.leafCount) {
		return nil, ErrIndexOutOfRange
	}
	return append(Digest(nil), t.nodes[uint64(t.size)+i]...), nil
}

// Prove returns the inclusion path for leaf i: sibling digests ordered from
// the leaf's level up to the root's children.
func (t *Tree) Prove(i uint64) (*Path, error) {
	if i >= uint64(t.leafCount) {
		return nil, ErrIndexOutOfRange
	}

	var values []Digest
	for gi := uint64(t.size) + i; gi > 1; gi /= 2 {
		values = append(values, append(Digest(nil), t.nodes[gi^1]...))
	}
	return &Path{Values: values}, nil
}

// VerifyPath reports whether leaf sits at position index in the tree with
// the given root, following the sibling digests in path.
func VerifyPath(h Hasher, root Digest, index uint64, leaf Digest, path *Path) bool {
	if path == nil || len(leaf) != h.Size() || len(root) != h.Size() {
		return false
	}

	cur := leaf
	pos := index
	for _, sibling := range path.Values {
		if len(sibling) != h.Size() {
			return false
		}
		if pos%2 == 0 {
			cur = hashPair(h, cur, sibling)
		} else {
			cur = hashPair(h, sibling, cur)
		}
		pos /= 2
	}
	return pos == 0 && bytes.Equal(cur, root)
}

// sortedUnique returns vals sorted ascending with duplicates removed.
func sortedUnique(vals []uint64) []uint64 {
	out := append([]uint64(nil), vals...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}
