package merkle

import (
	"hash"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"
)

// Digest is a node or leaf hash. Its length is fixed by the tree's Hasher.
type Digest []byte

// String renders the digest as 0x-prefixed hex.
func (d Digest) String() string {
	return hexutil.Encode(d)
}

// Hasher supplies the hash function a tree is built with. Both leaves and
// internal nodes use the same function; the digest size is fixed per tree.
type Hasher interface {
	New() hash.Hash
	Size() int
}

// Blake2b256 hashes to 32-byte digests.
type Blake2b256 struct{}

// New returns a fresh unkeyed BLAKE2b-256 state.
func (Blake2b256) New() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // unkeyed blake2b cannot fail
	}
	return h
}

// Size returns 32.
func (Blake2b256) Size() int { return blake2b.Size256 }

// Blake2b512 hashes to 64-byte digests.
type Blake2b512 struct{}

// New returns a fresh unkeyed BLAKE2b-512 state.
func (Blake2b512) New() hash.Hash {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic(err)
	}
	return h
}

// Size returns 64.
func (Blake2b512) Size() int { return blake2b.Size }

// hashPair computes the internal-node digest H(left || right).
func hashPair(h Hasher, left, right Digest) Digest {
	st := h.New()
	st.Write(left)
	st.Write(right)
	return st.Sum(nil)
}
