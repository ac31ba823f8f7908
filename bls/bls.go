// Package bls implements the BLS12-381 multi-signature primitive underlying
// the stake-based threshold signature scheme.
//
// The scheme is minimal-signature-size: signatures live in G1 (48-byte
// compressed encoding) and verification keys in G2 (96-byte compressed
// encoding). Hash-to-curve uses a fixed domain-separation tag for messages
// and a distinct tag for proofs of possession. A proof of possession is a
// pair of G1 elements binding a verification key to its secret key: one
// element signs the key's own encoding, the other is sk*g1, which makes
// later aggregation rogue-key safe.
//
// All group and pairing arithmetic is delegated to the supranational/blst
// library; operations involving secret keys are constant-time in the key
// material.
package bls

import (
	"errors"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	blst "github.com/supranational/blst/bindings/go"
)

// Encoding sizes for the minimal-signature-size scheme.
const (
	SecretKeySize         = 32 // Fr scalar
	SignatureSize         = 48 // compressed G1
	VerificationKeySize   = 96 // compressed G2
	ProofOfPossessionSize = 96 // two compressed G1 points

	// seedSize is the input key material consumed from the caller's
	// randomness source during key generation.
	seedSize = 32
)

// Domain separation tags. Message signatures and proofs of possession hash
// to G1 under distinct tags so a proof of possession can never be replayed
// as a message signature.
var (
	dstSignature = []byte("STM_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_")
	dstPoP       = []byte("STM_POP_BLS12381G1_XMD:SHA-256_SSWU_RO_POP_")
)

// Errors returned by key and signature decoding and generation.
var (
	ErrKeyGenFailed             = errors.New("bls: key generation failed")
	ErrShortRandomness          = errors.New("bls: randomness source exhausted")
	ErrInvalidSecretKey         = errors.New("bls: invalid secret key encoding")
	ErrInvalidSignature         = errors.New("bls: invalid signature encoding")
	ErrInvalidVerificationKey   = errors.New("bls: invalid verification key encoding")
	ErrInvalidProofOfPossession = errors.New("bls: invalid proof of possession encoding")
	ErrNoSignatures             = errors.New("bls: no signatures to aggregate")
	ErrNoVerificationKeys       = errors.New("bls: no verification keys to aggregate")
)

// SecretKey is a BLS12-381 scalar. It never appears in any wire object of
// the scheme and should not leave the owning process.
type SecretKey struct {
	sk *blst.SecretKey
}

// VerificationKey is a point in G2.
type VerificationKey struct {
	p *blst.P2Affine
}

// Signature is a point in G1.
type Signature struct {
	p *blst.P1Affine
}

// ProofOfPossession binds a verification key to its secret key. K1 is the
// secret key's signature over the verification key encoding under the PoP
// tag; K2 is sk*g1.
type ProofOfPossession struct {
	k1 *blst.P1Affine
	k2 *blst.P1Affine
}

// GenerateKeyPair derives a fresh key triple from the given randomness
// source. The source is read exactly once for 32 bytes of input key
// material; key generation is otherwise deterministic in that seed.
func GenerateKeyPair(rand io.Reader) (*SecretKey, *VerificationKey, *ProofOfPossession, error) {
	ikm := make([]byte, seedSize)
	if _, err := io.ReadFull(rand, ikm); err != nil {
		return nil, nil, nil, ErrShortRandomness
	}

	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, nil, nil, ErrKeyGenFailed
	}

	secret := &SecretKey{sk: sk}
	vk := &VerificationKey{p: new(blst.P2Affine).From(sk)}
	pop := newProofOfPossession(sk, vk)
	return secret, vk, pop, nil
}

// newProofOfPossession computes (k1, k2) for the given key pair.
func newProofOfPossession(sk *blst.SecretKey, vk *VerificationKey) *ProofOfPossession {
	return &ProofOfPossession{
		k1: new(blst.P1Affine).Sign(sk, vk.Bytes(), dstPoP),
		k2: new(blst.P1Affine).From(sk),
	}
}

// Sign produces the deterministic BLS signature of msg under sk.
func Sign(sk *SecretKey, msg []byte) *Signature {
	return &Signature{p: new(blst.P1Affine).Sign(sk.sk, msg, dstSignature)}
}

// Verify reports whether sig is a valid signature of msg under vk.
func Verify(vk *VerificationKey, msg []byte, sig *Signature) bool {
	if vk == nil || sig == nil {
		return false
	}
	return sig.p.Verify(true, vk.p, true, msg, dstSignature)
}

// VerifyProofOfPossession reports whether pop binds vk. Both halves must
// check out: k1 verifies as a signature over the key's own encoding under
// the PoP tag, and k2 satisfies e(k2, g2) == e(g1, vk).
func VerifyProofOfPossession(vk *VerificationKey, pop *ProofOfPossession) bool {
	if vk == nil || pop == nil {
		return false
	}
	if !pop.k1.Verify(true, vk.p, true, vk.Bytes(), dstPoP) {
		return false
	}

	g1 := blst.P1Generator().ToAffine()
	g2 := blst.P2Generator().ToAffine()
	left := blst.Fp12MillerLoop(g2, pop.k2)
	right := blst.Fp12MillerLoop(vk.p, g1)
	return blst.Fp12FinalVerify(left, right)
}

// AggregateSignatures combines signatures by group addition.
func AggregateSignatures(sigs []*Signature) (*Signature, error) {
	if len(sigs) == 0 {
		return nil, ErrNoSignatures
	}

	points := make([]*blst.P1Affine, len(sigs))
	for i, s := range sigs {
		if s == nil {
			return nil, ErrNoSignatures
		}
		points[i] = s.p
	}

	agg := new(blst.P1Aggregate)
	if !agg.Aggregate(points, false) {
		return nil, ErrInvalidSignature
	}
	return &Signature{p: agg.ToAffine()}, nil
}

// AggregateVerificationKeys combines verification keys by group addition.
func AggregateVerificationKeys(vks []*VerificationKey) (*VerificationKey, error) {
	if len(vks) == 0 {
		return nil, ErrNoVerificationKeys
	}

	points := make([]*blst.P2Affine, len(vks))
	for i, vk := range vks {
		if vk == nil {
			return nil, ErrNoVerificationKeys
		}
		points[i] = vk.p
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(points, false) {
		return nil, ErrInvalidVerificationKey
	}
	return &VerificationKey{p: agg.ToAffine()}, nil
}

// VerifyAggregate checks an aggregate signature over a single message with
// one pairing equation: the aggregate of the given keys must verify sig.
func VerifyAggregate(vks []*VerificationKey, msg []byte, sig *Signature) bool {
	if len(vks) == 0 || sig == nil {
		return false
	}

	points := make([]*blst.P2Affine, len(vks))
	for i, vk := range vks {
		if vk == nil {
			return false
		}
		points[i] = vk.p
	}
	return sig.p.FastAggregateVerify(true, points, msg, dstSignature)
}

// --- Serialization ---

// Bytes returns the 32-byte scalar encoding.
func (sk *SecretKey) Bytes() []byte {
	return sk.sk.Serialize()
}

// SecretKeyFromBytes decodes a 32-byte scalar.
func SecretKeyFromBytes(data []byte) (*SecretKey, error) {
	if len(data) != SecretKeySize {
		return nil, ErrInvalidSecretKey
	}
	sk := new(blst.SecretKey).Deserialize(data)
	if sk == nil {
		return nil, ErrInvalidSecretKey
	}
	return &SecretKey{sk: sk}, nil
}

// Bytes returns the 96-byte compressed G2 encoding.
func (vk *VerificationKey) Bytes() []byte {
	return vk.p.Compress()
}

// String renders the compressed encoding as 0x-prefixed hex.
func (vk *VerificationKey) String() string {
	return hexutil.Encode(vk.Bytes())
}

// Equal reports whether two verification keys are the same group element.
func (vk *VerificationKey) Equal(other *VerificationKey) bool {
	if vk == nil || other == nil {
		return vk == other
	}
	return vk.p.Equals(other.p)
}

// VerificationKeyFromBytes decodes a compressed G2 point, rejecting
// non-canonical encodings, points outside the prime-order subgroup, and the
// identity.
func VerificationKeyFromBytes(data []byte) (*VerificationKey, error) {
	if len(data) != VerificationKeySize {
		return nil, ErrInvalidVerificationKey
	}
	p := new(blst.P2Affine).Uncompress(data)
	if p == nil || !p.KeyValidate() {
		return nil, ErrInvalidVerificationKey
	}
	return &VerificationKey{p: p}, nil
}

// Bytes returns the 48-byte compressed G1 encoding.
func (s *Signature) Bytes() []byte {
	return s.p.Compress()
}

// Equal reports whether two signatures are the same group element.
func (s *Signature) Equal(other *Signature) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.p.Equals(other.p)
}

// SignatureFromBytes decodes a compressed G1 point, rejecting non-canonical
// encodings, points outside the prime-order subgroup, and the identity.
func SignatureFromBytes(data []byte) (*Signature, error) {
	if len(data) != SignatureSize {
		return nil, ErrInvalidSignature
	}
	p := new(blst.P1Affine).Uncompress(data)
	if p == nil || !p.SigValidate(true) {
		return nil, ErrInvalidSignature
	}
	return &Signature{p: p}, nil
}

// Bytes returns k1 || k2, two compressed G1 points.
func (pop *ProofOfPossession) Bytes() []byte {
	out := make([]byte, 0, ProofOfPossessionSize)
	out = append(out, pop.k1.Compress()...)
	out = append(out, pop.k2.Compress()...)
	return out
}

// ProofOfPossessionFromBytes decodes a 96-byte proof of possession.
func ProofOfPossessionFromBytes(data []byte) (*ProofOfPossession, error) {
	if len(data) != ProofOfPossessionSize {
		return nil, ErrInvalidProofOfPossession
	}
	k1 := new(blst.P1Affine).Uncompress(data[:SignatureSize])
	k2 := new(blst.P1Affine).Uncompress(data[SignatureSize:])
	if k1 == nil || k2 == nil || !k1.InG1() || !k2.InG1() {
		return nil, ErrInvalidProofOfPossession
	}
	return &ProofOfPossession{k1: k1, k2: k2}, nil
}
