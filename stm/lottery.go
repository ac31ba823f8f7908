package stm

// The per-index eligibility lottery.
//
// A signer with stake s out of total stake S wins lottery index j for a
// message iff ev/2^512 < 1 - (1-phi)^(s/S), where ev is the 64-byte hash of
// (msg || j || sigma). The comparison is carried out on exact rationals:
// letting q = 1 - ev/2^512 and x = (s/S)*ln(1-phi), the signer wins iff
// q > e^x, decided by summing the Taylor series of e^x until the running
// error bound separates the two sides. Every implementation that follows
// the same term bound reaches the same decision bit for bit; native
// floating point never touches the comparison.

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/stakesig/stakesig/bls"
	"golang.org/x/crypto/blake2b"
)

// EvalSize is the byte length of an eligibility value.
const EvalSize = 64

// evalBits is the granularity of the lottery draw.
const evalBits = 512

// taylorBound is the fixed number of series terms tried before a draw is
// declared unresolved. A draw not separated within the bound loses, so the
// decision stays deterministic. The bound is part of the protocol and must
// not change between versions.
const taylorBound = 1000

// Eval is a per-index eligibility value: the lottery draw realized from a
// signature, doubling as its own proof since verifiers recompute it.
type Eval [EvalSize]byte

// ComputeEval derives the eligibility value for (msg, index, sigma) as
// BLAKE2b-512(msg || index_le || sigma).
func ComputeEval(msg []byte, index uint64, sigma *bls.Signature) Eval {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic(err) // unkeyed blake2b cannot fail
	}
	h.Write(msg)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], index)
	h.Write(buf[:])
	h.Write(sigma.Bytes())

	var ev Eval
	copy(ev[:], h.Sum(nil))
	return ev
}

// IsEligible reports whether an eligibility value wins the lottery for the
// given stake share under the active-slot coefficient phi.
func IsEligible(phi float64, ev Eval, stake, totalStake uint64) bool {
	if totalStake == 0 || stake > totalStake {
		return false
	}
	if phi >= 1 {
		// Limit case: every index is winnable by any nonzero stake.
		return stake > 0
	}
	if phi <= 0 || stake == 0 {
		return false
	}

	// q = (2^512 - ev) / 2^512, with ev read little-endian.
	evInt := new(big.Int).SetBytes(reverseBytes(ev[:]))
	evMax := new(big.Int).Lsh(big.NewInt(1), evalBits)
	q := new(big.Rat).SetFrac(new(big.Int).Sub(evMax, evInt), evMax)

	// x = (stake/totalStake) * ln(1-phi). The logarithm is the exact
	// rational value of the IEEE double ln(1-phi); from here on all
	// arithmetic is exact.
	c := new(big.Rat).SetFloat64(math.Log(1 - phi))
	if c == nil {
		return false
	}
	w := new(big.Rat).SetFrac(
		new(big.Int).SetUint64(stake),
		new(big.Int).SetUint64(totalStake),
	)
	x := new(big.Rat).Mul(w, c)

	below, resolved := taylorCompare(taylorBound, q, x)
	if !resolved {
		return false
	}
	return !below
}

// taylorCompare compares cmp against e^x by accumulating the Taylor series
// sum_{n} x^n/n!. After each term the remainder is bounded by three times
// the magnitude of the next term. While terms are still growing the
// interval [sum-3|t|, sum+3|t|] is far wider than (0, 1], so no decision
// fires before the terms shrink and the bound is sound. The comparison
// resolves as soon as cmp falls outside the interval.
func taylorCompare(bound int, cmp, x *big.Rat) (below, resolved bool) {
	sum := big.NewRat(1, 1)
	term := new(big.Rat).Set(x)
	divisor := int64(1)
	three := big.NewRat(3, 1)

	for i := 0; i < bound; i++ {
		sum.Add(sum, term)
		divisor++
		term.Mul(term, x)
		term.Quo(term, big.NewRat(divisor, 1))

		errBound := new(big.Rat).Abs(term)
		errBound.Mul(errBound, three)
		if cmp.Cmp(new(big.Rat).Add(sum, errBound)) > 0 {
			return false, true
		}
		if cmp.Cmp(new(big.Rat).Sub(sum, errBound)) < 0 {
			return true, true
		}
	}
	return false, false
}

// reverseBytes returns a copy of b with the byte order flipped.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
