// Package stm implements a stake-based threshold multi-signature scheme: a
// registered committee of signers, each weighted by a public stake, jointly
// produces a compact aggregate signature on a message. Any coalition whose
// winning lottery draws cover k distinct indices can aggregate; smaller
// coalitions cannot.
//
// The flow is: generate keys (bls package), register them with stakes in a
// KeyRegistration, close it to obtain the committee commitment, hand each
// participant a Signer, collect the SingleSignatures they produce, and have
// a Clerk aggregate and verify. A closed registration is immutable and safe
// to share across goroutines.
package stm

import (
	"encoding/binary"
	"math"
)

// ParametersSize is the wire size of Parameters: k, m and phi, 8 bytes each.
const ParametersSize = 24

// Parameters are the public protocol parameters.
//
// K is the quorum count: an aggregate needs K distinct winning lottery
// indices. M is the lottery domain: each signer draws for every index in
// [0, M). Phi is the active-slot coefficient tuning the per-index winning
// probability for a given stake share.
type Parameters struct {
	K   uint64
	M   uint64
	Phi float64
}

// Validate checks the parameter preconditions: 1 <= k <= m and 0 < phi < 1.
func (p Parameters) Validate() error {
	if p.K < 1 || p.K > p.M {
		return ErrInvalidParameters
	}
	if !(p.Phi > 0 && p.Phi < 1) {
		return ErrInvalidParameters
	}
	return nil
}

// Bytes encodes the parameters as k || m || phi, all little-endian.
func (p Parameters) Bytes() []byte {
	out := make([]byte, ParametersSize)
	binary.LittleEndian.PutUint64(out[0:8], p.K)
	binary.LittleEndian.PutUint64(out[8:16], p.M)
	binary.LittleEndian.PutUint64(out[16:24], math.Float64bits(p.Phi))
	return out
}

// ParametersFromBytes decodes a 24-byte parameter encoding. Trailing bytes
// are rejected; range preconditions are checked separately via Validate.
func ParametersFromBytes(data []byte) (Parameters, error) {
	if len(data) != ParametersSize {
		return Parameters{}, ErrSerialization
	}
	return Parameters{
		K:   binary.LittleEndian.Uint64(data[0:8]),
		M:   binary.LittleEndian.Uint64(data[8:16]),
		Phi: math.Float64frombits(binary.LittleEndian.Uint64(data[16:24])),
	}, nil
}
