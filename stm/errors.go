package stm

import (
	"errors"
	"fmt"
)

// Registration errors.
var (
	ErrKeyAlreadyRegistered     = errors.New("stm: verification key already registered")
	ErrInvalidProofOfPossession = errors.New("stm: proof of possession does not verify")
	ErrZeroStake                = errors.New("stm: stake must be nonzero")
	ErrStakeOverflow            = errors.New("stm: total stake overflows uint64")
	ErrAlreadyClosed            = errors.New("stm: registration already closed")
	ErrEmptyRegistration        = errors.New("stm: cannot close an empty registration")
	ErrNotRegistered            = errors.New("stm: verification key not registered")
)

// Aggregation and verification errors.
var (
	ErrDuplicateLotteryIndex       = errors.New("stm: duplicate lottery index")
	ErrMerkleRootMismatch          = errors.New("stm: merkle root mismatch")
	ErrSignatureVerificationFailed = errors.New("stm: signature verification failed")
	ErrEligibilityCheckFailed      = errors.New("stm: eligibility check failed")
	ErrQuorumSizeWrong             = errors.New("stm: quorum size wrong")
	ErrSerialization               = errors.New("stm: malformed serialization")
	ErrInvalidParameters           = errors.New("stm: invalid parameters")
)

// NotEnoughSignaturesError reports an aggregation attempt that collected
// fewer distinct winning lottery indices than the quorum requires.
type NotEnoughSignaturesError struct {
	Got      uint64
	Required uint64
}

func (e *NotEnoughSignaturesError) Error() string {
	return fmt.Sprintf("stm: not enough signatures: %d distinct lottery indices, need %d", e.Got, e.Required)
}

// InvalidSignatureReason says which check an individual candidate signature
// failed during aggregation.
type InvalidSignatureReason string

// Reasons an individual signature is rejected.
const (
	ReasonSignature   InvalidSignatureReason = "signature"
	ReasonEligibility InvalidSignatureReason = "eligibility"
	ReasonMerklePath  InvalidSignatureReason = "merkle-path"
	ReasonIndexRange  InvalidSignatureReason = "index-range"
)

// InvalidSignatureError reports an individual candidate signature that
// failed validation. During aggregation these are recoverable: the
// signature is dropped and simply does not count toward the quorum.
type InvalidSignatureError struct {
	Reason      InvalidSignatureReason
	SignerIndex uint64
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("stm: invalid signature from signer %d: %s", e.SignerIndex, e.Reason)
}
