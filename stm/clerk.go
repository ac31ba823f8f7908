package stm

// Clerk collects individual signatures, selects a quorum, and emits the
// compact aggregate. Aggregation is deterministic in the set of valid
// submissions: candidates are validated in parallel but deduplicated and
// ordered canonically, so the output bytes never depend on submission
// order or scheduling.

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/stakesig/stakesig/bls"
	"github.com/stakesig/stakesig/merkle"
)

// aggregationWorkers bounds the goroutines validating candidate signatures
// in parallel.
const aggregationWorkers = 16

// Clerk aggregates and verifies signatures for one closed registration.
type Clerk struct {
	// StrictDedup, when set, turns conflicting signatures for the same
	// lottery index into an ErrDuplicateLotteryIndex failure instead of
	// silently keeping the canonical one.
	StrictDedup bool

	params       Parameters
	registration *ClosedRegistration
}

// NewClerk builds a clerk over a closed registration.
func NewClerk(params Parameters, reg *ClosedRegistration) (*Clerk, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Clerk{params: params, registration: reg}, nil
}

// Parameters returns the clerk's protocol parameters.
func (c *Clerk) Parameters() Parameters {
	return c.params
}

// AggregateVerificationKey returns the commitment verifiers need for this
// clerk's committee.
func (c *Clerk) AggregateVerificationKey() AggregateVerificationKey {
	return c.registration.AggregateVerificationKey()
}

// VerifySingle validates one candidate signature against the clerk's
// registration: inclusion of the signer's leaf, the BLS signature itself,
// the lottery index range, and the eligibility draw. A nil error means the
// signature would be accepted into an aggregate.
func (c *Clerk) VerifySingle(sig *SingleSignature, msg []byte) error {
	if sig == nil || sig.Sigma == nil {
		return &InvalidSignatureError{Reason: ReasonSignature}
	}
	party, ok := c.registration.Party(sig.SignerIndex)
	if !ok {
		return &InvalidSignatureError{Reason: ReasonIndexRange, SignerIndex: sig.SignerIndex}
	}
	if sig.Index >= c.params.M {
		return &InvalidSignatureError{Reason: ReasonIndexRange, SignerIndex: sig.SignerIndex}
	}

	leaf := leafDigest(c.registration.Hasher(), party)
	if !merkle.VerifyPath(c.registration.Hasher(), c.registration.Root(), sig.SignerIndex, leaf, sig.Path) {
		return &InvalidSignatureError{Reason: ReasonMerklePath, SignerIndex: sig.SignerIndex}
	}
	if !bls.Verify(party.VK, msg, sig.Sigma) {
		return &InvalidSignatureError{Reason: ReasonSignature, SignerIndex: sig.SignerIndex}
	}
	if ComputeEval(msg, sig.Index, sig.Sigma) != sig.Ev {
		return &InvalidSignatureError{Reason: ReasonEligibility, SignerIndex: sig.SignerIndex}
	}
	if !IsEligible(c.params.Phi, sig.Ev, party.Stake, c.registration.TotalStake()) {
		return &InvalidSignatureError{Reason: ReasonEligibility, SignerIndex: sig.SignerIndex}
	}
	return nil
}

// Aggregate validates the candidates, selects the canonical quorum of k
// distinct lottery indices, and emits the aggregate with its batched
// inclusion proof. Invalid candidates are dropped; duplicates per lottery
// index resolve to the lowest signer index unless StrictDedup is set. If
// fewer than k distinct indices survive, aggregation fails with
// NotEnoughSignaturesError.
func (c *Clerk) Aggregate(sigs []*SingleSignature, msg []byte) (*AggregateSignature, error) {
	valid := make([]bool, len(sigs))

	workers := aggregationWorkers
	if workers > len(sigs) {
		workers = len(sigs)
	}
	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= len(sigs) {
					return
				}
				valid[i] = c.VerifySingle(sigs[i], msg) == nil
			}
		}()
	}
	wg.Wait()

	// Canonical choice per lottery index: the valid signature with the
	// lowest signer index.
	best := make(map[uint64]*SingleSignature)
	for i, sig := range sigs {
		if !valid[i] {
			continue
		}
		cur, ok := best[sig.Index]
		if !ok {
			best[sig.Index] = sig
			continue
		}
		if cur.SignerIndex != sig.SignerIndex && c.StrictDedup {
			return nil, ErrDuplicateLotteryIndex
		}
		if sig.SignerIndex < cur.SignerIndex {
			best[sig.Index] = sig
		}
	}

	if uint64(len(best)) < c.params.K {
		return nil, &NotEnoughSignaturesError{
			Got:      uint64(len(best)),
			Required: c.params.K,
		}
	}

	// The k smallest winning indices minimize the proof surface and make
	// the selection order-independent.
	indices := make([]uint64, 0, len(best))
	for j := range best {
		indices = append(indices, j)
	}
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
	indices = indices[:c.params.K]

	entries := make([]AggregateEntry, len(indices))
	signerIndices := make([]uint64, 0, len(indices))
	for i, j := range indices {
		sig := best[j]
		party, _ := c.registration.Party(sig.SignerIndex)
		entries[i] = AggregateEntry{
			Party:       party,
			Sigma:       sig.Sigma,
			SignerIndex: sig.SignerIndex,
			Index:       j,
			Ev:          sig.Ev,
		}
		signerIndices = append(signerIndices, sig.SignerIndex)
	}

	batch, err := c.registration.ProveBatch(signerIndices)
	if err != nil {
		return nil, err
	}
	return &AggregateSignature{Entries: entries, BatchPath: batch}, nil
}

// VerifyAggregate checks an aggregate against this clerk's committee.
func (c *Clerk) VerifyAggregate(agg *AggregateSignature, msg []byte) error {
	return agg.Verify(msg, c.AggregateVerificationKey(), c.params, c.registration.Hasher())
}

// Verify checks the aggregate against a committee commitment: exactly k
// entries at distinct ascending lottery indices within [0, m), a batched
// inclusion proof consistent with the root, a winning eligibility draw per
// entry, and one pairing check over the summed signatures and keys.
func (a *AggregateSignature) Verify(msg []byte, avk AggregateVerificationKey, params Parameters, h merkle.Hasher) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if uint64(len(a.Entries)) != params.K {
		return ErrQuorumSizeWrong
	}

	prev := uint64(0)
	for i := range a.Entries {
		e := &a.Entries[i]
		if e.Index >= params.M {
			return ErrQuorumSizeWrong
		}
		if i > 0 {
			if e.Index == prev {
				return ErrDuplicateLotteryIndex
			}
			if e.Index < prev {
				return ErrQuorumSizeWrong
			}
		}
		prev = e.Index
	}

	// Reconstruct the sorted, deduplicated signer-index set and its
	// leaves. Entries sharing a committee index must agree on the party
	// they claim for it.
	leafByIndex := make(map[uint64]merkle.Digest)
	partyByIndex := make(map[uint64][]byte)
	var signerIndices []uint64
	for i := range a.Entries {
		e := &a.Entries[i]
		enc := e.Party.Bytes()
		if seen, ok := partyByIndex[e.SignerIndex]; ok {
			if string(seen) != string(enc) {
				return ErrMerkleRootMismatch
			}
			continue
		}
		partyByIndex[e.SignerIndex] = enc
		leafByIndex[e.SignerIndex] = leafDigest(h, e.Party)
		signerIndices = append(signerIndices, e.SignerIndex)
	}
	sort.Slice(signerIndices, func(i, j int) bool { return signerIndices[i] < signerIndices[j] })

	if a.BatchPath == nil || len(a.BatchPath.Indices) != len(signerIndices) {
		return ErrMerkleRootMismatch
	}
	leaves := make([]merkle.Digest, len(signerIndices))
	for i, idx := range signerIndices {
		if a.BatchPath.Indices[i] != idx {
			return ErrMerkleRootMismatch
		}
		leaves[i] = leafByIndex[idx]
	}
	if !merkle.VerifyBatch(h, avk.Root, leaves, a.BatchPath) {
		return ErrMerkleRootMismatch
	}

	// Eligibility per entry, under the stake committed in its leaf.
	for i := range a.Entries {
		e := &a.Entries[i]
		if ComputeEval(msg, e.Index, e.Sigma) != e.Ev {
			return ErrEligibilityCheckFailed
		}
		if !IsEligible(params.Phi, e.Ev, e.Party.Stake, avk.TotalStake) {
			return ErrEligibilityCheckFailed
		}
	}

	// One pairing equation over the summed signatures and the matching
	// multiset of verification keys.
	sigmas := make([]*bls.Signature, len(a.Entries))
	vks := make([]*bls.VerificationKey, len(a.Entries))
	for i := range a.Entries {
		sigmas[i] = a.Entries[i].Sigma
		vks[i] = a.Entries[i].Party.VK
	}
	aggSigma, err := bls.AggregateSignatures(sigmas)
	if err != nil {
		return ErrSignatureVerificationFailed
	}
	if !bls.VerifyAggregate(vks, msg, aggSigma) {
		return ErrSignatureVerificationFailed
	}
	return nil
}
