package stm

// BasicVerifier checks quorums against a plain public list of (verification
// key, stake) pairs, with no Merkle registration. It serves embeddings that
// distribute the full committee out of band and only need the lottery and
// signature checks.

import (
	"github.com/stakesig/stakesig/bls"
)

// BasicVerifier holds the deduplicated eligible parties and their total
// stake.
type BasicVerifier struct {
	parties []RegisteredParty
	index   map[string]uint64
	total   uint64
}

// NewBasicVerifier builds a verifier over the given parties. Duplicate
// verification keys keep their first occurrence; zero-stake parties are
// dropped. Party order follows the input, so every participant must be
// handed the same list.
func NewBasicVerifier(parties []RegisteredParty) *BasicVerifier {
	v := &BasicVerifier{index: make(map[string]uint64)}
	for _, rp := range parties {
		if rp.Stake == 0 {
			continue
		}
		key := string(rp.VK.Bytes())
		if _, ok := v.index[key]; ok {
			continue
		}
		v.index[key] = uint64(len(v.parties))
		v.parties = append(v.parties, rp)
		v.total += rp.Stake
	}
	return v
}

// EligibleParties returns the deduplicated party list in committee order.
func (v *BasicVerifier) EligibleParties() []RegisteredParty {
	return append([]RegisteredParty(nil), v.parties...)
}

// TotalStake returns the sum of eligible stakes.
func (v *BasicVerifier) TotalStake() uint64 {
	return v.total
}

// lookup finds a verification key's index and party.
func (v *BasicVerifier) lookup(vk *bls.VerificationKey) (uint64, RegisteredParty, bool) {
	idx, ok := v.index[string(vk.Bytes())]
	if !ok {
		return 0, RegisteredParty{}, false
	}
	return idx, v.parties[idx], true
}

// Verify checks that the signatures carry a quorum: every signature must
// verify under its claimed party, realize a winning draw, and sit at a
// lottery index in range, and the distinct winning indices must reach k.
// Conflicting signatures at one lottery index resolve to the lowest signer
// index, as in clerk aggregation.
func (v *BasicVerifier) Verify(sigs []*SingleSignature, params Parameters, msg []byte) error {
	if err := params.Validate(); err != nil {
		return err
	}

	best := make(map[uint64]uint64) // lottery index -> signer index
	for _, sig := range sigs {
		if sig == nil || sig.Sigma == nil {
			return ErrSignatureVerificationFailed
		}
		if sig.SignerIndex >= uint64(len(v.parties)) || sig.Index >= params.M {
			return ErrQuorumSizeWrong
		}
		party := v.parties[sig.SignerIndex]
		if !bls.Verify(party.VK, msg, sig.Sigma) {
			return ErrSignatureVerificationFailed
		}
		if ComputeEval(msg, sig.Index, sig.Sigma) != sig.Ev {
			return ErrEligibilityCheckFailed
		}
		if !IsEligible(params.Phi, sig.Ev, party.Stake, v.total) {
			return ErrEligibilityCheckFailed
		}
		if cur, ok := best[sig.Index]; !ok || sig.SignerIndex < cur {
			best[sig.Index] = sig.SignerIndex
		}
	}

	if uint64(len(best)) < params.K {
		return &NotEnoughSignaturesError{Got: uint64(len(best)), Required: params.K}
	}
	return nil
}
