package stm

// Signer holds a participant's secret material together with a snapshot of
// the closed registration, and produces one SingleSignature per lottery
// index won. Signing is pure: the BLS signature is deterministic and the
// lottery draws are a function of (message, index, signature), so re-signing
// the same message yields identical output.

import (
	"sync"
	"sync/atomic"

	"github.com/stakesig/stakesig/bls"
)

// signWorkers bounds the goroutines drawing lottery indices in parallel.
// Draws are independent per index; results are collected into an
// index-addressed slice so the emitted order never depends on scheduling.
const signWorkers = 16

// Signer signs messages on behalf of one registered participant.
type Signer struct {
	params     Parameters
	sk         *bls.SecretKey
	vk         *bls.VerificationKey
	stake      uint64
	index      uint64
	totalStake uint64

	// registration is nil for a basic signer, which signs against a plain
	// party list and emits no Merkle paths.
	registration *ClosedRegistration
}

// NewSigner builds a signer for the participant owning (sk, vk) in the
// given closed registration. It fails with ErrNotRegistered if the
// verification key is not part of the committee.
func NewSigner(params Parameters, sk *bls.SecretKey, vk *bls.VerificationKey, reg *ClosedRegistration) (*Signer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	idx, ok := reg.LookupIndex(vk)
	if !ok {
		return nil, ErrNotRegistered
	}
	party, _ := reg.Party(idx)
	return &Signer{
		params:       params,
		sk:           sk,
		vk:           vk,
		stake:        party.Stake,
		index:        idx,
		totalStake:   reg.TotalStake(),
		registration: reg,
	}, nil
}

// VerificationKey returns the signer's public key.
func (s *Signer) VerificationKey() *bls.VerificationKey {
	return s.vk
}

// Stake returns the signer's registered stake.
func (s *Signer) Stake() uint64 {
	return s.stake
}

// Index returns the signer's committee index.
func (s *Signer) Index() uint64 {
	return s.index
}

// Sign draws every lottery index in [0, m) for msg and returns one
// SingleSignature per won index, in ascending lottery-index order. The
// slice is empty when no index is won; signing itself cannot fail.
func (s *Signer) Sign(msg []byte) []*SingleSignature {
	sigma := bls.Sign(s.sk, msg)
	results := make([]*SingleSignature, s.params.M)

	workers := signWorkers
	if uint64(workers) > s.params.M {
		workers = int(s.params.M)
	}
	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j := uint64(next.Add(1)) - 1
				if j >= s.params.M {
					return
				}
				ev := ComputeEval(msg, j, sigma)
				if IsEligible(s.params.Phi, ev, s.stake, s.totalStake) {
					results[j] = &SingleSignature{
						Sigma:       sigma,
						SignerIndex: s.index,
						Index:       j,
						Ev:          ev,
					}
				}
			}
		}()
	}
	wg.Wait()

	var won []*SingleSignature
	for _, sig := range results {
		if sig != nil {
			won = append(won, sig)
		}
	}
	if len(won) > 0 && s.registration != nil {
		// One inclusion path serves every won index; the signer's leaf
		// does not depend on the lottery.
		p, err := s.registration.Prove(s.index)
		if err != nil {
			return nil
		}
		for _, sig := range won {
			sig.Path = p
		}
	}
	return won
}
