package stm

import (
	"testing"

	"github.com/stakesig/stakesig/merkle"
)

func TestSignerEmitsWinningDraws(t *testing.T) {
	params := Parameters{K: 1, M: 50, Phi: 0.8}
	tc := newTestCommittee(t, params, []uint64{20, 30, 50}, "signer")
	msg := []byte("winning draws")

	for i, signer := range tc.signers {
		if signer.Index() != uint64(i) {
			t.Errorf("signer %d has index %d", i, signer.Index())
		}

		sigs := signer.Sign(msg)
		seen := make(map[uint64]bool)
		for _, sig := range sigs {
			if sig.SignerIndex != uint64(i) {
				t.Errorf("signer %d emitted signer index %d", i, sig.SignerIndex)
			}
			if sig.Index >= params.M {
				t.Errorf("signer %d won out-of-range index %d", i, sig.Index)
			}
			if seen[sig.Index] {
				t.Errorf("signer %d emitted index %d twice", i, sig.Index)
			}
			seen[sig.Index] = true

			// Every record carries the signer's own sigma and a path
			// that verifies against the registration root.
			if !sig.Sigma.Equal(sigs[0].Sigma) {
				t.Errorf("signer %d varied sigma across lottery indices", i)
			}
			party, _ := tc.reg.Party(uint64(i))
			leaf := leafDigest(tc.reg.Hasher(), party)
			if !merkle.VerifyPath(tc.reg.Hasher(), tc.reg.Root(), uint64(i), leaf, sig.Path) {
				t.Errorf("signer %d emitted a non-verifying path", i)
			}

			// The emitted draw is exactly the eligibility predicate.
			if ComputeEval(msg, sig.Index, sig.Sigma) != sig.Ev {
				t.Errorf("signer %d emitted a stale eligibility value", i)
			}
			if !IsEligible(params.Phi, sig.Ev, signer.Stake(), tc.reg.TotalStake()) {
				t.Errorf("signer %d emitted a losing draw at index %d", i, sig.Index)
			}
		}

		// Ascending lottery-index order is the canonical output order.
		for j := 1; j < len(sigs); j++ {
			if sigs[j].Index <= sigs[j-1].Index {
				t.Errorf("signer %d output is not ascending", i)
			}
		}
	}
}
