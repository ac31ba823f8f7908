package stm

// Initializer carries a participant's material between key generation and
// committee closure: the parameters, the declared stake, and the freshly
// generated key triple. Once the registration closes it turns into a
// Signer; against a plain public party list it turns into a basic signer
// that emits no Merkle paths.

import (
	"io"

	"github.com/stakesig/stakesig/bls"
)

// Initializer is a participant that has keys but no sealed committee yet.
type Initializer struct {
	params Parameters
	stake  uint64
	sk     *bls.SecretKey
	vk     *bls.VerificationKey
	pop    *bls.ProofOfPossession
}

// NewInitializer generates a key triple from the randomness source and
// binds it to the declared stake.
func NewInitializer(params Parameters, stake uint64, rand io.Reader) (*Initializer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	sk, vk, pop, err := bls.GenerateKeyPair(rand)
	if err != nil {
		return nil, err
	}
	return &Initializer{params: params, stake: stake, sk: sk, vk: vk, pop: pop}, nil
}

// Stake returns the declared stake.
func (ini *Initializer) Stake() uint64 {
	return ini.stake
}

// VerificationKey returns the public key to register.
func (ini *Initializer) VerificationKey() *bls.VerificationKey {
	return ini.vk
}

// ProofOfPossession returns the proof to register alongside the key.
func (ini *Initializer) ProofOfPossession() *bls.ProofOfPossession {
	return ini.pop
}

// Register enrolls this participant in an open registration.
func (ini *Initializer) Register(r *KeyRegistration) error {
	return r.Register(ini.vk, ini.pop, ini.stake)
}

// NewSigner consumes the initializer against a closed registration. It
// fails with ErrNotRegistered if this participant's key is not in the
// committee.
func (ini *Initializer) NewSigner(reg *ClosedRegistration) (*Signer, error) {
	return NewSigner(ini.params, ini.sk, ini.vk, reg)
}

// NewBasicSigner consumes the initializer against a basic verifier's
// eligible-party list. The resulting signer draws the same lotteries but
// emits signatures without inclusion paths.
func (ini *Initializer) NewBasicSigner(v *BasicVerifier) (*Signer, error) {
	idx, party, ok := v.lookup(ini.vk)
	if !ok {
		return nil, ErrNotRegistered
	}
	return &Signer{
		params:     ini.params,
		sk:         ini.sk,
		vk:         ini.vk,
		stake:      party.Stake,
		index:      idx,
		totalStake: v.TotalStake(),
	}, nil
}
