package stm

// Key registration is a two-state machine. While open it accepts
// (verification key, proof of possession, stake) triples, deduplicating
// keys and preserving the insertion order of first successful
// registrations. Close seals the committee: it builds the Merkle tree over
// the party leaves, sums the stake, and aggregates the verification keys.
// A closed registration is immutable; closing again returns the same
// snapshot and registering afterwards fails.

import (
	"encoding/binary"
	"fmt"

	"github.com/stakesig/stakesig/bls"
	"github.com/stakesig/stakesig/merkle"
)

// RegisteredPartySize is the wire size of a registered party:
// verification key followed by the little-endian stake.
const RegisteredPartySize = bls.VerificationKeySize + 8

// RegisteredParty is one committee member: a verification key and its
// stake. Its leaf digest is H(vk || stake_le).
type RegisteredParty struct {
	VK    *bls.VerificationKey
	Stake uint64
}

// Bytes encodes the party as vk || stake_le.
func (rp RegisteredParty) Bytes() []byte {
	out := make([]byte, 0, RegisteredPartySize)
	out = append(out, rp.VK.Bytes()...)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], rp.Stake)
	return append(out, buf[:]...)
}

// RegisteredPartyFromBytes decodes a 104-byte registered party.
func RegisteredPartyFromBytes(data []byte) (RegisteredParty, error) {
	if len(data) != RegisteredPartySize {
		return RegisteredParty{}, ErrSerialization
	}
	vk, err := bls.VerificationKeyFromBytes(data[:bls.VerificationKeySize])
	if err != nil {
		return RegisteredParty{}, err
	}
	return RegisteredParty{
		VK:    vk,
		Stake: binary.LittleEndian.Uint64(data[bls.VerificationKeySize:]),
	}, nil
}

// leafDigest computes the Merkle leaf for a party.
func leafDigest(h merkle.Hasher, rp RegisteredParty) merkle.Digest {
	st := h.New()
	st.Write(rp.Bytes())
	return st.Sum(nil)
}

// KeyRegistration is the open phase of committee formation. Not safe for
// concurrent mutation; ownership stays with the registrar until Close.
type KeyRegistration struct {
	hasher  merkle.Hasher
	parties []RegisteredParty
	pops    []*bls.ProofOfPossession
	index   map[string]uint64
	total   uint64
	closed  *ClosedRegistration
}

// NewKeyRegistration opens a registration committing with BLAKE2b-256.
func NewKeyRegistration() *KeyRegistration {
	return NewKeyRegistrationWithHasher(merkle.Blake2b256{})
}

// NewKeyRegistrationWithHasher opens a registration with a caller-chosen
// commitment hash.
func NewKeyRegistrationWithHasher(h merkle.Hasher) *KeyRegistration {
	return &KeyRegistration{
		hasher: h,
		index:  make(map[string]uint64),
	}
}

// Register admits a party. It fails on a duplicate verification key, an
// invalid proof of possession, a zero stake, or a registration that has
// already been closed.
func (r *KeyRegistration) Register(vk *bls.VerificationKey, pop *bls.ProofOfPossession, stake uint64) error {
	if r.closed != nil {
		return ErrAlreadyClosed
	}
	if stake == 0 {
		return ErrZeroStake
	}
	if r.total+stake < r.total {
		return ErrStakeOverflow
	}

	key := string(vk.Bytes())
	if _, ok := r.index[key]; ok {
		return fmt.Errorf("%w: %s", ErrKeyAlreadyRegistered, vk)
	}
	if !bls.VerifyProofOfPossession(vk, pop) {
		return ErrInvalidProofOfPossession
	}

	r.index[key] = uint64(len(r.parties))
	r.parties = append(r.parties, RegisteredParty{VK: vk, Stake: stake})
	r.pops = append(r.pops, pop)
	r.total += stake
	return nil
}

// Close seals the registration and returns the committee snapshot. Closing
// an already-closed registration returns the same snapshot.
func (r *KeyRegistration) Close() (*ClosedRegistration, error) {
	if r.closed != nil {
		return r.closed, nil
	}
	if len(r.parties) == 0 {
		return nil, ErrEmptyRegistration
	}

	leaves := make([]merkle.Digest, len(r.parties))
	vks := make([]*bls.VerificationKey, len(r.parties))
	for i, rp := range r.parties {
		leaves[i] = leafDigest(r.hasher, rp)
		vks[i] = rp.VK
	}

	tree, err := merkle.NewTree(r.hasher, leaves)
	if err != nil {
		return nil, err
	}
	aggKey, err := bls.AggregateVerificationKeys(vks)
	if err != nil {
		return nil, err
	}

	index := make(map[string]uint64, len(r.index))
	for k, v := range r.index {
		index[k] = v
	}
	r.closed = &ClosedRegistration{
		hasher:  r.hasher,
		parties: append([]RegisteredParty(nil), r.parties...),
		pops:    append([]*bls.ProofOfPossession(nil), r.pops...),
		index:   index,
		tree:    tree,
		total:   r.total,
		aggKey:  aggKey,
	}
	return r.closed, nil
}

// ClosedRegistration is the sealed committee: the ordered parties, their
// Merkle commitment, the total stake, and the aggregate of all
// verification keys. It is immutable and safe to share across goroutines.
type ClosedRegistration struct {
	hasher  merkle.Hasher
	parties []RegisteredParty
	pops    []*bls.ProofOfPossession
	index   map[string]uint64
	tree    *merkle.Tree
	total   uint64
	aggKey  *bls.VerificationKey
}

// NumParties returns the committee size.
func (c *ClosedRegistration) NumParties() int {
	return len(c.parties)
}

// Party returns the committee member at index i.
func (c *ClosedRegistration) Party(i uint64) (RegisteredParty, bool) {
	if i >= uint64(len(c.parties)) {
		return RegisteredParty{}, false
	}
	return c.parties[i], true
}

// ProofOfPossession returns the proof recorded for the party at index i.
func (c *ClosedRegistration) ProofOfPossession(i uint64) (*bls.ProofOfPossession, bool) {
	if i >= uint64(len(c.pops)) {
		return nil, false
	}
	return c.pops[i], true
}

// LookupIndex returns the committee index of a verification key.
func (c *ClosedRegistration) LookupIndex(vk *bls.VerificationKey) (uint64, bool) {
	i, ok := c.index[string(vk.Bytes())]
	return i, ok
}

// TotalStake returns the sum of all registered stakes.
func (c *ClosedRegistration) TotalStake() uint64 {
	return c.total
}

// Root returns the Merkle root over the committee leaves.
func (c *ClosedRegistration) Root() merkle.Digest {
	return c.tree.Root()
}

// AggregateKey returns the group sum of all registered verification keys.
func (c *ClosedRegistration) AggregateKey() *bls.VerificationKey {
	return c.aggKey
}

// Hasher returns the commitment hash the registration was built with.
func (c *ClosedRegistration) Hasher() merkle.Hasher {
	return c.hasher
}

// AggregateVerificationKey returns the compact commitment sufficient to
// verify any aggregate from this committee.
func (c *ClosedRegistration) AggregateVerificationKey() AggregateVerificationKey {
	return AggregateVerificationKey{
		Root:       c.tree.Root(),
		TotalStake: c.total,
	}
}

// Prove returns the inclusion path for the party at index i.
func (c *ClosedRegistration) Prove(i uint64) (*merkle.Path, error) {
	return c.tree.Prove(i)
}

// ProveBatch returns the batched inclusion proof for the parties at the
// given indices.
func (c *ClosedRegistration) ProveBatch(indices []uint64) (*merkle.BatchPath, error) {
	return c.tree.ProveBatch(indices)
}

// AggregateVerificationKey is the committee commitment a verifier needs:
// the Merkle root over the registered parties and the total stake.
type AggregateVerificationKey struct {
	Root       merkle.Digest
	TotalStake uint64
}

// Bytes encodes the key as root || total_stake_le.
func (avk AggregateVerificationKey) Bytes() []byte {
	out := make([]byte, 0, len(avk.Root)+8)
	out = append(out, avk.Root...)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], avk.TotalStake)
	return append(out, buf[:]...)
}

// AggregateVerificationKeyFromBytes decodes an aggregate verification key
// whose root is digestSize bytes. Trailing bytes are rejected.
func AggregateVerificationKeyFromBytes(data []byte, digestSize int) (AggregateVerificationKey, error) {
	if digestSize < 1 || len(data) != digestSize+8 {
		return AggregateVerificationKey{}, ErrSerialization
	}
	return AggregateVerificationKey{
		Root:       append(merkle.Digest(nil), data[:digestSize]...),
		TotalStake: binary.LittleEndian.Uint64(data[digestSize:]),
	}, nil
}
