package stm

// Wire-level signature objects.
//
// A SingleSignature is one winning lottery draw: the BLS signature over the
// message, the signer's committee index, the lottery index it won, the
// eligibility value realizing the draw, and the signer's Merkle inclusion
// path. An AggregateSignature is the clerk's output: exactly k entries at
// distinct lottery indices, each carrying its registered party so a
// verifier can recompute leaves, plus one batched inclusion proof over the
// union of the involved committee indices.
//
// All encodings are little-endian with fixed-size or length-prefixed
// fields, and every decoder rejects trailing bytes.

import (
	"encoding/binary"

	"github.com/stakesig/stakesig/bls"
	"github.com/stakesig/stakesig/merkle"
)

// singleSigCoreSize is the path-free portion of a single signature:
// sigma || signer_index || lottery_index || ev.
const singleSigCoreSize = bls.SignatureSize + 8 + 8 + EvalSize

// aggregateEntrySize is one aggregate entry on the wire: the registered
// party followed by the path-free single signature.
const aggregateEntrySize = RegisteredPartySize + singleSigCoreSize

// SingleSignature is an individual signer's winning draw for one lottery
// index.
type SingleSignature struct {
	// Sigma is the BLS signature over the message. It does not depend on
	// the lottery index; a signer emits the same sigma for every index it
	// wins.
	Sigma *bls.Signature

	// SignerIndex is the signer's position in the closed registration.
	SignerIndex uint64

	// Index is the lottery index this signature wins.
	Index uint64

	// Ev is the eligibility value realizing the winning draw.
	Ev Eval

	// Path proves the signer's leaf against the registration root.
	Path *merkle.Path
}

// Bytes encodes the signature as
// sigma || signer_index || lottery_index || ev || path_len || path.
func (s *SingleSignature) Bytes() []byte {
	var values []merkle.Digest
	if s.Path != nil {
		values = s.Path.Values
	}
	out := make([]byte, 0, singleSigCoreSize+4+len(values)*digestLen(s.Path))
	out = appendSingleCore(out, s)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(values)))
	for _, v := range values {
		out = append(out, v...)
	}
	return out
}

// SingleSignatureFromBytes decodes a single signature whose path digests
// are digestSize bytes each.
func SingleSignatureFromBytes(data []byte, digestSize int) (*SingleSignature, error) {
	if digestSize < 1 || len(data) < singleSigCoreSize+4 {
		return nil, ErrSerialization
	}

	sig, err := parseSingleCore(data[:singleSigCoreSize])
	if err != nil {
		return nil, err
	}
	rest := data[singleSigCoreSize:]

	n := binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint64(len(rest)) != uint64(n)*uint64(digestSize) {
		return nil, ErrSerialization
	}
	path := &merkle.Path{Values: make([]merkle.Digest, n)}
	for i := range path.Values {
		path.Values[i] = append(merkle.Digest(nil), rest[:digestSize]...)
		rest = rest[digestSize:]
	}
	sig.Path = path
	return sig, nil
}

// appendSingleCore appends the path-free portion of a single signature.
func appendSingleCore(out []byte, s *SingleSignature) []byte {
	out = append(out, s.Sigma.Bytes()...)
	out = binary.LittleEndian.AppendUint64(out, s.SignerIndex)
	out = binary.LittleEndian.AppendUint64(out, s.Index)
	return append(out, s.Ev[:]...)
}

// parseSingleCore decodes the path-free portion of a single signature.
func parseSingleCore(data []byte) (*SingleSignature, error) {
	sigma, err := bls.SignatureFromBytes(data[:bls.SignatureSize])
	if err != nil {
		return nil, ErrSerialization
	}
	s := &SingleSignature{
		Sigma:       sigma,
		SignerIndex: binary.LittleEndian.Uint64(data[bls.SignatureSize : bls.SignatureSize+8]),
		Index:       binary.LittleEndian.Uint64(data[bls.SignatureSize+8 : bls.SignatureSize+16]),
	}
	copy(s.Ev[:], data[bls.SignatureSize+16:])
	return s, nil
}

// digestLen returns the digest size used in a path, or 0 for an empty one.
func digestLen(p *merkle.Path) int {
	if p == nil || len(p.Values) == 0 {
		return 0
	}
	return len(p.Values[0])
}

// AggregateEntry is one signature inside an aggregate, paired with the
// registered party that produced it so verifiers can recompute its leaf.
type AggregateEntry struct {
	Party       RegisteredParty
	Sigma       *bls.Signature
	SignerIndex uint64
	Index       uint64
	Ev          Eval
}

// AggregateSignature is a compact multi-signature: entries at k distinct
// lottery indices in ascending order, plus one batched Merkle proof over
// the sorted, deduplicated committee indices involved.
type AggregateSignature struct {
	Entries   []AggregateEntry
	BatchPath *merkle.BatchPath
}

// Bytes encodes the aggregate as
// entry_count || entries || index_count || indices || hash_count || hashes.
func (a *AggregateSignature) Bytes() []byte {
	size := 4 + len(a.Entries)*aggregateEntrySize +
		4 + len(a.BatchPath.Indices)*8 + 4
	for _, v := range a.BatchPath.Values {
		size += len(v)
	}
	out := make([]byte, 0, size)

	out = binary.LittleEndian.AppendUint32(out, uint32(len(a.Entries)))
	for i := range a.Entries {
		e := &a.Entries[i]
		out = append(out, e.Party.Bytes()...)
		out = appendSingleCore(out, &SingleSignature{
			Sigma:       e.Sigma,
			SignerIndex: e.SignerIndex,
			Index:       e.Index,
			Ev:          e.Ev,
		})
	}

	out = binary.LittleEndian.AppendUint32(out, uint32(len(a.BatchPath.Indices)))
	for _, idx := range a.BatchPath.Indices {
		out = binary.LittleEndian.AppendUint64(out, idx)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(a.BatchPath.Values)))
	for _, v := range a.BatchPath.Values {
		out = append(out, v...)
	}
	return out
}

// AggregateSignatureFromBytes decodes an aggregate whose proof digests are
// digestSize bytes each. Trailing bytes are rejected.
func AggregateSignatureFromBytes(data []byte, digestSize int) (*AggregateSignature, error) {
	if digestSize < 1 || len(data) < 4 {
		return nil, ErrSerialization
	}

	entryCount := binary.LittleEndian.Uint32(data[:4])
	rest := data[4:]
	if uint64(len(rest)) < uint64(entryCount)*aggregateEntrySize {
		return nil, ErrSerialization
	}

	entries := make([]AggregateEntry, entryCount)
	for i := range entries {
		party, err := RegisteredPartyFromBytes(rest[:RegisteredPartySize])
		if err != nil {
			return nil, ErrSerialization
		}
		rest = rest[RegisteredPartySize:]

		core, err := parseSingleCore(rest[:singleSigCoreSize])
		if err != nil {
			return nil, err
		}
		rest = rest[singleSigCoreSize:]

		entries[i] = AggregateEntry{
			Party:       party,
			Sigma:       core.Sigma,
			SignerIndex: core.SignerIndex,
			Index:       core.Index,
			Ev:          core.Ev,
		}
	}

	if len(rest) < 4 {
		return nil, ErrSerialization
	}
	idxCount := binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint64(len(rest)) < uint64(idxCount)*8 {
		return nil, ErrSerialization
	}
	indices := make([]uint64, idxCount)
	for i := range indices {
		indices[i] = binary.LittleEndian.Uint64(rest[:8])
		rest = rest[8:]
	}

	if len(rest) < 4 {
		return nil, ErrSerialization
	}
	hashCount := binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint64(len(rest)) != uint64(hashCount)*uint64(digestSize) {
		return nil, ErrSerialization
	}
	values := make([]merkle.Digest, hashCount)
	for i := range values {
		values[i] = append(merkle.Digest(nil), rest[:digestSize]...)
		rest = rest[digestSize:]
	}

	return &AggregateSignature{
		Entries:   entries,
		BatchPath: &merkle.BatchPath{Indices: indices, Values: values},
	}, nil
}
