package shred

import (
	"bytes"
	"crypto/sha256"
	"encoding"
	"errors"
	"hash"
	"sync"
)

// DigestKind selects the comparison semantics of a Digest.
type DigestKind int

const (
	// DigestStreaming compares files by a rolling cryptographic hash.
	// Two files are assumed equal iff their digests match; collisions are
	// assumed absent.
	DigestStreaming DigestKind = iota
	// DigestParanoid compares files byte-for-byte. The "digest" buffers
	// every byte fed to it so two digests can be compared with memcmp.
	DigestParanoid
)

// Digest is an opaque progressive hash value. Two digests compare equal
// iff all bytes fed so far are identical and the underlying kinds match.
//
// For DigestParanoid, a digest also tracks "candidate twins" - other
// files' buffered prefixes - so a diverging comparison can be detected,
// and the read aborted, before a full increment completes.
type Digest interface {
	Kind() DigestKind
	// Update absorbs the next contiguous slice of bytes.
	Update(p []byte)
	// Bytes reports how many bytes have been absorbed so far.
	Bytes() int64
	// Sum returns the current digest value, used as a child-lookup key.
	Sum() []byte
	// Equal reports whether two digests represent the same content so far.
	Equal(other Digest) bool
	// Clone creates a new digest of the same kind, used to seed a new
	// group's prototype digest: streaming and paranoid clones start empty
	// at offset 0; an external digest's clone carries the same checksum.
	Clone() Digest
	// NotifyCandidate records another file's buffered prefix as a
	// possible twin, enabling early divergence detection (paranoid only;
	// a no-op for streaming digests).
	NotifyCandidate(prefix []byte)
	// Diverged reports whether a notified candidate has already proven
	// to differ from the bytes absorbed so far (paranoid only; always
	// false for streaming digests since divergence there is only known
	// at the end of an increment, via Sum/Equal).
	Diverged() bool
	// CandidateCount reports how many twin candidates have been notified
	// so far (paranoid only; always 0 for streaming digests). Used by
	// the worth_waiting re-evaluation in spec.md §4.5 step 5.
	CandidateCount() int
}

// NewDigest creates a digest of the given kind.
func NewDigest(kind DigestKind) Digest {
	switch kind {
	case DigestParanoid:
		return &paranoidDigest{}
	default:
		return &streamDigest{h: sha256.New()}
	}
}

// streamDigest is the DigestStreaming implementation, backed by SHA-256 -
// the same hash the teacher's verifier.hashRange used for its single-stage
// comparisons.
type streamDigest struct {
	h     hash.Hash
	bytes int64
	sum   []byte // cached Sum() of the bytes absorbed so far
}

func (d *streamDigest) Kind() DigestKind { return DigestStreaming }

func (d *streamDigest) Update(p []byte) {
	d.h.Write(p)
	d.bytes += int64(len(p))
	d.sum = d.h.Sum(nil)
}

func (d *streamDigest) Bytes() int64 { return d.bytes }

func (d *streamDigest) Sum() []byte { return d.sum }

func (d *streamDigest) Equal(other Digest) bool {
	o, ok := other.(*streamDigest)
	if !ok || d.bytes != o.bytes {
		return false
	}
	return bytes.Equal(d.sum, o.sum)
}

func (d *streamDigest) Clone() Digest {
	return &streamDigest{h: sha256.New(), bytes: 0, sum: nil}
}

// MarshalState and UnmarshalState let a hasher skip re-reading bytes
// whose cumulative hash was already computed and cached (internal/cache,
// internal/hasher), by serializing crypto/sha256's internal block state
// rather than just its output sum - a sum alone can't be resumed from.
func (d *streamDigest) MarshalState() (data []byte, bytes int64, err error) {
	m, ok := d.h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, 0, errors.New("shred: digest hash does not support state marshaling")
	}
	data, err = m.MarshalBinary()
	return data, d.bytes, err
}

func (d *streamDigest) UnmarshalState(data []byte, bytes int64) error {
	u, ok := d.h.(encoding.BinaryUnmarshaler)
	if !ok {
		return errors.New("shred: digest hash does not support state marshaling")
	}
	if err := u.UnmarshalBinary(data); err != nil {
		return err
	}
	d.bytes = bytes
	d.sum = d.h.Sum(nil)
	return nil
}

func (d *streamDigest) NotifyCandidate([]byte) {}
func (d *streamDigest) Diverged() bool         { return false }
func (d *streamDigest) CandidateCount() int    { return 0 }

// paranoidDigest is the DigestParanoid implementation. It buffers every
// byte fed so far so that equality reduces to memcmp, and tracks
// candidate-twin prefixes so an in-progress read can short-circuit.
type paranoidDigest struct {
	mu         sync.Mutex
	buf        []byte
	candidates [][]byte // buffered prefixes of sibling digests, as of notification time
	diverged   bool
}

func (d *paranoidDigest) Kind() DigestKind { return DigestParanoid }

func (d *paranoidDigest) Update(p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := len(d.buf)
	d.buf = append(d.buf, p...)
	d.checkDivergedLocked(start)
}

func (d *paranoidDigest) Bytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.buf))
}

func (d *paranoidDigest) Sum() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	sum := make([]byte, len(d.buf))
	copy(sum, d.buf)
	return sum
}

func (d *paranoidDigest) Equal(other Digest) bool {
	o, ok := other.(*paranoidDigest)
	if !ok {
		return false
	}
	d.mu.Lock()
	a := d.buf
	d.mu.Unlock()
	o.mu.Lock()
	b := o.buf
	o.mu.Unlock()
	return bytes.Equal(a, b)
}

func (d *paranoidDigest) Clone() Digest {
	return &paranoidDigest{}
}

// NotifyCandidate records a sibling's buffered prefix as a twin candidate.
// Called by the sifter whenever a new child class appears under the same
// parent, so a digest that is mid-increment can detect divergence early.
func (d *paranoidDigest) NotifyCandidate(prefix []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(prefix))
	copy(cp, prefix)
	d.candidates = append(d.candidates, cp)
	d.checkDivergedLocked(0)
}

// checkDivergedLocked compares buf against every candidate over the
// overlapping range, starting the comparison at start (an optimization:
// bytes before start were already checked against candidates known at
// that time). Must be called with mu held.
func (d *paranoidDigest) checkDivergedLocked(start int) {
	if d.diverged {
		return
	}
	for _, c := range d.candidates {
		n := min(len(d.buf), len(c))
		if n <= start {
			continue
		}
		if !bytes.Equal(d.buf[start:n], c[start:n]) {
			d.diverged = true
			return
		}
	}
}

func (d *paranoidDigest) Diverged() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.diverged
}

func (d *paranoidDigest) CandidateCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.candidates)
}

// externalDigest stands in for a file's full-content digest when a
// previously trusted external checksum (xattr sidecar or resume cache) is
// available. It never reads a byte itself - Update is a no-op - it only
// carries the stored checksum value so the normal sift-by-digest-equality
// machinery can route same-size siblings into the correct child class by
// comparing checksum values instead of computing new ones (spec.md
// §4.9/§10's all-external-checksum short circuit).
type externalDigest struct {
	kind DigestKind
	sum  []byte
}

func newExternalDigest(kind DigestKind, sum []byte) Digest {
	return &externalDigest{kind: kind, sum: sum}
}

func (d *externalDigest) Kind() DigestKind { return d.kind }
func (d *externalDigest) Update([]byte)    {}
func (d *externalDigest) Bytes() int64     { return int64(len(d.sum)) }
func (d *externalDigest) Sum() []byte      { return d.sum }

func (d *externalDigest) Equal(other Digest) bool {
	o, ok := other.(*externalDigest)
	if !ok {
		return false
	}
	return bytes.Equal(d.sum, o.sum)
}

func (d *externalDigest) Clone() Digest {
	cp := make([]byte, len(d.sum))
	copy(cp, d.sum)
	return &externalDigest{kind: d.kind, sum: cp}
}

func (d *externalDigest) NotifyCandidate([]byte) {}
func (d *externalDigest) Diverged() bool         { return false }
func (d *externalDigest) CandidateCount() int    { return 0 }
