package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// BufferState is the state of a pipeline's candidate buffer.
type BufferState string

const (
	// BufferPending means matching has not finished yet.
	BufferPending BufferState = "pending"
	// BufferNoMatch means matching finished with zero results.
	BufferNoMatch BufferState = "no_match"
	// BufferFound means matching finished with at least one result.
	BufferFound BufferState = "found"
)

// ErrBufferTransition is returned for a transition the buffer does not allow.
var ErrBufferTransition = eris.New("model: invalid candidate buffer transition")

// CandidateBuffer holds a pipeline's matching results.
//
// Allowed transitions are Pending→NoMatch and Pending→Found. A Found buffer may
// shrink through Filter but never returns to Pending or becomes empty.
type CandidateBuffer struct {
	state   BufferState
	records []CandidateRecord
}

// NewCandidateBuffer returns a Pending buffer.
func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{state: BufferPending}
}

// State returns the current buffer state.
func (b *CandidateBuffer) State() BufferState {
	return b.state
}

// Records returns a copy of the stored candidates.
func (b *CandidateBuffer) Records() []CandidateRecord {
	out := make([]CandidateRecord, len(b.records))
	copy(out, b.records)
	return out
}

// Len returns the number of stored candidates.
func (b *CandidateBuffer) Len() int {
	return len(b.records)
}

// Resolve settles a Pending buffer: NoMatch when records is empty, Found otherwise.
func (b *CandidateBuffer) Resolve(records []CandidateRecord) error {
	if b.state != BufferPending {
		return eris.Wrapf(ErrBufferTransition, "resolve from %s", b.state)
	}
	if len(records) == 0 {
		b.state = BufferNoMatch
		b.records = nil
		return nil
	}
	b.state = BufferFound
	b.records = make([]CandidateRecord, len(records))
	copy(b.records, records)
	return nil
}

// Filter drops every candidate for which drop returns true. It only applies to
// a Found buffer and refuses to remove every candidate.
func (b *CandidateBuffer) Filter(drop func(CandidateRecord) bool) (removed int, err error) {
	if b.state != BufferFound {
		return 0, eris.Wrapf(ErrBufferTransition, "filter in state %s", b.state)
	}
	kept := make([]CandidateRecord, 0, len(b.records))
	for _, r := range b.records {
		if drop(r) {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return 0, eris.Wrap(ErrBufferTransition, "filter would remove every candidate")
	}
	removed = len(b.records) - len(kept)
	b.records = kept
	return removed, nil
}

// Truncated returns the "<id> <name>" summaries of the stored candidates.
func (b *CandidateBuffer) Truncated() []string {
	out := make([]string, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r.Truncated())
	}
	return out
}

// Snapshot returns an immutable copy suitable for serialisation.
func (b *CandidateBuffer) Snapshot() BufferSnapshot {
	return BufferSnapshot{State: b.state, Candidates: b.Records()}
}

// BufferSnapshot is a point-in-time copy of a CandidateBuffer.
type BufferSnapshot struct {
	State      BufferState       `json:"state"`
	Candidates []CandidateRecord `json:"candidates"`
}

// MarshalJSON encodes the buffer through its snapshot.
func (b *CandidateBuffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}
