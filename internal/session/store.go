// Package session holds the per-session state of the orchestrator: pipelines,
// candidate buffers and approval lists. Nothing here is global; a Manager owns
// every Store and a Store is discarded with its session.
package session

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/recruit-orchestrator/internal/model"
)

// Approvals are the per-pipeline outcome lists of a calling run.
type Approvals struct {
	Screened      []string `json:"candidates_screened"`
	ApprovedOffer []string `json:"candidates_approved_offer"`
}

type nameSet struct {
	names []string
	seen  map[string]struct{}
}

func newNameSet() *nameSet {
	return &nameSet{seen: make(map[string]struct{})}
}

// add appends name once; names are compared after trimming and NFC normalisation.
func (s *nameSet) add(name string) bool {
	key := norm.NFC.String(strings.TrimSpace(name))
	if key == "" {
		return false
	}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.names = append(s.names, name)
	return true
}

func (s *nameSet) list() []string {
	return append([]string{}, s.names...)
}

type entry struct {
	pipeline model.Pipeline
	buffer   *model.CandidateBuffer
	screened *nameSet
	approved *nameSet
}

// Store is the state of one session. All methods are safe for concurrent use;
// a single mutex serialises every read and write.
type Store struct {
	id string

	mu        sync.Mutex
	pipelines map[string]*entry
}

// NewStore creates an empty session store.
func NewStore(id string) *Store {
	return &Store{id: id, pipelines: make(map[string]*entry)}
}

// ID returns the session id.
func (s *Store) ID() string {
	return s.id
}

// CreatePipeline stores chain under the next id (max existing + 1, or "0").
// Every component starts NotStarted and the buffer starts Pending.
func (s *Store) CreatePipeline(chain []model.Component) (model.Pipeline, error) {
	if len(chain) == 0 {
		return model.Pipeline{}, eris.Wrap(model.ErrInvalidPrecondition, "session: pipeline chain is empty")
	}
	comps := make([]model.Component, len(chain))
	for i, c := range chain {
		if err := c.Validate(); err != nil {
			return model.Pipeline{}, eris.Wrapf(err, "session: component %d", i)
		}
		c = c.Clone()
		c.Status = model.StatusNotStarted
		c.Revision = 0
		comps[i] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextIDLocked()
	e := &entry{
		pipeline: model.Pipeline{ID: id, Chain: comps},
		buffer:   model.NewCandidateBuffer(),
		screened: newNameSet(),
		approved: newNameSet(),
	}
	s.pipelines[id] = e
	return e.pipeline.Clone(), nil
}

func (s *Store) nextIDLocked() string {
	maxID := -1
	for id := range s.pipelines {
		n, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		if n > maxID {
			maxID = n
		}
	}
	return strconv.Itoa(maxID + 1)
}

// Pipeline returns a copy of the pipeline.
func (s *Store) Pipeline(pipelineID string) (model.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entryLocked(pipelineID)
	if err != nil {
		return model.Pipeline{}, err
	}
	return e.pipeline.Clone(), nil
}

// Pipelines returns copies of every pipeline ordered by numeric id.
func (s *Store) Pipelines() []model.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Pipeline, 0, len(s.pipelines))
	for _, e := range s.pipelines {
		out = append(out, e.pipeline.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out
}

// Component returns a copy of one component.
func (s *Store) Component(pipelineID string, index int) (model.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.componentLocked(pipelineID, index)
	if err != nil {
		return model.Component{}, err
	}
	return c.Clone(), nil
}

// Buffer returns a snapshot of the pipeline's candidate buffer.
func (s *Store) Buffer(pipelineID string) (model.BufferSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entryLocked(pipelineID)
	if err != nil {
		return model.BufferSnapshot{}, err
	}
	return e.buffer.Snapshot(), nil
}

// Truncated returns the "<id> <name>" candidate summaries of the pipeline.
func (s *Store) Truncated(pipelineID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entryLocked(pipelineID)
	if err != nil {
		return nil, err
	}
	return e.buffer.Truncated(), nil
}

// Approvals returns the screened and approved-offer lists of the pipeline.
func (s *Store) Approvals(pipelineID string) (Approvals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entryLocked(pipelineID)
	if err != nil {
		return Approvals{}, err
	}
	return Approvals{Screened: e.screened.list(), ApprovedOffer: e.approved.list()}, nil
}

// ApplyStatusDelta overlays delta on the component's status. The result must
// have exactly one flag set; otherwise nothing changes.
func (s *Store) ApplyStatusDelta(pipelineID string, index int, delta model.StatusDelta) (model.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.componentLocked(pipelineID, index)
	if err != nil {
		return model.Receipt{}, err
	}
	next, err := delta.Apply(c.Status)
	if err != nil {
		return model.Receipt{}, eris.Wrap(model.ErrInvalidPrecondition, err.Error())
	}
	return setStatusLocked(c, next), nil
}

// Apply is the authoritative session-state sink. It applies the update
// atomically: a matching result settles the buffer, call statuses extend the
// approval lists, and the status is replaced as a whole. A conditional update
// whose revision no longer matches returns model.ErrStale and changes nothing.
func (s *Store) Apply(_ context.Context, u model.Update) (model.Receipt, error) {
	if !u.Status.Valid() {
		return model.Receipt{}, eris.Wrapf(model.ErrInvalidPrecondition, "session: invalid status %d", int(u.Status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryLocked(u.PipelineID)
	if err != nil {
		return model.Receipt{}, err
	}
	c, err := componentOf(e, u.PipelineID, u.ComponentIndex)
	if err != nil {
		return model.Receipt{}, err
	}
	if u.ComponentType != "" && u.ComponentType != c.Type {
		return model.Receipt{}, eris.Wrapf(model.ErrInvalidPrecondition,
			"session: component %d of pipeline %s is %s, not %s", u.ComponentIndex, u.PipelineID, c.Type, u.ComponentType)
	}
	if u.ExpectRevision != nil && *u.ExpectRevision != c.Revision {
		return model.Receipt{}, eris.Wrapf(model.ErrStale,
			"session: pipeline %s component %d at revision %d, update expected %d",
			u.PipelineID, u.ComponentIndex, c.Revision, *u.ExpectRevision)
	}

	if u.Candidates != nil {
		if err := e.buffer.Resolve(*u.Candidates); err != nil {
			return model.Receipt{}, eris.Wrap(model.ErrInvalidPrecondition, err.Error())
		}
	}
	for _, cs := range u.CallStatuses {
		if cs.AcceptedCall {
			e.screened.add(cs.Name)
		}
		if cs.Approved {
			e.approved.add(cs.Name)
		}
	}

	return setStatusLocked(c, u.Status), nil
}

// FilterCandidates removes candidates by id or name from a Found buffer before
// calling and marks the Calling component ready. With no ids and no names it
// only marks the component ready.
func (s *Store) FilterCandidates(pipelineID string, callingIndex int, ids []int, names []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryLocked(pipelineID)
	if err != nil {
		return 0, err
	}
	c, err := componentOf(e, pipelineID, callingIndex)
	if err != nil {
		return 0, err
	}
	if c.Type != model.ComponentCalling {
		return 0, eris.Wrapf(model.ErrInvalidPrecondition, "session: component %d is %s, not calling", callingIndex, c.Type)
	}

	removed := 0
	if len(ids) > 0 || len(names) > 0 {
		dropID := make(map[int]struct{}, len(ids))
		for _, id := range ids {
			dropID[id] = struct{}{}
		}
		dropName := make(map[string]struct{}, len(names))
		for _, n := range names {
			dropName[norm.NFC.String(strings.TrimSpace(n))] = struct{}{}
		}
		removed, err = e.buffer.Filter(func(r model.CandidateRecord) bool {
			if _, ok := dropID[r.ID]; ok {
				return true
			}
			_, ok := dropName[norm.NFC.String(strings.TrimSpace(r.PersonName))]
			return ok
		})
		if err != nil {
			return 0, eris.Wrap(model.ErrInvalidPrecondition, err.Error())
		}
	}
	c.Calling.Ready = true
	return removed, nil
}

// Snapshot is a serialisable view of one pipeline with its buffer and approvals.
type Snapshot struct {
	Pipeline  model.Pipeline       `json:"pipeline"`
	Buffer    model.BufferSnapshot `json:"buffer"`
	Truncated []string             `json:"candidates_truncated"`
	Approvals Approvals            `json:"approvals"`
}

// Snapshot returns the full view of a pipeline.
func (s *Store) Snapshot(pipelineID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entryLocked(pipelineID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Pipeline:  e.pipeline.Clone(),
		Buffer:    e.buffer.Snapshot(),
		Truncated: e.buffer.Truncated(),
		Approvals: Approvals{Screened: e.screened.list(), ApprovedOffer: e.approved.list()},
	}, nil
}

func (s *Store) entryLocked(pipelineID string) (*entry, error) {
	e, ok := s.pipelines[pipelineID]
	if !ok {
		return nil, eris.Wrapf(model.ErrNotFound, "session %s: pipeline %q", s.id, pipelineID)
	}
	return e, nil
}

func (s *Store) componentLocked(pipelineID string, index int) (*model.Component, error) {
	e, err := s.entryLocked(pipelineID)
	if err != nil {
		return nil, err
	}
	return componentOf(e, pipelineID, index)
}

func componentOf(e *entry, pipelineID string, index int) (*model.Component, error) {
	if index < 0 || index >= len(e.pipeline.Chain) {
		return nil, eris.Wrapf(model.ErrNotFound, "pipeline %s: component index %d", pipelineID, index)
	}
	return &e.pipeline.Chain[index], nil
}

func setStatusLocked(c *model.Component, next model.Status) model.Receipt {
	prev := c.Status
	c.Status = next
	c.Revision++
	return model.Receipt{
		Previous: prev,
		Current:  next,
		Delta:    model.DeltaTo(prev, next),
		Revision: c.Revision,
	}
}
