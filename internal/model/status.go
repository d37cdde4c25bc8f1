package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Status is the lifecycle state of a pipeline component.
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the five known states.
func (s Status) Valid() bool {
	return s >= StatusNotStarted && s <= StatusInterrupted
}

// Terminal reports whether no further transition is expected from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusInterrupted:
		return true
	default:
		return false
	}
}

// Flags returns the five-flag wire form of s. Exactly one flag is true.
func (s Status) Flags() StatusFlags {
	return StatusFlags{
		NotStarted:  s == StatusNotStarted,
		Running:     s == StatusRunning,
		Completed:   s == StatusCompleted,
		Failed:      s == StatusFailed,
		Interrupted: s == StatusInterrupted,
	}
}

// MarshalJSON encodes the status as the flag object observers expect.
func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, eris.Errorf("model: invalid status %d", int(s))
	}
	return json.Marshal(s.Flags())
}

// UnmarshalJSON accepts the flag object and rejects anything that does not
// have exactly one true flag.
func (s *Status) UnmarshalJSON(data []byte) error {
	var f StatusFlags
	if err := json.Unmarshal(data, &f); err != nil {
		return eris.Wrap(err, "model: decode status")
	}
	st, err := f.Status()
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// StatusFlags is the five-boolean representation used on the wire.
type StatusFlags struct {
	NotStarted  bool `json:"NOT_STARTED"`
	Running     bool `json:"RUNNING"`
	Completed   bool `json:"COMPLETED"`
	Failed      bool `json:"FAILED"`
	Interrupted bool `json:"INTERRUPTED"`
}

// Status resolves the flags to a single state.
func (f StatusFlags) Status() (Status, error) {
	var (
		out   Status
		count int
	)
	for st, on := range map[Status]bool{
		StatusNotStarted:  f.NotStarted,
		StatusRunning:     f.Running,
		StatusCompleted:   f.Completed,
		StatusFailed:      f.Failed,
		StatusInterrupted: f.Interrupted,
	} {
		if on {
			out = st
			count++
		}
	}
	if count != 1 {
		return StatusNotStarted, eris.Errorf("model: status must have exactly one flag set, got %d", count)
	}
	return out, nil
}

// StatusDelta is a partial flag update. Nil fields are left unchanged.
type StatusDelta struct {
	NotStarted  *bool `json:"NOT_STARTED,omitempty"`
	Running     *bool `json:"RUNNING,omitempty"`
	Completed   *bool `json:"COMPLETED,omitempty"`
	Failed      *bool `json:"FAILED,omitempty"`
	Interrupted *bool `json:"INTERRUPTED,omitempty"`
}

// Apply overlays the delta on cur and resolves the result. The whole status is
// replaced at once; a delta that leaves zero or several flags set is an error.
func (d StatusDelta) Apply(cur Status) (Status, error) {
	f := cur.Flags()
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&f.NotStarted, d.NotStarted)
	set(&f.Running, d.Running)
	set(&f.Completed, d.Completed)
	set(&f.Failed, d.Failed)
	set(&f.Interrupted, d.Interrupted)
	return f.Status()
}

// DeltaTo builds the delta that moves from to the given status, naming only the
// flags that change.
func DeltaTo(from, to Status) StatusDelta {
	var d StatusDelta
	a, b := from.Flags(), to.Flags()
	pick := func(x, y bool) *bool {
		if x == y {
			return nil
		}
		v := y
		return &v
	}
	d.NotStarted = pick(a.NotStarted, b.NotStarted)
	d.Running = pick(a.Running, b.Running)
	d.Completed = pick(a.Completed, b.Completed)
	d.Failed = pick(a.Failed, b.Failed)
	d.Interrupted = pick(a.Interrupted, b.Interrupted)
	return d
}
