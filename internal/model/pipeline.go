package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ComponentType identifies a component variant.
type ComponentType string

const (
	ComponentExtraction ComponentType = "extraction"
	ComponentMatching   ComponentType = "matching"
	ComponentCalling    ComponentType = "calling"
)

// ParseComponentType accepts the canonical names plus the aliases used by the
// conversational layer ("ATS", "AI_Matching", "Voice_bot" and the *_component forms).
func ParseComponentType(s string) (ComponentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "extraction", "ats", "ats_component":
		return ComponentExtraction, nil
	case "matching", "ai_matching", "ai_matching_component":
		return ComponentMatching, nil
	case "calling", "voice_bot", "voice_bot_component":
		return ComponentCalling, nil
	default:
		return "", eris.Errorf("model: unknown component type %q", s)
	}
}

// ExtractionSpec configures an Extraction component.
type ExtractionSpec struct {
	Count int `json:"count" yaml:"count" validate:"gt=0"`
}

// MatchingSpec configures a Matching component.
type MatchingSpec struct {
	Query string `json:"query" yaml:"query" validate:"required"`
	Count int    `json:"count" yaml:"count" validate:"gt=0"`
}

// CallingSpec configures a Calling component.
type CallingSpec struct {
	Ready      bool              `json:"ready_to_send_people" yaml:"ready_to_send_people"`
	Candidates []CandidateRecord `json:"candidates,omitempty" yaml:"candidates,omitempty"`
}

// Component is one stage of a pipeline. Exactly one of Extraction, Matching or
// Calling is set, matching Type.
type Component struct {
	Type          ComponentType   `json:"component_type" yaml:"type"`
	Status        Status          `json:"status" yaml:"-"`
	Interruptable bool            `json:"interruptable" yaml:"interruptable"`
	Revision      uint64          `json:"revision" yaml:"-"`
	Extraction    *ExtractionSpec `json:"extraction,omitempty" yaml:"extraction,omitempty"`
	Matching      *MatchingSpec   `json:"matching,omitempty" yaml:"matching,omitempty"`
	Calling       *CallingSpec    `json:"calling,omitempty" yaml:"calling,omitempty"`
}

// Validate checks that the variant payload agrees with Type.
func (c Component) Validate() error {
	set := 0
	for _, ok := range []bool{c.Extraction != nil, c.Matching != nil, c.Calling != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return eris.Errorf("model: component must carry exactly one variant, got %d", set)
	}
	switch c.Type {
	case ComponentExtraction:
		if c.Extraction == nil {
			return eris.New("model: extraction component missing extraction spec")
		}
		if c.Extraction.Count <= 0 {
			return eris.New("model: extraction count must be positive")
		}
	case ComponentMatching:
		if c.Matching == nil {
			return eris.New("model: matching component missing matching spec")
		}
		if strings.TrimSpace(c.Matching.Query) == "" {
			return eris.New("model: matching query is required")
		}
		if c.Matching.Count <= 0 {
			return eris.New("model: matching count must be positive")
		}
	case ComponentCalling:
		if c.Calling == nil {
			return eris.New("model: calling component missing calling spec")
		}
	default:
		return eris.Errorf("model: unknown component type %q", c.Type)
	}
	return nil
}

// Clone returns a deep copy of the component.
func (c Component) Clone() Component {
	out := c
	if c.Extraction != nil {
		e := *c.Extraction
		out.Extraction = &e
	}
	if c.Matching != nil {
		m := *c.Matching
		out.Matching = &m
	}
	if c.Calling != nil {
		cl := *c.Calling
		cl.Candidates = append([]CandidateRecord(nil), c.Calling.Candidates...)
		out.Calling = &cl
	}
	return out
}

// NewExtraction builds a not-started Extraction component.
func NewExtraction(count int) Component {
	return Component{Type: ComponentExtraction, Extraction: &ExtractionSpec{Count: count}}
}

// NewMatching builds a not-started Matching component.
func NewMatching(query string, count int) Component {
	return Component{Type: ComponentMatching, Matching: &MatchingSpec{Query: query, Count: count}}
}

// NewCalling builds a not-started, interruptable Calling component.
func NewCalling() Component {
	return Component{Type: ComponentCalling, Interruptable: true, Calling: &CallingSpec{}}
}

// Pipeline is an ordered chain of components. The chain order is fixed at
// creation.
type Pipeline struct {
	ID    string      `json:"id"`
	Chain []Component `json:"chain"`
}

// Clone returns a deep copy of the pipeline.
func (p Pipeline) Clone() Pipeline {
	out := Pipeline{ID: p.ID, Chain: make([]Component, len(p.Chain))}
	for i, c := range p.Chain {
		out.Chain[i] = c.Clone()
	}
	return out
}
