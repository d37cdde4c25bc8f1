package api

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/session"
)

// ComponentRequest describes one component of a new pipeline.
type ComponentRequest struct {
	Type          string                  `json:"type" validate:"required"`
	Count         int                     `json:"count" validate:"omitempty,gt=0"`
	Query         string                  `json:"query"`
	Interruptable *bool                   `json:"interruptable"`
	Candidates    []model.CandidateRecord `json:"candidates"`
}

// Component converts the request into a model component.
func (r ComponentRequest) Component() (model.Component, error) {
	typ, err := model.ParseComponentType(r.Type)
	if err != nil {
		return model.Component{}, eris.Wrap(errBadRequest, err.Error())
	}
	var c model.Component
	switch typ {
	case model.ComponentExtraction:
		c = model.NewExtraction(r.Count)
	case model.ComponentMatching:
		c = model.NewMatching(r.Query, r.Count)
	case model.ComponentCalling:
		c = model.NewCalling()
		c.Calling.Candidates = r.Candidates
	}
	if r.Interruptable != nil {
		c.Interruptable = *r.Interruptable
	}
	if err := c.Validate(); err != nil {
		return model.Component{}, eris.Wrap(errBadRequest, err.Error())
	}
	return c, nil
}

// CreatePipelineRequest is the body of POST /sessions/{sid}/pipelines.
type CreatePipelineRequest struct {
	Components []ComponentRequest `json:"components" validate:"required,min=1,dive"`
}

// DispatchRequest is the optional body of POST .../tasks.
type DispatchRequest struct {
	ComponentType string                  `json:"component_type"`
	Candidates    []model.CandidateRecord `json:"candidates" validate:"omitempty,dive"`
}

// FilterRequest is the body of POST .../candidates/filter.
type FilterRequest struct {
	IDs   []int    `json:"ids" validate:"omitempty,dive,gte=0"`
	Names []string `json:"names" validate:"omitempty,dive,required"`
}

// FilterResponse reports a filter result.
type FilterResponse struct {
	Removed   int      `json:"removed"`
	Truncated []string `json:"candidates_truncated"`
}

// SessionResponse describes a session and its pipelines.
type SessionResponse struct {
	SessionID string             `json:"session_id"`
	Created   bool               `json:"created,omitempty"`
	Pipelines []session.Snapshot `json:"pipelines"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
