// Package pipelinefile loads pipeline definitions for headless runs.
package pipelinefile

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/recruit-orchestrator/internal/model"
)

// File is a pipeline definition.
type File struct {
	Session    string      `yaml:"session"`
	Components []Component `yaml:"components" validate:"required,min=1,dive"`
}

// Component is one entry of a pipeline definition.
type Component struct {
	Type          string                  `yaml:"type" validate:"required"`
	Count         int                     `yaml:"count" validate:"omitempty,gt=0"`
	Query         string                  `yaml:"query"`
	Interruptable *bool                   `yaml:"interruptable"`
	Candidates    []model.CandidateRecord `yaml:"candidates"`
}

var validate = validator.New()

// Load reads a pipeline definition from a YAML file. The YAML has a
// top-level "pipeline" key.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipelinefile: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a pipeline definition.
func Parse(data []byte) (*File, error) {
	var wrapper struct {
		Pipeline File `yaml:"pipeline"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "pipelinefile: parse")
	}
	f := &wrapper.Pipeline
	if err := validate.Struct(f); err != nil {
		return nil, eris.Wrap(err, "pipelinefile: validate")
	}
	if _, err := f.Chain(); err != nil {
		return nil, err
	}
	return f, nil
}

// Chain converts the definition into model components.
func (f *File) Chain() ([]model.Component, error) {
	chain := make([]model.Component, 0, len(f.Components))
	for i, fc := range f.Components {
		typ, err := model.ParseComponentType(fc.Type)
		if err != nil {
			return nil, eris.Wrapf(err, "pipelinefile: component %d", i)
		}
		var c model.Component
		switch typ {
		case model.ComponentExtraction:
			c = model.NewExtraction(fc.Count)
		case model.ComponentMatching:
			c = model.NewMatching(fc.Query, fc.Count)
		case model.ComponentCalling:
			c = model.NewCalling()
			c.Calling.Candidates = fc.Candidates
		}
		if fc.Interruptable != nil {
			c.Interruptable = *fc.Interruptable
		}
		if err := c.Validate(); err != nil {
			return nil, eris.Wrapf(err, "pipelinefile: component %d", i)
		}
		chain = append(chain, c)
	}
	return chain, nil
}
