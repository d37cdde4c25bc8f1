package pipelinefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/recruit-orchestrator/internal/model"
)

const sample = `
pipeline:
  session: demo
  components:
    - type: ATS
      count: 10
    - type: AI_Matching
      query: python developer
      count: 3
    - type: Voice_bot
      interruptable: false
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", f.Session)

	chain, err := f.Chain()
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, model.ComponentExtraction, chain[0].Type)
	assert.Equal(t, 10, chain[0].Extraction.Count)
	assert.Equal(t, "python developer", chain[1].Matching.Query)
	assert.Equal(t, 3, chain[1].Matching.Count)
	assert.Equal(t, model.ComponentCalling, chain[2].Type)
	assert.False(t, chain[2].Interruptable)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_ExplicitCandidates(t *testing.T) {
	f, err := Parse([]byte(`
pipeline:
  components:
    - type: calling
      candidates:
        - id: 7
          person_name: Ada Lovelace
          skills: [math]
`))
	require.NoError(t, err)
	chain, err := f.Chain()
	require.NoError(t, err)
	require.Len(t, chain[0].Calling.Candidates, 1)
	assert.Equal(t, "Ada Lovelace", chain[0].Calling.Candidates[0].PersonName)
	assert.True(t, chain[0].Interruptable)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "pipeline: ["},
		{"no components", "pipeline:\n  session: x\n"},
		{"missing type", "pipeline:\n  components:\n    - count: 2\n"},
		{"unknown type", "pipeline:\n  components:\n    - type: fax\n"},
		{"negative count", "pipeline:\n  components:\n    - type: ATS\n      count: -2\n"},
		{"extraction without count", "pipeline:\n  components:\n    - type: ATS\n"},
		{"matching without query", "pipeline:\n  components:\n    - type: AI_Matching\n      count: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
