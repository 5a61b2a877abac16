package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	path := writeScenario(t, `
name: minimal
steps:
  - op: add_graph
    graph: world
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, OpAddGraph, s.Steps[0].Op)
}

func TestLoadScenarioMissingName(t *testing.T) {
	path := writeScenario(t, `
steps:
  - op: add_graph
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing name")
}

func TestLoadScenarioNoSteps(t *testing.T) {
	path := writeScenario(t, `name: empty`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

func TestLoadScenarioStepMissingOp(t *testing.T) {
	path := writeScenario(t, `
name: bad_step
steps:
  - graph: world
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing op")
}

func TestLoadScenarioNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
