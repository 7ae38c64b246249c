package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_SeedsBuiltins(t *testing.T) {
	r := NewRegistry()

	stages, ok := r.Stages("default")
	require.True(t, ok)
	assert.Equal(t, []string{"plan", "implement", "verify"}, stages)

	_, ok = r.Stages("nonexistent")
	assert.False(t, ok)
}

func TestLoadFile_MissingFileReturnsBuiltinsOnly(t *testing.T) {
	r, err := LoadFile(filepath.Join(t.TempDir(), "workflows.yaml"))
	require.NoError(t, err)

	_, ok := r.Stages("default")
	assert.True(t, ok)
	assert.Len(t, r.Names(), len(builtins))
}

func TestLoadFile_OverlaysCustomWorkflows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflows.yaml")
	doc := `
workflows:
  - name: custom
    stages: [draft, review, ship]
  - name: default
    stages: [plan, build]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)

	stages, ok := r.Stages("custom")
	require.True(t, ok)
	assert.Equal(t, []string{"draft", "review", "ship"}, stages)

	stages, ok = r.Stages("default")
	require.True(t, ok)
	assert.Equal(t, []string{"plan", "build"}, stages, "custom file overrides the built-in default workflow")
}

func TestStageAt_BoundsChecked(t *testing.T) {
	r := NewRegistry()

	stage, ok := r.StageAt("default", 1)
	require.True(t, ok)
	assert.Equal(t, "implement", stage)

	_, ok = r.StageAt("default", 99)
	assert.False(t, ok)

	_, ok = r.StageAt("missing", 0)
	assert.False(t, ok)
}

func TestRegister_ReplacesExistingDefinition(t *testing.T) {
	r := NewRegistry()
	r.Register("quick", []string{"implement", "verify"})

	stages, ok := r.Stages("quick")
	require.True(t, ok)
	assert.Equal(t, []string{"implement", "verify"}, stages)
}
