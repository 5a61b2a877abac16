package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TacticalMetaphysics/eidetic/internal/engine"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeSeedFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "world.cue")
	src := `graphs: overworld: {
	stats: {name: "Overworld"}
	nodes: {alice: {hp: 10}, bob: {}}
	edges: [{orig: "alice", dest: "bob", stats: {}}]
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	_, err := runCLI(t, "branches", "--format", "xml", "--db", filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, err)
}

func TestSeedCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "world.db")
	out, err := runCLI(t, "seed", writeSeedFile(t, dir), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 1 graph(s)")

	// The seed landed durably.
	eng, err := engine.New(engine.Options{Path: db})
	require.NoError(t, err)
	defer eng.Close(context.Background())
	v, err := eng.NodeStat("overworld", "alice", "hp")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(10), v))
}

func TestSeedCommandBadPath(t *testing.T) {
	db := filepath.Join(t.TempDir(), "world.db")
	_, err := runCLI(t, "seed", filepath.Join(t.TempDir(), "missing.cue"), "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestBranchesCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "world.db")
	_, err := runCLI(t, "seed", writeSeedFile(t, dir), "--db", db)
	require.NoError(t, err)

	eng, err := engine.New(engine.Options{Path: db})
	require.NoError(t, err)
	eng.NextTurn()
	require.NoError(t, eng.Fork("side"))
	require.NoError(t, eng.Close(context.Background()))

	out, err := runCLI(t, "branches", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "trunk (root)")
	assert.Contains(t, out, "side from trunk@1.0")

	out, err = runCLI(t, "branches", "--db", db, "--format", "json")
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestDumpCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "world.db")
	_, err := runCLI(t, "seed", writeSeedFile(t, dir), "--db", db)
	require.NoError(t, err)

	out, err := runCLI(t, "dump", "graphs", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "overworld\tDiGraph")

	_, err = runCLI(t, "dump", "no_such_table", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDeltaCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "world.db")
	_, err := runCLI(t, "seed", writeSeedFile(t, dir), "--db", db)
	require.NoError(t, err)

	eng, err := engine.New(engine.Options{Path: db})
	require.NoError(t, err)
	eng.NextTurn()
	require.NoError(t, eng.SetNodeStat("overworld", "alice", "hp", value.Int(3)))
	require.NoError(t, eng.Close(context.Background()))

	out, err := runCLI(t, "delta", "overworld", "--db", db, "--from-turn", "0", "--to-turn", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "hp")
	assert.Contains(t, out, "~")

	_, err = runCLI(t, "delta", "no-such-graph", "--db", db, "--from-turn", "0", "--to-turn", "1")
	assert.Error(t, err)
}
