package gateway

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesSchema(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	for table := range Tables {
		n, err := s.Count(ctx, table)
		require.NoError(t, err, table)
		assert.Zero(t, n, table)
	}
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.InsertMany(context.Background(), "global", [][]any{{"k", "v"}}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(context.Background(), "global")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInsertManyAndDump(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	rows := [][]any{
		{"g", "hp", "trunk", int64(2), int64(1), `10`, int64(0), ""},
		{"g", "hp", "trunk", int64(1), int64(1), `5`, int64(0), ""},
	}
	require.NoError(t, s.InsertMany(ctx, "graph_val", rows))

	got, err := s.Dump(ctx, "graph_val")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Canonical dump order is logical time, not insertion order.
	assert.Equal(t, int64(1), got[0][3])
	assert.Equal(t, int64(2), got[1][3])
	assert.Equal(t, "5", got[0][5])
}

func TestInsertManyEmptyBatch(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.InsertMany(context.Background(), "global", nil))
}

func TestInsertManyUnknownTable(t *testing.T) {
	s := openTemp(t)
	err := s.InsertMany(context.Background(), "nope", [][]any{{"x"}})
	assert.ErrorIs(t, err, ErrUnknownTable)
	_, err = s.Dump(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTable)
	_, err = s.Count(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestInsertManyArityMismatch(t *testing.T) {
	s := openTemp(t)
	err := s.InsertMany(context.Background(), "global", [][]any{{"only-key"}})
	assert.Error(t, err)
}

func TestInsertManyDuplicateKeyIsIntegrity(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.InsertMany(ctx, "plans", [][]any{{"p1", "trunk", int64(0), int64(1)}}))
	err := s.InsertMany(ctx, "plans", [][]any{{"p1", "trunk", int64(2), int64(1)}})
	assert.ErrorIs(t, err, ErrIntegrity)

	// The failed batch applied nothing.
	rows, err := s.Dump(ctx, "plans")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0][2])
}

func TestDuplicateBatchRollsBackWhole(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.InsertMany(ctx, "plans", [][]any{{"p1", "trunk", int64(0), int64(0)}}))
	err := s.InsertMany(ctx, "plans", [][]any{
		{"p2", "trunk", int64(0), int64(0)},
		{"p1", "trunk", int64(0), int64(0)},
	})
	assert.ErrorIs(t, err, ErrIntegrity)
	n, err := s.Count(ctx, "plans")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBookkeepingTablesUpsert(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	// Cursor globals and turn markers advance in place across flushes.
	require.NoError(t, s.InsertMany(ctx, "global", [][]any{{"turn", "1"}}))
	require.NoError(t, s.InsertMany(ctx, "global", [][]any{{"turn", "2"}}))
	rows, err := s.Dump(ctx, "global")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0][1])

	require.NoError(t, s.InsertMany(ctx, "turns", [][]any{{"trunk", int64(0), int64(3), int64(3)}}))
	require.NoError(t, s.InsertMany(ctx, "turns", [][]any{{"trunk", int64(0), int64(7), int64(9)}}))
	rows, err = s.Dump(ctx, "turns")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0][2])
}

func TestPlanTicksVoidMarkerCoexists(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	// The same plan step appears twice: once as written, once as a void
	// marker. voided is part of the key so this is not a conflict.
	require.NoError(t, s.InsertMany(ctx, "plan_ticks", [][]any{
		{"p1", "trunk", int64(3), int64(1), int64(0)},
	}))
	require.NoError(t, s.InsertMany(ctx, "plan_ticks", [][]any{
		{"p1", "trunk", int64(3), int64(1), int64(1)},
	}))
	n, err := s.Count(ctx, "plan_ticks")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
