package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
)

func TestAt(t *testing.T) {
	got := At(3, 7)
	assert.Equal(t, chrono.Trunk, got.Branch)
	assert.Equal(t, int64(3), got.Turn)
	assert.Equal(t, int64(7), got.Tick)
}

func TestTickSeq(t *testing.T) {
	var s TickSeq
	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())
	assert.Equal(t, int64(2), s.Current())
	s.Reset()
	assert.Equal(t, int64(1), s.Next())
}
