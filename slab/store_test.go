package slab

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenMissingDirNoCreate(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir+"/does-not-exist", false, Options{})
	require.ErrorIs(t, err, ErrDirMissing)
}

func TestEmptyStoreHasNoRoot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, Options{})
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.RootOffset()
	require.False(t, ok)
}

func TestWriteReadNodeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, Options{})
	require.NoError(t, err)
	defer s.Close()

	payload := []byte("hello node")
	off, err := s.WriteNode(payload)
	require.NoError(t, err)

	got, err := s.ReadAt(off, TagNode)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadAtWrongTag(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, Options{})
	require.NoError(t, err)
	defer s.Close()

	off, err := s.WriteNode([]byte("n"))
	require.NoError(t, err)

	_, err = s.ReadAt(off, TagRoot)
	require.ErrorIs(t, err, ErrTagMismatch)
}

func TestRootRecoveryAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, Options{})
	require.NoError(t, err)

	off, err := s.WriteRoot([]byte("root-1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(dir, false, Options{})
	require.NoError(t, err)
	defer s2.Close()

	got, ok := s2.RootOffset()
	require.True(t, ok)
	require.Equal(t, off, got)

	payload, err := s2.ReadAt(got, TagRoot)
	require.NoError(t, err)
	require.Equal(t, []byte("root-1"), payload)
}

func TestRootRecoveryPicksLastAcrossSlabs(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, Options{GoalSlabSize: 64})
	require.NoError(t, err)

	_, err = s.WriteRoot([]byte("r1"))
	require.NoError(t, err)
	// Pad past the goal size so the next write rolls to a new slab.
	for i := 0; i < 8; i++ {
		_, err = s.WriteNode([]byte("0123456789abcdef"))
		require.NoError(t, err)
	}
	lastOff, err := s.WriteRoot([]byte("r2"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.GreaterOrEqual(t, s.SlabCount(), 1)

	s2, err := Open(dir, false, Options{GoalSlabSize: 64})
	require.NoError(t, err)
	defer s2.Close()

	got, ok := s2.RootOffset()
	require.True(t, ok)
	require.Equal(t, lastOff, got)
}

func TestClearBeforeKeepsCurrentSlab(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, Options{GoalSlabSize: 32})
	require.NoError(t, err)
	defer s.Close()

	var offs []uint64
	for i := 0; i < 16; i++ {
		off, err := s.WriteNode([]byte("0123456789abcdef"))
		require.NoError(t, err)
		offs = append(offs, off)
	}
	before := s.SlabCount()
	require.Greater(t, before, 1)

	last := offs[len(offs)-1]
	require.NoError(t, s.ClearBefore(last))
	after := s.SlabCount()
	require.LessOrEqual(t, after, before)

	// The slab holding the most recent write must survive.
	_, err = s.ReadAt(last, TagNode)
	require.NoError(t, err)
}

func TestOpenLockedTwiceFails(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(dir, false, Options{})
	require.ErrorIs(t, err, ErrLocked)
}

func TestOpenOnNonDirFails(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/afile"
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	_, err := Open(path, false, Options{})
	require.Error(t, err)
}
