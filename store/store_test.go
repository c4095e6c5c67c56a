package store

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/aggregatedb/abtree/policy"
	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/require"
)

type sumPolicy struct{ min, max int }

var _ policy.Policy = sumPolicy{}

func u64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func fromU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (p sumPolicy) Less(a, b []byte) bool    { return u64(a) < u64(b) }
func (p sumPolicy) Agg(acc, v []byte) []byte { return fromU64(u64(acc) + u64(v)) }
func (p sumPolicy) Zero() []byte             { return fromU64(0) }

func (p sumPolicy) SerializeKV(out io.Writer, k, v []byte) error {
	if _, err := out.Write(varint.ToUvarint(u64(k))); err != nil {
		return err
	}
	_, err := out.Write(varint.ToUvarint(u64(v)))
	return err
}

func (p sumPolicy) DeserializeKV(in io.Reader) (k, v []byte, err error) {
	br, ok := in.(io.ByteReader)
	if !ok {
		return nil, nil, io.ErrUnexpectedEOF
	}
	kv, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, nil, err
	}
	vv, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, nil, err
	}
	return fromU64(kv), fromU64(vv), nil
}

func (p sumPolicy) MinSize() int { return p.min }
func (p sumPolicy) MaxSize() int { return p.max }

func newSumPolicy() sumPolicy { return sumPolicy{min: 2, max: 4} }

func TestAttachCreatesEmptyTree(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, true, newSumPolicy(), Options{})
	require.NoError(t, err)
	defer s.Close()

	tr := s.Attach("accounts", newSumPolicy())
	require.True(t, tr.Empty())
}

func TestMarkSyncReopenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := newSumPolicy()

	s, err := Open(dir, true, p, Options{})
	require.NoError(t, err)

	accounts := s.Attach("accounts", p)
	storageTree := s.Attach("storage", p)
	for k := uint64(1); k <= 20; k++ {
		require.NoError(t, accounts.Set(fromU64(k), fromU64(k*10)))
	}
	for k := uint64(1); k <= 5; k++ {
		require.NoError(t, storageTree.Set(fromU64(k), fromU64(k*100)))
	}

	s.Mark()
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	s2, err := Open(dir, false, p, Options{})
	require.NoError(t, err)
	defer s2.Close()

	reAccounts := s2.Attach("accounts", p)
	require.Equal(t, 20, reAccounts.Len())
	v, ok, err := reAccounts.Get(fromU64(10))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), u64(v))

	reStorage := s2.Attach("storage", p)
	require.Equal(t, 5, reStorage.Len())

	require.NoError(t, s2.VerifyAll())
}

func TestRevertRestoresPreMarkState(t *testing.T) {
	dir := t.TempDir()
	p := newSumPolicy()
	s, err := Open(dir, true, p, Options{})
	require.NoError(t, err)
	defer s.Close()

	tr := s.Attach("accounts", p)
	require.NoError(t, tr.Set(fromU64(1), fromU64(10)))
	s.Mark()

	require.NoError(t, tr.Set(fromU64(2), fromU64(20)))
	require.Equal(t, 2, tr.Len())

	require.NoError(t, s.Revert())
	require.Equal(t, 1, tr.Len())
	_, ok, err := tr.Get(fromU64(2))
	require.NoError(t, err)
	require.False(t, ok)
}

// TestRevertReleasesDiscardedSubtree exercises Revert against a tree
// deep enough to have shared interior structure (many splits), checking
// that the post-revert cache ends up back at (approximately) its
// pre-mutation residency rather than retaining the discarded mutated
// subtree. It also confirms the restored tree's contents are intact, not
// just that Revert didn't crash.
func TestRevertReleasesDiscardedSubtree(t *testing.T) {
	dir := t.TempDir()
	p := newSumPolicy()
	s, err := Open(dir, true, p, Options{})
	require.NoError(t, err)
	defer s.Close()

	tr := s.Attach("accounts", p)
	for k := uint64(0); k < 500; k++ {
		require.NoError(t, tr.Set(fromU64(k), fromU64(k)))
	}
	s.Mark()
	markedStats := s.Cache().Stats()

	for k := uint64(0); k < 500; k++ {
		require.NoError(t, tr.Set(fromU64(k), fromU64(k*1000)))
	}
	require.NoError(t, s.Revert())

	require.Equal(t, 500, tr.Len())
	for k := uint64(0); k < 500; k++ {
		v, ok, err := tr.Get(fromU64(k))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, k, u64(v))
	}
	require.NoError(t, tr.CheckInvariants())

	postRevertStats := s.Cache().Stats()
	require.LessOrEqual(t, postRevertStats.Resident, markedStats.Resident+1)
}

func TestRevertWithoutMarkErrors(t *testing.T) {
	dir := t.TempDir()
	p := newSumPolicy()
	s, err := Open(dir, true, p, Options{})
	require.NoError(t, err)
	defer s.Close()

	require.ErrorIs(t, s.Revert(), ErrNoMark)
}

func TestUnattachedRecoveredTreeSurvivesSync(t *testing.T) {
	dir := t.TempDir()
	p := newSumPolicy()

	s, err := Open(dir, true, p, Options{})
	require.NoError(t, err)
	a := s.Attach("a", p)
	b := s.Attach("b", p)
	require.NoError(t, a.Set(fromU64(1), fromU64(1)))
	require.NoError(t, b.Set(fromU64(2), fromU64(2)))
	s.Mark()
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	// Reopen and only attach "a"; "b" is left untouched. A second
	// mark+sync cycle must not drop "b" from the root record.
	s2, err := Open(dir, false, p, Options{})
	require.NoError(t, err)
	_ = s2.Attach("a", p)
	s2.Mark()
	require.NoError(t, s2.Sync())
	require.NoError(t, s2.Close())

	s3, err := Open(dir, false, p, Options{})
	require.NoError(t, err)
	defer s3.Close()
	bReopened := s3.Attach("b", p)
	require.Equal(t, 1, bReopened.Len())
}
