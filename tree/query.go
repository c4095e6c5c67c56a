package tree

// Begin returns an iterator positioned at the smallest key.
func (t *Tree) Begin() (*Iterator, error) {
	t.mu.Lock()
	it := newIterator(t.cache, t.policy, t.root, t.height)
	t.mu.Unlock()
	return it, it.SetBegin()
}

// End returns an iterator positioned past the last entry.
func (t *Tree) End() *Iterator {
	t.mu.Lock()
	it := newIterator(t.cache, t.policy, t.root, t.height)
	t.mu.Unlock()
	return it
}

// Find returns an iterator positioned at key k, or at End if absent.
func (t *Tree) Find(k []byte) (*Iterator, error) {
	t.mu.Lock()
	it := newIterator(t.cache, t.policy, t.root, t.height)
	t.mu.Unlock()
	return it, it.Find(k)
}

// LowerBound returns an iterator positioned at the first entry whose key
// is >= k.
func (t *Tree) LowerBound(k []byte) (*Iterator, error) {
	t.mu.Lock()
	it := newIterator(t.cache, t.policy, t.root, t.height)
	t.mu.Unlock()
	return it, it.LowerBound(k)
}

// UpperBound returns an iterator positioned at the first entry whose key
// is > k.
func (t *Tree) UpperBound(k []byte) (*Iterator, error) {
	t.mu.Lock()
	it := newIterator(t.cache, t.policy, t.root, t.height)
	t.mu.Unlock()
	return it, it.UpperBound(k)
}

// Total folds every entry's value in [lo, hi) through the tree's
// aggregate, via AccumulateUntil with a predicate that never stops early.
// lo is consumed (left positioned at hi); callers that still need lo
// afterward should operate on a fresh iterator.
func (t *Tree) Total(lo *Iterator, hi *Iterator) ([]byte, error) {
	return lo.AccumulateUntil(t.policy.Zero(), hi, t.policy, func([]byte) bool { return false })
}

// AccumulateUntil is Tree's convenience wrapper around Iterator's method
// of the same name, for callers that would rather not reach into the
// iterator directly.
func (t *Tree) AccumulateUntil(cur *Iterator, total []byte, end *Iterator, pred func(acc []byte) bool) ([]byte, error) {
	return cur.AccumulateUntil(total, end, t.policy, pred)
}
