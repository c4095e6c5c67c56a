package cache

// CleanOne implements clean_one: it finds the set of
// proxies sharing the minimum "oldest" value, re-enqueues them for
// rewriting (forwarding them to a new, later-generation offset), and then
// reclaims the old slab space those offsets lived in via
// Store.ClearBefore. It reports (false, nil) when there is nothing left
// to compact.
//
// Candidates are collected in (oldest, -height, seq) order, so ancestors
// of a tied generation are gathered before their descendants; pushing
// them onto the unwritten queue's front in that same order inverts it, so
// the queue ends up with descendants ahead of ancestors — exactly the
// order FlushOne needs, since a parent can only be encoded once every
// child it references already has a fresh offset.
func (c *Cache) CleanOne() (bool, error) {
	c.mu.Lock()
	min, ok := c.oldestIdx.Min()
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	target := min.oldest

	var candidates []*Proxy
	c.oldestIdx.Ascend(func(p *Proxy) bool {
		if p.oldest != target {
			return false
		}
		candidates = append(candidates, p)
		return true
	})
	c.mu.Unlock()

	for _, p := range candidates {
		if err := c.Pin(p); err != nil {
			c.unpinAll(candidates[:indexOf(candidates, p)])
			return false, err
		}
	}

	c.mu.Lock()
	if !c.validatePrefixLocked(candidates, target) {
		c.mu.Unlock()
		c.unpinAll(candidates)
		return false, nil
	}

	for _, p := range candidates {
		if p.hasOffset {
			delete(c.byOffset, p.offset)
		}
		p.hasOffset = false
		p.oldest = infOldest
		p.state = StateUnwritten
		p.unwrittenElem = c.unwritten.PushFront(p)
		if p.inOldestIndex {
			c.oldestIdx.Delete(p)
			p.inOldestIndex = false
		}
	}
	c.mu.Unlock()

	c.unpinAll(candidates)

	if err := c.Flush(); err != nil {
		return false, err
	}

	if err := c.store.ClearBefore(target); err != nil {
		return false, err
	}
	c.m.compactions.Inc(1)
	return true, nil
}

// validatePrefixLocked re-walks the oldest index and confirms candidates
// still form exactly its equal-target prefix, in the same order. Pinning
// drops the lock per-proxy (to perform disk loads), so another goroutine
// could in principle have mutated the index in the meantime; this
// validation pass guards against exactly that race.
func (c *Cache) validatePrefixLocked(candidates []*Proxy, target uint64) bool {
	i := 0
	ok := true
	c.oldestIdx.Ascend(func(p *Proxy) bool {
		if p.oldest != target {
			return i == len(candidates)
		}
		if i >= len(candidates) || candidates[i] != p {
			ok = false
			return false
		}
		i++
		return true
	})
	return ok && i == len(candidates)
}

func (c *Cache) unpinAll(ps []*Proxy) {
	for _, p := range ps {
		c.Unpin(p)
	}
}

func indexOf(ps []*Proxy, target *Proxy) int {
	for i, p := range ps {
		if p == target {
			return i
		}
	}
	return len(ps)
}
