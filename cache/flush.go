package cache

import (
	"fmt"

	"github.com/aggregatedb/abtree/internal/assert"
)

// FlushOne writes the oldest unwritten proxy to the slab store, if any.
// It reports (false, nil) when the unwritten queue is empty. Only one
// writer is in flight at a time (the "only one writer" rule); concurrent
// callers serialize on writeCond.
func (c *Cache) FlushOne() (bool, error) {
	c.mu.Lock()
	for c.inWrite {
		c.writeCond.Wait()
	}
	front := c.unwritten.Front()
	if front == nil {
		c.mu.Unlock()
		return false, nil
	}
	p := front.Value.(*Proxy)
	c.unwritten.Remove(front)
	p.unwrittenElem = nil
	p.state = StateWriting
	c.inWrite = true

	node := p.node
	childOldest := infOldest
	for _, child := range c.codec.ChildProxies(node) {
		assert.That(child.hasOffset, "flushing a parent whose child has no offset yet",
			"child_height", child.height)
		if child.oldest < childOldest {
			childOldest = child.oldest
		}
	}
	c.mu.Unlock()

	payload, encErr := c.codec.Encode(node)
	var off uint64
	var err error
	if encErr != nil {
		err = fmt.Errorf("cache: encoding node: %w", encErr)
	} else {
		off, err = c.store.WriteNode(payload)
	}

	c.mu.Lock()
	c.inWrite = false
	c.writeCond.Broadcast()
	if err != nil {
		// Leave the proxy's content untouched and put it back at the head
		// of the queue so a later flush retries it first.
		p.state = StateUnwritten
		p.unwrittenElem = c.unwritten.PushFront(p)
		c.m.flushFails.Inc(1)
		c.mu.Unlock()
		return false, err
	}

	c.cleans.Set(offsetKey(off), payload)
	p.offset = off
	p.hasOffset = true
	if off < childOldest {
		p.oldest = off
	} else {
		p.oldest = childOldest
	}
	p.state = StateCached
	c.byOffset[off] = p
	if p.inOldestIndex {
		c.oldestIdx.Delete(p)
	}
	c.oldestIdx.ReplaceOrInsert(p)
	p.inOldestIndex = true
	if p.pinCount == 0 {
		p.lruElem = c.lru.PushBack(p)
		c.reduceLRUWhileOverCapacityLocked()
	}
	c.m.flushes.Inc(1)
	c.mu.Unlock()
	return true, nil
}

// Flush drains the unwritten queue entirely. store.Store.Sync calls this
// at every tree's commit boundary so that the tree's root proxy (and
// everything it transitively references) is durable before the root
// record is written.
func (c *Cache) Flush() error {
	for {
		flushed, err := c.FlushOne()
		if err != nil {
			return err
		}
		if !flushed {
			return nil
		}
	}
}
