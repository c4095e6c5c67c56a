package tree

import (
	"context"

	gometrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

// Prefetcher warms the cache for a batch of keys ahead of the operations
// that will actually need them, the same role a triePrefetcher plays for
// account/storage trie loads: issue the reads concurrently, off the hot
// path, so that by the time real callers reach those keys the nodes are
// already resident.
//
// Unlike a long-lived background worker pool fed by a channel, this
// Prefetcher is a one-shot batch: PrefetchKeys blocks until every key in
// the batch has been walked (or the context is canceled), using
// golang.org/x/sync/errgroup to bound concurrency instead of a
// hand-rolled goroutine pool.
type Prefetcher struct {
	tree        *Tree
	concurrency int

	loadMeter  gometrics.Meter
	errorMeter gometrics.Meter
}

// NewPrefetcher returns a Prefetcher over t. concurrency <= 0 selects a
// reasonable default.
func NewPrefetcher(t *Tree, concurrency int) *Prefetcher {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Prefetcher{
		tree:        t,
		concurrency: concurrency,
		loadMeter:   gometrics.NewMeter(),
		errorMeter:  gometrics.NewMeter(),
	}
}

// PrefetchKeys walks every key in keys, populating the cache with every
// node on its path. A Get failure for one key does not abort the others;
// the first error encountered (if any) is returned after every key has
// been attempted.
func (pf *Prefetcher) PrefetchKeys(ctx context.Context, keys [][]byte) error {
	g := new(errgroup.Group)
	g.SetLimit(pf.concurrency)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if _, _, err := pf.tree.Get(k); err != nil {
				pf.errorMeter.Mark(1)
				return err
			}
			pf.loadMeter.Mark(1)
			return nil
		})
	}
	return g.Wait()
}
