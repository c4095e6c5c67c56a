package main

import (
	"fmt"

	"github.com/aggregatedb/abtree/store"
	"github.com/urfave/cli/v2"
)

var (
	minSizeFlag = &cli.IntFlag{Name: "min-size", Value: 2, Usage: "the store's configured minimum node fanout"}
	maxSizeFlag = &cli.IntFlag{Name: "max-size", Value: 4, Usage: "the store's configured maximum node fanout"}
)

func openStore(c *cli.Context) (*store.Store, rawPolicy, error) {
	p := rawPolicy{min: c.Int(minSizeFlag.Name), max: c.Int(maxSizeFlag.Name)}
	s, err := store.Open(c.String(dirFlag.Name), false, p, store.Options{})
	return s, p, err
}

var statCmd = &cli.Command{
	Name:  "stat",
	Usage: "print cache and slab statistics for a store",
	Flags: []cli.Flag{dirFlag, minSizeFlag, maxSizeFlag},
	Action: func(c *cli.Context) error {
		s, _, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		stats := s.Cache().Stats()
		metrics := s.Cache().Metrics()
		fmt.Printf("unwritten=%d lru=%d resident=%d oldest_index=%d\n",
			stats.Unwritten, stats.LRU, stats.Resident, stats.OldestLen)
		fmt.Printf("hits=%d loads=%d evictions=%d flushes=%d flush_fails=%d compactions=%d\n",
			metrics.Hits, metrics.Loads, metrics.Evictions, metrics.Flushes, metrics.FlushFails, metrics.Compactions)
		return nil
	},
}

var dumpCmd = &cli.Command{
	Name:  "dump",
	Usage: "dump a named tree's entries in key order",
	Flags: []cli.Flag{dirFlag, treeFlag, limitFlag, minSizeFlag, maxSizeFlag},
	Action: func(c *cli.Context) error {
		name := c.String(treeFlag.Name)
		if name == "" {
			return fmt.Errorf("abtreectl dump: --tree is required")
		}
		s, p, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		tr := s.Attach(name, p)
		it, err := tr.Begin()
		if err != nil {
			return err
		}
		defer it.Close()

		limit := c.Int(limitFlag.Name)
		n := 0
		for it.Valid() {
			if limit > 0 && n >= limit {
				fmt.Printf("... (%d entries, limit reached)\n", tr.Len())
				break
			}
			fmt.Printf("%x = %x\n", it.Key(), it.Value())
			n++
			if err := it.Increment(); err != nil {
				return err
			}
		}
		return nil
	},
}

var verifyCmd = &cli.Command{
	Name:  "verify",
	Usage: "check every attached tree's structural invariants",
	Flags: []cli.Flag{dirFlag, treeFlag, minSizeFlag, maxSizeFlag},
	Action: func(c *cli.Context) error {
		s, p, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		if name := c.String(treeFlag.Name); name != "" {
			tr := s.Attach(name, p)
			if err := tr.CheckInvariants(); err != nil {
				return fmt.Errorf("tree %q: %w", name, err)
			}
			fmt.Printf("tree %q: ok\n", name)
			return nil
		}
		if err := s.VerifyAll(); err != nil {
			return err
		}
		fmt.Println("all attached trees: ok")
		return nil
	},
}

var compactCmd = &cli.Command{
	Name:  "compact",
	Usage: "run clean_one compaction steps until the cache reports no further progress",
	Flags: []cli.Flag{dirFlag, minSizeFlag, maxSizeFlag},
	Action: func(c *cli.Context) error {
		s, _, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		steps := 0
		for {
			progressed, err := s.Cache().CleanOne()
			if err != nil {
				return err
			}
			if !progressed {
				break
			}
			steps++
		}
		fmt.Printf("compaction: %d step(s)\n", steps)
		return nil
	},
}
