// Command abtreectl is a small inspection and maintenance CLI for an
// aggregate B-tree store: opening a directory, dumping a named tree's
// entries, running compaction until it makes no further progress, and
// verifying every attached
// tree's structural invariants. Built on github.com/urfave/cli/v2, the
// same framework cmd/geth itself is built on.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	dirFlag = &cli.StringFlag{
		Name:     "dir",
		Usage:    "path to the store directory",
		Required: true,
	}
	treeFlag = &cli.StringFlag{
		Name:  "tree",
		Usage: "named tree to operate on",
	}
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "maximum number of entries to dump (0 = unlimited)",
		Value: 100,
	}
)

func main() {
	app := &cli.App{
		Name:  "abtreectl",
		Usage: "inspect and maintain an aggregate B-tree store",
		Commands: []*cli.Command{
			statCmd,
			dumpCmd,
			verifyCmd,
			compactCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "abtreectl:", err)
		os.Exit(1)
	}
}
