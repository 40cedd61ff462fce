package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josh-project/josh-sub001"
	"github.com/josh-project/josh-sub001/cmd"
	"github.com/josh-project/josh-sub001/filter"
)

type missingCmd struct {
	*cobra.Command

	rev  string
	fill bool
}

func newMissingCmd(root *rootCmd) *missingCmd {
	r := &missingCmd{
		Command: &cobra.Command{
			Use:   "missing <filter>...",
			Short: "list filters without a cached result for a revision",
			Args:  cobra.MinimumNArgs(1),
		},
		rev: "HEAD",
	}

	r.Flags().StringVar(&r.rev, "rev", r.rev, "revision to look up")
	r.Flags().BoolVar(&r.fill, "fill", r.fill, "filter the missing ones")

	r.Run = func(c *cobra.Command, args []string) {
		filters := make([]filter.Filter, 0, len(args))
		for _, arg := range args {
			filters = append(filters, cmd.GetOrPanic(filter.Parse(arg)))
		}

		e := root.openEnv()
		defer e.close()

		h := e.resolve(r.rev)
		for _, f := range filters {
			e.tx.Get(f, h)
		}

		for _, m := range e.tx.GetMissing() {
			fmt.Fprintln(c.OutOrStdout(), filter.Spec(m.Filter))
			if r.fill {
				cmd.GetOrPanic(josh.Walk(e.ctx, e.tx, m.Filter, m.From))
			}
		}
	}

	return r
}
