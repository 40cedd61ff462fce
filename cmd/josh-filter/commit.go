package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josh-project/josh-sub001"
	"github.com/josh-project/josh-sub001/cmd"
	"github.com/josh-project/josh-sub001/filter"
)

type commitCmd struct {
	*cobra.Command
}

func newCommitCmd(root *rootCmd) *commitCmd {
	r := &commitCmd{
		Command: &cobra.Command{
			Use:   "commit <filter> <rev>",
			Short: "print the filtered commit of a revision",
			Args:  cobra.ExactArgs(2),
		},
	}

	r.Run = func(c *cobra.Command, args []string) {
		f := cmd.GetOrPanic(filter.Parse(args[0]))

		e := root.openEnv()
		defer e.close()

		h := cmd.GetOrPanic(josh.FilterCommit(e.ctx, e.tx, f, e.resolve(args[1])))
		fmt.Fprintln(c.OutOrStdout(), h)
	}

	return r
}
