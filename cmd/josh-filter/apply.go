package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josh-project/josh-sub001"
	"github.com/josh-project/josh-sub001/cmd"
	"github.com/josh-project/josh-sub001/filter"
)

type applyCmd struct {
	*cobra.Command

	prefix string
	dryrun bool
}

func newApplyCmd(root *rootCmd) *applyCmd {
	r := &applyCmd{
		Command: &cobra.Command{
			Use:   "apply <filter>",
			Short: "filter refs and write them under the filtered ref prefix",
			Args:  cobra.ExactArgs(1),
		},
		prefix: "refs/heads/",
	}

	r.Flags().StringVar(&r.prefix, "refs", r.prefix, "filter the refs with this prefix")
	r.Flags().BoolVarP(&r.dryrun, "dryrun", "n", r.dryrun, "print the filtered refs without updating them")

	r.Run = func(c *cobra.Command, args []string) {
		f := cmd.GetOrPanic(filter.Parse(args[0]))

		e := root.openEnv()
		defer e.close()

		refs := cmd.GetOrPanic(josh.ListRefs(e.tx, r.prefix))
		updated, errs := josh.FilterRefs(e.ctx, e.tx, f, refs)
		for _, err := range errs {
			fmt.Fprintln(c.ErrOrStderr(), err)
		}
		for _, ref := range updated {
			fmt.Fprintf(c.OutOrStdout(), "%s %s%s\n", ref.Hash, e.tx.RefPrefix(), ref.Name)
		}
		if !r.dryrun {
			cmd.OrPanic(josh.UpdateRefs(e.ctx, e.tx, updated))
		}
	}

	return r
}
