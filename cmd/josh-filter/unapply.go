package main

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/cobra"

	"github.com/josh-project/josh-sub001"
	"github.com/josh-project/josh-sub001/cmd"
	"github.com/josh-project/josh-sub001/filter"
)

type unapplyCmd struct {
	*cobra.Command

	original string
	old      string
	reparent string
	amends   int

	opts josh.UnapplyOptions
}

func newUnapplyCmd(root *rootCmd) *unapplyCmd {
	r := &unapplyCmd{
		Command: &cobra.Command{
			Use:   "unapply <filter> <new>",
			Short: "map a pushed filtered commit back onto the original history",
			Args:  cobra.ExactArgs(2),
		},
	}

	r.Flags().StringVarP(&r.original, "original", "o", r.original, "original commit the push is based on")
	r.MarkFlagRequired("original")
	r.Flags().StringVar(&r.old, "old", r.old, "filtered commit the push started from, the filtered original if empty")
	r.Flags().StringVar(&r.reparent, "reparent", r.reparent, "parent for pushed commits without parents")
	r.Flags().IntVar(&r.amends, "amends", r.amends, "look this many commits back for changes amended by the push")
	r.Flags().BoolVarP(&r.opts.Force, "force", "f", r.opts.Force, "allow pushes that are not fast forward")
	r.Flags().BoolVar(&r.opts.KeepOrphans, "keep-orphans", r.opts.KeepOrphans, "keep merges of unrelated histories")
	r.Flags().BoolVar(&r.opts.Verify, "verify", r.opts.Verify, "check that every reconstructed tree filters back to the pushed one")

	r.Run = func(c *cobra.Command, args []string) {
		f := cmd.GetOrPanic(filter.Parse(args[0]))

		e := root.openEnv()
		defer e.close()

		original := e.resolve(r.original)
		var old plumbing.Hash
		if r.old != "" {
			old = e.resolve(r.old)
		} else {
			old = cmd.GetOrPanic(josh.FilterCommit(e.ctx, e.tx, f, original))
		}
		if r.reparent != "" {
			r.opts.Reparent = e.resolve(r.reparent)
		}
		if r.amends > 0 {
			r.opts.ChangeAmends = cmd.GetOrPanic(josh.ChangeAmends(e.ctx, e.tx, original, r.amends))
		}

		h := cmd.GetOrPanic(josh.UnapplyFilter(e.ctx, e.tx, f, original, old, e.resolve(args[1]), r.opts))
		fmt.Fprintln(c.OutOrStdout(), h)
	}

	return r
}
