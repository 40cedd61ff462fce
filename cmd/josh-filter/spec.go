package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josh-project/josh-sub001/cmd"
	"github.com/josh-project/josh-sub001/filter"
)

type specCmd struct {
	*cobra.Command

	pretty   bool
	optimize bool
	invert   bool
}

func newSpecCmd() *specCmd {
	r := &specCmd{
		Command: &cobra.Command{
			Use:   "spec <filter>",
			Short: "parse a filter and print it in canonical form",
			Args:  cobra.ExactArgs(1),
		},
	}

	r.Flags().BoolVarP(&r.pretty, "pretty", "p", r.pretty, "print the filter over multiple lines")
	r.Flags().BoolVarP(&r.optimize, "optimize", "o", r.optimize, "optimize the filter first")
	r.Flags().BoolVar(&r.invert, "invert", r.invert, "print the inverse of the filter")

	r.Run = func(c *cobra.Command, args []string) {
		f := cmd.GetOrPanic(filter.Parse(args[0]))
		if r.optimize {
			f = filter.Optimize(f)
		}
		if r.invert {
			f = cmd.GetOrPanic(filter.Invert(f))
		}
		if r.pretty {
			fmt.Fprint(c.OutOrStdout(), filter.Pretty(f, 4))
			return
		}
		fmt.Fprintln(c.OutOrStdout(), filter.Spec(f))
	}

	return r
}
