package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/cobra"

	"github.com/josh-project/josh-sub001"
	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/cmd"
	"github.com/josh-project/josh-sub001/filter"
)

func main() {
	newRootCmd().Execute()
}

type rootCmd struct {
	*cobra.Command

	configPath string
	repo       string
}

func newRootCmd() *rootCmd {
	c := &rootCmd{
		Command: &cobra.Command{
			Use:   "josh-filter",
			Short: "filter git history into projections and map changes back",
			Args:  cobra.NoArgs,
		},
	}

	c.PersistentFlags().StringVarP(&c.configPath, "config", "c", c.configPath, "path to the configuration")
	c.PersistentFlags().StringVarP(&c.repo, "repo", "r", c.repo, "path to the repository, overrides the configuration")

	c.AddCommand(
		newSpecCmd().Command,
		newApplyCmd(c).Command,
		newCommitCmd(c).Command,
		newUnapplyCmd(c).Command,
		newMissingCmd(c).Command,
	)

	return c
}

// env is what the commands working on a repository need.
type env struct {
	ctx context.Context
	tx  *cache.Transaction

	close func()
}

func (c *rootCmd) loadConfig() *Config {
	config := defaultConfig()
	if c.configPath != "" {
		config = cmd.GetOrPanic(ParseConfigYAML(cmd.GetOrPanic(os.ReadFile(c.configPath))))
	}
	if c.repo != "" {
		config.Repo = c.repo
	}
	cmd.OrPanic(config.Validate())
	return config
}

func (c *rootCmd) openEnv() *env {
	config := c.loadConfig()

	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.level()}))
	josh.SetLogger(l)
	cache.SetLogger(l)
	filter.SetLogger(l)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	shutdown := func(context.Context) error { return nil }
	if config.Trace {
		shutdown = cmd.GetOrPanic(setupTracing())
	}

	tx := cmd.GetOrPanic(cache.Open(config.Repo, config.RefPrefix, config.cacheOptions()...))

	return &env{
		ctx: ctx,
		tx:  tx,
		close: func() {
			if err := tx.Close(); err != nil {
				l.Warn("failed to close cache", "err", err)
			}
			if err := shutdown(context.Background()); err != nil {
				l.Warn("failed to flush traces", "err", err)
			}
			cancel()
		},
	}
}

// resolve accepts a full object id or anything git rev-parse would resolve to a commit.
func (e *env) resolve(rev string) plumbing.Hash {
	if h, err := josh.DecodeHashHex(rev); err == nil {
		return h
	}
	h, err := e.tx.Repo().ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		cmd.OrPanic(fmt.Errorf("cannot resolve %s: %w", rev, err))
	}
	return *h
}
