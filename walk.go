package josh

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/josh-project/josh-sub001/cache"
	"github.com/josh-project/josh-sub001/filter"
)

var tracer = otel.Tracer("github.com/josh-project/josh-sub001")

var walkCommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "josh",
	Name:      "walk_commits_total",
	Help:      "Commits filtered by history walks.",
}, []string{"depth"})

// Walk filters target and every ancestor that has no known result yet, and
// returns the filtered counterpart of target.
//
// Commits are processed parents first, in the order of [GetDFSPath], so every
// commit finds the results of its parents in the transaction.
// The result for target itself is always persisted.
func Walk(ctx context.Context, tx *cache.Transaction, f filter.Filter, target plumbing.Hash) (plumbing.Hash, error) {
	if r, found := tx.Get(f, target); found {
		return r, nil
	}

	depth := tx.EnterWalk()
	defer tx.LeaveWalk()

	ctx, span := tracer.Start(ctx, "josh.Walk", trace.WithAttributes(
		attribute.String("filter", filter.Spec(f)),
		attribute.String("target", target.String()),
		attribute.Int("depth", depth),
	))
	defer span.End()

	r, n, err := walk(ctx, tx, f, target, depth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "walk failed")
		return plumbing.ZeroHash, err
	}
	span.SetAttributes(attribute.Int("commits", n), attribute.String("result", r.String()))

	return r, nil
}

func walk(ctx context.Context, tx *cache.Transaction, f filter.Filter, target plumbing.Hash, depth int) (plumbing.Hash, int, error) {
	head, err := commitObject(tx, target)
	if err != nil {
		return plumbing.ZeroHash, 0, err
	}

	start := time.Now()
	path, err := GetDFSPath(ctx, head, func(h plumbing.Hash) bool {
		_, found := tx.Lookup(f, h)
		return found
	})
	if err != nil {
		return plumbing.ZeroHash, 0, fmt.Errorf("failed to list history of %s: %w", target, err)
	}

	counter := walkCommitsTotal.WithLabelValues(fmt.Sprint(min(depth, 5)))
	n := len(path)
	for i, c := range path {
		select {
		case <-ctx.Done():
			return plumbing.ZeroHash, i, ctx.Err()
		default:
		}

		r, err := applyToCommit(ctx, tx, f, c)
		if err != nil {
			return plumbing.ZeroHash, i, errorf(err, "failed to filter commit %d of %d (%s): %w", i, n, c.Hash, err)
		}
		tx.Insert(f, c.Hash, r, c.Hash == target)
		counter.Inc()

		logger.Debug("filtered commit", "id", i, "total", n, "hash", c.Hash, "result", r)
	}

	r, _ := tx.Lookup(f, target)
	if n > 0 {
		logger.Info("walked history", "filter", filter.Spec(f), "target", target, "result", r, "commits", n, "depth", depth, "took", time.Since(start))
	}

	return r, n, nil
}

// FilterCommit returns the filtered counterpart of the commit oid, or a zero
// hash if the filtered history has none.
func FilterCommit(ctx context.Context, tx *cache.Transaction, f filter.Filter, oid plumbing.Hash) (plumbing.Hash, error) {
	if _, err := object.GetCommit(tx.Repo().Storer, oid); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s: %w", ErrObjectNotFound, oid, err)
	}

	return Walk(ctx, tx, f, oid)
}

// RemoveSignatures rewrites the history of head with all gpg signatures
// stripped and returns the new head.
func RemoveSignatures(ctx context.Context, tx *cache.Transaction, head plumbing.Hash) (plumbing.Hash, error) {
	return FilterCommit(ctx, tx, filter.New(filter.UnsignOp{}), head)
}
