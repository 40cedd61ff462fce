package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "josh",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Filter result lookups by tier and outcome.",
	}, []string{"tier", "result"})

	insertTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "josh",
		Subsystem: "cache",
		Name:      "inserts_total",
		Help:      "Filter results inserted, by whether they were persisted.",
	}, []string{"persisted"})

	shardFlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "josh",
		Subsystem: "cache",
		Name:      "shard_flushes_total",
		Help:      "Flushes of buffered shard writes by outcome.",
	}, []string{"result"})
)
