package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Subsystem: "cache",
		Name:      "reads_total",
		Help:      "Cache reads by result (hit or miss).",
	}, []string{"result"})

	writesVetoed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "companion",
		Subsystem: "cache",
		Name:      "writes_vetoed_total",
		Help:      "Writes rejected by the logout guard.",
	})

	writeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "companion",
		Subsystem: "cache",
		Name:      "write_failures_total",
		Help:      "Writes dropped because the store rejected them.",
	})
)
