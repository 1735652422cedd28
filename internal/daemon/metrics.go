package daemon

import "github.com/prometheus/client_golang/prometheus"

// metrics are lightweight counters on the daemon host, registered with the
// given Prometheus registerer. Nothing in this package serves them over
// HTTP or the control socket. The daemon's sync loop increments syncCycles
// and syncErrors; syncRetries and blobsGCed are registered but nothing in
// this module increments them, so they stay at zero.
type metrics struct {
	syncCycles  prometheus.Counter
	syncErrors  prometheus.Counter
	syncRetries prometheus.Counter
	blobsGCed   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		syncCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_daemon_sync_cycles_total",
			Help: "Total number of fan-out sync cycles run across all stashes.",
		}),
		syncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_daemon_sync_errors_total",
			Help: "Total number of sync cycles that returned an aggregated error.",
		}),
		syncRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_daemon_sync_retries_total",
			Help: "Total number of retried transport operations.",
		}),
		blobsGCed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_daemon_blobs_gc_total",
			Help: "Total number of blobs removed by garbage collection.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.syncCycles, m.syncErrors, m.syncRetries, m.blobsGCed)
	}

	return m
}
