// Package metrics exposes Prometheus counters for the mirror, the watch layer
// and the event bus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns one Prometheus registry and the collectors registered on it.
// A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	watchEvents        *prometheus.CounterVec
	resolutionMisses   *prometheus.CounterVec
	reconcilePasses    *prometheus.CounterVec
	nodesCreated       *prometheus.CounterVec
	nodesDestroyed     *prometheus.CounterVec
	mirroredNodes      *prometheus.GaugeVec
	readRetries        prometheus.Counter
	watchErrors        prometheus.Counter
	watchRestarts      prometheus.Counter
	eventsPublished    *prometheus.CounterVec
	eventsDropped      *prometheus.CounterVec
	eventSubscriptions *prometheus.GaugeVec
}

var Default = NewRegistry()

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		watchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treemirror_watch_events_total",
			Help: "Native watch events received, by kind",
		}, []string{"kind"}),
		resolutionMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treemirror_resolution_misses_total",
			Help: "Watch events that did not resolve to a mirrored node",
		}, []string{"kind"}),
		reconcilePasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treemirror_reconcile_passes_total",
			Help: "Directory reconciliation passes, by trigger",
		}, []string{"trigger"}),
		nodesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treemirror_nodes_created_total",
			Help: "Nodes added to a mirror tree",
		}, []string{"root"}),
		nodesDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treemirror_nodes_destroyed_total",
			Help: "Nodes removed from a mirror tree",
		}, []string{"root"}),
		mirroredNodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "treemirror_mirrored_nodes",
			Help: "Nodes currently mirrored under a root",
		}, []string{"root"}),
		readRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treemirror_content_read_retries_total",
			Help: "Content reads retried because the file changed mid-read",
		}),
		watchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treemirror_watch_errors_total",
			Help: "Errors reported by the native watch layer",
		}),
		watchRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treemirror_watch_restarts_total",
			Help: "Native watcher restarts after errors",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treemirror_events_published_total",
			Help: "Events published on an event bus",
		}, []string{"bus", "type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treemirror_events_dropped_total",
			Help: "Events dropped because a subscriber was full",
		}, []string{"bus", "type"}),
		eventSubscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "treemirror_event_subscribers",
			Help: "Active event bus subscribers",
		}, []string{"bus"}),
	}
	r.registry.MustRegister(
		r.watchEvents,
		r.resolutionMisses,
		r.reconcilePasses,
		r.nodesCreated,
		r.nodesDestroyed,
		r.mirroredNodes,
		r.readRetries,
		r.watchErrors,
		r.watchRestarts,
		r.eventsPublished,
		r.eventsDropped,
		r.eventSubscriptions,
	)
	return r
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

func (r *Registry) IncWatchEvent(kind string) {
	if r == nil {
		return
	}
	r.watchEvents.WithLabelValues(kind).Inc()
}

func (r *Registry) IncResolutionMiss(kind string) {
	if r == nil {
		return
	}
	r.resolutionMisses.WithLabelValues(kind).Inc()
}

func (r *Registry) IncReconcile(trigger string) {
	if r == nil {
		return
	}
	r.reconcilePasses.WithLabelValues(trigger).Inc()
}

func (r *Registry) NodeCreated(root string) {
	if r == nil {
		return
	}
	r.nodesCreated.WithLabelValues(root).Inc()
	r.mirroredNodes.WithLabelValues(root).Inc()
}

func (r *Registry) NodeDestroyed(root string) {
	if r == nil {
		return
	}
	r.nodesDestroyed.WithLabelValues(root).Inc()
	r.mirroredNodes.WithLabelValues(root).Dec()
}

func (r *Registry) IncReadRetry() {
	if r == nil {
		return
	}
	r.readRetries.Inc()
}

func (r *Registry) IncWatchError() {
	if r == nil {
		return
	}
	r.watchErrors.Inc()
}

func (r *Registry) IncWatchRestart() {
	if r == nil {
		return
	}
	r.watchRestarts.Inc()
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(bus, eventType).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(bus, eventType).Inc()
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.eventSubscriptions.WithLabelValues(bus).Set(float64(count))
}
