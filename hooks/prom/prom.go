// Package promhooks exports taskcache hook events as Prometheus counters.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/taskcache"
)

const namespace = "taskcache"

type Hooks struct {
	selfHeal      *prometheus.CounterVec
	setRejected   prometheus.Counter
	staged        *prometheus.CounterVec
	flushed       *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	flushAborted  *prometheus.CounterVec
	webhookFailed *prometheus.CounterVec
	listenerFails *prometheus.CounterVec
}

var _ taskcache.Hooks = (*Hooks)(nil)

// New creates the counters and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) (*Hooks, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	h := &Hooks{
		selfHeal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "self_heal_total",
			Help: "Cached snapshots deleted on read, by reason.",
		}, []string{"reason"}),
		setRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_set_rejected_total",
			Help: "Snapshot writes rejected by the cache provider.",
		}),
		staged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "staged_total",
			Help: "Non-terminal saves staged for write-behind.",
		}, []string{"type"}),
		flushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "flushed_documents_total",
			Help: "Documents written by drains.",
		}, []string{"type"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "flush_skipped_total",
			Help: "Undecodable staged entries skipped by drains.",
		}, []string{"type"}),
		flushAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "flush_aborted_total",
			Help: "Drains stopped before the durable write.",
		}, []string{"type"}),
		webhookFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_failed_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"type"}),
		listenerFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "listener_failed_total",
			Help: "Listener calls that returned an error or panicked.",
		}, []string{"type"}),
	}
	for _, c := range []prometheus.Collector{
		h.selfHeal, h.setRejected, h.staged, h.flushed,
		h.skipped, h.flushAborted, h.webhookFailed, h.listenerFails,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) SelfHealSnapshot(_, reason string) { h.selfHeal.WithLabelValues(reason).Inc() }
func (h *Hooks) ProviderSetRejected(string)        { h.setRejected.Inc() }
func (h *Hooks) Staged(typeName, _ string)         { h.staged.WithLabelValues(typeName).Inc() }

func (h *Hooks) Flushed(typeName string, upserted, skipped int) {
	h.flushed.WithLabelValues(typeName).Add(float64(upserted))
	if skipped > 0 {
		h.skipped.WithLabelValues(typeName).Add(float64(skipped))
	}
}

func (h *Hooks) FlushAborted(typeName, _ string, _ error) {
	h.flushAborted.WithLabelValues(typeName).Inc()
}

func (h *Hooks) WebhookFailed(typeName, _ string, _ error) {
	h.webhookFailed.WithLabelValues(typeName).Inc()
}

func (h *Hooks) ListenerFailed(typeName string, _ int, _ error) {
	h.listenerFails.WithLabelValues(typeName).Inc()
}
