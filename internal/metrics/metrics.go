// Package metrics declares the Prometheus instrumentation shared by the
// pipeline components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector. Construct one per process with New and a
// dedicated registry; tests create their own to avoid cross-registration.
type Metrics struct {
	MessagesIngested  *prometheus.CounterVec
	MessagesUnique    prometheus.Counter
	MessagesDuplicate prometheus.Counter
	DecodeErrors      *prometheus.CounterVec

	WatchlistMatches  prometheus.Counter
	WatchlistSyncs    *prometheus.CounterVec
	WatchlistVessels  prometheus.Gauge
	WatchlistPushes   *prometheus.CounterVec

	ActiveVessels prometheus.Gauge

	EventsBroadcast      *prometheus.CounterVec
	Subscribers          *prometheus.GaugeVec
	SubscribersRejected  *prometheus.CounterVec
	SubscriberDisconnect *prometheus.CounterVec
}

// New registers every collector with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_messages_ingested_total",
			Help: "Normalized messages received, by source.",
		}, []string{"source"}),
		MessagesUnique: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_messages_unique_total",
			Help: "Messages that passed deduplication.",
		}),
		MessagesDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_messages_duplicate_total",
			Help: "Messages dropped as duplicates.",
		}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_decode_errors_total",
			Help: "Sentences that failed validation or decoding, by source.",
		}, []string{"source"}),
		WatchlistMatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_watchlist_matches_total",
			Help: "Messages that matched a watchlist entry.",
		}),
		WatchlistSyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_watchlist_syncs_total",
			Help: "Watchlist sync attempts, by outcome.",
		}, []string{"outcome"}),
		WatchlistVessels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_watchlist_vessels",
			Help: "Vessel entries in the current watchlist indexes.",
		}),
		WatchlistPushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_watchlist_pushes_total",
			Help: "Best-effort attribute pushes to the provider, by outcome.",
		}, []string{"outcome"}),
		ActiveVessels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_vessels",
			Help: "Vessels with a live state record.",
		}),
		EventsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_events_broadcast_total",
			Help: "Events delivered to subscribers, by pool.",
		}, []string{"pool"}),
		Subscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_subscribers",
			Help: "Open subscriptions, by pool.",
		}, []string{"pool"}),
		SubscribersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_subscribers_rejected_total",
			Help: "Rejected subscription attempts, by reason.",
		}, []string{"reason"}),
		SubscriberDisconnect: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_subscriber_disconnects_total",
			Help: "Subscriber disconnects, by cause.",
		}, []string{"cause"}),
	}
}
