package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FeedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatflow_feed_events_total",
		Help: "Change-feed events delivered to subscribers, by table and type.",
	}, []string{"table", "type"})
	FeedDecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatflow_feed_decode_errors_total",
		Help: "Change-feed payloads that could not be decoded.",
	})
	FeedReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatflow_feed_reconnects_total",
		Help: "Change-feed transport reconnects, by driver.",
	}, []string{"driver"})

	ProfileCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatflow_profile_cache_hits_total",
		Help: "Profile lookups served from the session cache.",
	})
	ProfileCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatflow_profile_cache_misses_total",
		Help: "Profile lookups that went to the profiles table.",
	})
	ReplyPreviewMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatflow_reply_preview_misses_total",
		Help: "Replies enriched without a preview (target missing or lookup failed).",
	})

	Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatflow_uploads_total",
		Help: "Image uploads, by result (ok|failed).",
	}, []string{"result"})

	RelayConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatflow_relay_ws_conns",
		Help: "Current websocket subscribers of the realtime relay.",
	})
	RelayDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatflow_relay_dropped_total",
		Help: "Events dropped because a subscriber's send buffer was full.",
	})
)

// Register регистрирует все метрики в default registry. Вызывается один раз из main.
func Register() {
	prometheus.MustRegister(
		FeedEvents, FeedDecodeErrors, FeedReconnects,
		ProfileCacheHits, ProfileCacheMisses, ReplyPreviewMisses,
		Uploads,
		RelayConns, RelayDropped,
	)
}
