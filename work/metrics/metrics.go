package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PlaybackSessions tracks the number of playback sessions currently attached
// to a sink, labeled by delivery mode ("adaptive" or "direct").
var PlaybackSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "prism_playback_sessions",
	Help: "Number of active playback sessions",
}, []string{"mode"})

// PlaybackRecoveries counts recovery ladder actions taken for fatal playback
// faults. The "action" label distinguishes restart-load, media-recover,
// codec-swap and teardown outcomes.
var PlaybackRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "prism_playback_recoveries_total",
	Help: "Recovery actions taken for fatal playback faults",
}, []string{"action"})

// EPGFetches counts upstream EPG fetch attempts by result ("ok", "error").
var EPGFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "prism_epg_fetches_total",
	Help: "Upstream EPG fetch attempts",
}, []string{"result"})

// EPGCacheHits counts GetSchedule calls served from the in-memory snapshot
// without any network I/O.
var EPGCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "prism_epg_cache_hits_total",
	Help: "EPG requests served from cache",
})

// CatalogSyncs counts channel catalog sync operations by result.
var CatalogSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "prism_catalog_syncs_total",
	Help: "Channel catalog sync operations",
}, []string{"result"})

// RelayClients tracks the number of remote-control clients currently
// connected to the WebSocket relay.
var RelayClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "prism_relay_clients",
	Help: "Connected remote-control relay clients",
})

// ProxiedBytes counts bytes returned through the resource proxy endpoint,
// labeled by cache outcome ("hit", "miss").
var ProxiedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "prism_proxied_bytes_total",
	Help: "Bytes served through the resource proxy",
}, []string{"cache"})
