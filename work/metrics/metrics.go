package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveClients tracks the number of clients currently being relayed per
// channel. This is a gauge: it rises when a relay starts and falls when the
// client disconnects or the relay ends.
var ActiveClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "drmtv_proxy_active_clients",
	Help: "Number of clients currently relayed",
}, []string{"channel"})

// BytesRelayed counts bytes piped from origin to clients per channel.
var BytesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "drmtv_proxy_bytes_relayed",
	Help: "Total bytes relayed from origin streams",
}, []string{"channel"})

// UpstreamErrors counts upstream fetch failures by endpoint. The "endpoint"
// label distinguishes stream relay, DRM manifest, license broker, CORS relay,
// and source refresh failures.
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "drmtv_proxy_upstream_errors",
	Help: "Number of upstream fetch failures",
}, []string{"endpoint"})

// LicenseRequests counts brokered license exchanges by DRM kind and outcome.
var LicenseRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "drmtv_proxy_license_requests",
	Help: "Number of brokered DRM license requests",
}, []string{"kind", "outcome"})

// SourceRefreshes counts refresher outcomes per source.
var SourceRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "drmtv_proxy_source_refreshes",
	Help: "Number of source refresh attempts",
}, []string{"source", "outcome"})
