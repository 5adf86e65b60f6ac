package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tkarvone/gsmmuxd/internal/logging"
)

// Prometheus counters/gauges.
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total 27.010 frames decoded from the serial link.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total 27.010 frames written to the serial link.",
	})
	EndpointRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "endpoint_rx_bytes_total",
		Help: "Total bytes read from pseudo-terminal endpoints and framed onto the wire.",
	})
	EndpointTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "endpoint_tx_bytes_total",
		Help: "Total payload bytes delivered to pseudo-terminal endpoints.",
	})
	DroppedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rx_dropped_bytes_total",
		Help: "Total bytes discarded by the receive buffer during resynchronization.",
	})
	PingsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pings_sent_total",
		Help: "Total fault-tolerance keepalive pings sent to the modem.",
	})
	Restarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restarts_total",
		Help: "Total times the multiplexer session was restarted after the modem stopped responding.",
	})
	ChannelsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "channels_open",
		Help: "Current number of open (non-control) data link connections.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total frames rejected for a bad FCS or broken framing.",
	})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrSerialRead    = "serial_read"
	ErrSerialWrite   = "serial_write"
	ErrEndpointRead  = "endpoint_read"
	ErrEndpointWrite = "endpoint_write"
	ErrEndpointRetry = "endpoint_write_retry_exhausted"
	ErrModemSetup    = "modem_setup"
	ErrPollFailure   = "poll_failure"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging without scraping
// Prometheus in-process.
var (
	localSerialRx   uint64
	localSerialTx   uint64
	localEndpointRx uint64
	localEndpointTx uint64
	localDropped    uint64
	localPings      uint64
	localRestarts   uint64
	localErrors     uint64
	localChannels   uint64
	localMalformed  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx     uint64
	SerialTx     uint64
	EndpointRx   uint64
	EndpointTx   uint64
	Dropped      uint64
	Pings        uint64
	Restarts     uint64
	Errors       uint64
	ChannelsOpen uint64
	Malformed    uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:     atomic.LoadUint64(&localSerialRx),
		SerialTx:     atomic.LoadUint64(&localSerialTx),
		EndpointRx:   atomic.LoadUint64(&localEndpointRx),
		EndpointTx:   atomic.LoadUint64(&localEndpointTx),
		Dropped:      atomic.LoadUint64(&localDropped),
		Pings:        atomic.LoadUint64(&localPings),
		Restarts:     atomic.LoadUint64(&localRestarts),
		Errors:       atomic.LoadUint64(&localErrors),
		ChannelsOpen: atomic.LoadUint64(&localChannels),
		Malformed:    atomic.LoadUint64(&localMalformed),
	}
}

func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

func AddEndpointRx(n int) {
	EndpointRxBytes.Add(float64(n))
	atomic.AddUint64(&localEndpointRx, uint64(n))
}

func AddEndpointTx(n int) {
	EndpointTxBytes.Add(float64(n))
	atomic.AddUint64(&localEndpointTx, uint64(n))
}

func AddDropped(n uint64) {
	DroppedBytes.Add(float64(n))
	atomic.AddUint64(&localDropped, n)
}

func IncPing() {
	PingsSent.Inc()
	atomic.AddUint64(&localPings, 1)
}

func IncRestart() {
	Restarts.Inc()
	atomic.AddUint64(&localRestarts, 1)
}

func SetChannelsOpen(n int) {
	ChannelsOpen.Set(float64(n))
	atomic.StoreUint64(&localChannels, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func AddMalformed(n uint64) {
	MalformedFrames.Add(float64(n))
	atomic.AddUint64(&localMalformed, n)
}

// InitBuildInfo sets the build info gauge and pre-registers error label
// series so the first real error of each kind doesn't pay registration
// latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrSerialRead, ErrSerialWrite, ErrEndpointRead, ErrEndpointWrite,
		ErrEndpointRetry, ErrModemSetup, ErrPollFailure,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
