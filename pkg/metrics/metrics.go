// Package metrics emits the Pool's EmitMetrics gauges: buffer count,
// active count, active/idle/prewarm MB, plus supplemental counters
// (cold/warm start counts, evictions). Gauges are registered against
// VictoriaMetrics' process-wide default set, following the
// metrics.InitializeMetricsRepository convention, and mirrored into a
// Prometheus collector for scraping.
package metrics

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/mem"
)

const namePrefix = "beta9_preloader_"

// Snapshot is the pure-data form of a metrics tick, so callers (the
// Pool's EmitMetrics handler) can compute values without importing the
// metrics registry types directly into hot logic.
type Snapshot struct {
	BufferCount int
	ActiveCount int
	ActiveMB    int
	IdleMB      int
	PrewarmMB   int
}

// PoolGauges holds the live gauge handles a ContainerPool updates on
// every EmitMetrics tick. VictoriaMetrics' Gauge type samples a callback
// rather than exposing a Set method, so the last snapshot is stashed in
// atomics and the gauges are registered once against closures reading
// them back.
type PoolGauges struct {
	invokerID string

	bufferCount int64
	activeCount int64
	activeMB    int64
	idleMB      int64
	prewarmMB   int64

	coldStarts  *metrics.Counter
	warmStarts  *metrics.Counter
	preloadHits *metrics.Counter
	evictions   *metrics.Counter
}

// NewPoolGauges registers the invoker's pool gauges, tagged by invokerID.
func NewPoolGauges(invokerID string) *PoolGauges {
	g := &PoolGauges{invokerID: invokerID}
	labels := `{invoker="` + invokerID + `"}`

	metrics.GetOrCreateGauge(namePrefix+"run_buffer_count"+labels, func() float64 {
		return float64(atomic.LoadInt64(&g.bufferCount))
	})
	metrics.GetOrCreateGauge(namePrefix+"active_activation_count"+labels, func() float64 {
		return float64(atomic.LoadInt64(&g.activeCount))
	})
	metrics.GetOrCreateGauge(namePrefix+"active_memory_mb"+labels, func() float64 {
		return float64(atomic.LoadInt64(&g.activeMB))
	})
	metrics.GetOrCreateGauge(namePrefix+"idle_memory_mb"+labels, func() float64 {
		return float64(atomic.LoadInt64(&g.idleMB))
	})
	metrics.GetOrCreateGauge(namePrefix+"prewarm_memory_mb"+labels, func() float64 {
		return float64(atomic.LoadInt64(&g.prewarmMB))
	})

	g.coldStarts = metrics.GetOrCreateCounter(namePrefix + "cold_starts_total" + labels)
	g.warmStarts = metrics.GetOrCreateCounter(namePrefix + "warm_starts_total" + labels)
	g.preloadHits = metrics.GetOrCreateCounter(namePrefix + "preload_hits_total" + labels)
	g.evictions = metrics.GetOrCreateCounter(namePrefix + "evictions_total" + labels)

	return g
}

// Update pushes a snapshot into the registered gauges.
func (g *PoolGauges) Update(s Snapshot) {
	atomic.StoreInt64(&g.bufferCount, int64(s.BufferCount))
	atomic.StoreInt64(&g.activeCount, int64(s.ActiveCount))
	atomic.StoreInt64(&g.activeMB, int64(s.ActiveMB))
	atomic.StoreInt64(&g.idleMB, int64(s.IdleMB))
	atomic.StoreInt64(&g.prewarmMB, int64(s.PrewarmMB))
}

// Last returns the most recently pushed snapshot.
func (g *PoolGauges) Last() Snapshot {
	return Snapshot{
		BufferCount: int(atomic.LoadInt64(&g.bufferCount)),
		ActiveCount: int(atomic.LoadInt64(&g.activeCount)),
		ActiveMB:    int(atomic.LoadInt64(&g.activeMB)),
		IdleMB:      int(atomic.LoadInt64(&g.idleMB)),
		PrewarmMB:   int(atomic.LoadInt64(&g.prewarmMB)),
	}
}

// IncColdStart records a cold-start scheduling decision.
func (g *PoolGauges) IncColdStart() { g.coldStarts.Inc() }

// IncWarmStart records a warm-reuse scheduling decision.
func (g *PoolGauges) IncWarmStart() { g.warmStarts.Inc() }

// IncPreloadHit records a schedule() decision satisfied by the pre-load
// table.
func (g *PoolGauges) IncPreloadHit() { g.preloadHits.Inc() }

// IncEviction records a container evicted to free memory budget.
func (g *PoolGauges) IncEviction() { g.evictions.Inc() }

// ColdStarts returns the cumulative cold-start count.
func (g *PoolGauges) ColdStarts() uint64 { return g.coldStarts.Get() }

// WarmStarts returns the cumulative warm-reuse count.
func (g *PoolGauges) WarmStarts() uint64 { return g.warmStarts.Get() }

// Evictions returns the cumulative eviction count.
func (g *PoolGauges) Evictions() uint64 { return g.evictions.Get() }

// PreloadHits returns the cumulative pre-load-table hit count.
func (g *PoolGauges) PreloadHits() uint64 { return g.preloadHits.Get() }

// HostSampler samples host resource usage, following
// Wingie-beta9/pkg/agent/metrics.go's gopsutil-based MetricsCollector.
// No HTTP route or gauge in this module reads it.
type HostSampler struct{}

// PrivateIP returns the machine's private IPv4 address, skipping
// loopback and link-local interfaces, grounded on
// Wingie-beta9/pkg/agent/metrics.go's GetPrivateIP. Used as the
// invoker's hostIP for fleet-state publishing when config does not
// override it. Returns "" if no usable interface is found.
func PrivateIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			if ip4 := ip.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return ""
}

// HostMemoryPercent returns current host memory utilization percent, or
// 0 if it cannot be determined.
func (HostSampler) HostMemoryPercent() float64 {
	info, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return info.UsedPercent
}

// PrometheusCollector adapts PoolGauges to a prometheus.Collector for
// invokers that expose a /metrics endpoint via the Prometheus client
// rather than a VictoriaMetrics push. It exports only run_buffer_count;
// the other PoolGauges gauges and counters are not exported through it.
type PrometheusCollector struct {
	gauges *PoolGauges
	desc   *prometheus.Desc
}

// NewPrometheusCollector wraps gauges for Prometheus registration.
func NewPrometheusCollector(gauges *PoolGauges) *PrometheusCollector {
	return &PrometheusCollector{
		gauges: gauges,
		desc: prometheus.NewDesc(namePrefix+"run_buffer_count", "current run buffer length",
			nil, prometheus.Labels{"invoker": gauges.invokerID}),
	}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	last := c.gauges.Last()
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(last.BufferCount))
}

// StartPush begins pushing the process-wide VictoriaMetrics gauge and
// counter set (everything registered via GetOrCreateGauge/Counter
// above) to pushURL on the given interval, mirroring
// Wingie-beta9/pkg/agent's InitializeMetricsRepository push wiring.
func StartPush(pushURL string, interval time.Duration) error {
	return metrics.InitPush(pushURL, interval, "", true)
}
