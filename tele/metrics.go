package tele

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/uplink"
)

const Namespace = "uplink"

// MetricsServer exposes /metrics (prometheus) and /debug/vars (expvar)
// with own registry, global one is left alone.
type MetricsServer struct {
	Log      *log2.Log
	Registry *prometheus.Registry

	listen string
}

func NewMetricsServer(listen string, log *log2.Log) *MetricsServer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &MetricsServer{Log: log, Registry: reg, listen: listen}
}

func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          s.Registry,
	}))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

// Serve blocks until ctx is done, then shuts server down.
func (s *MetricsServer) Serve(ctx context.Context) error {
	l, err := net.Listen("tcp", s.listen)
	if err != nil {
		return errors.Annotatef(err, "metrics listen=%s", s.listen)
	}
	return s.ServeListener(ctx, l)
}

func (s *MetricsServer) ServeListener(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.Log.Infof("metrics listen=%s", l.Addr())
	errch := make(chan error, 1)
	go func() { errch <- srv.Serve(l) }()
	select {
	case err := <-errch:
		return errors.Annotate(err, "metrics serve")
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return errors.Annotate(err, "metrics shutdown")
	}
	return nil
}

// UplinkCollector reads emitter delivery counters and link state on scrape.
type UplinkCollector struct {
	stat  *uplink.Stat
	state *uplink.LinkState

	attempts     *prometheus.Desc
	timeouts     *prometheus.Desc
	outcomes     *prometheus.Desc
	sampleErrors *prometheus.Desc
	sequence     *prometheus.Desc
	rssi         *prometheus.Desc
	loss         *prometheus.Desc
	failures     *prometheus.Desc
}

var _ prometheus.Collector = &UplinkCollector{}

func NewUplinkCollector(stat *uplink.Stat, state *uplink.LinkState) *UplinkCollector {
	const sub = "emitter"
	return &UplinkCollector{
		stat:  stat,
		state: state,
		attempts: prometheus.NewDesc(prometheus.BuildFQName(Namespace, sub, "attempts_total"),
			"Transmissions of telemetry packets", nil, nil),
		timeouts: prometheus.NewDesc(prometheus.BuildFQName(Namespace, sub, "ack_timeouts_total"),
			"Transmissions without acknowledgment", nil, nil),
		outcomes: prometheus.NewDesc(prometheus.BuildFQName(Namespace, sub, "cycles_total"),
			"Finished cycles by delivery outcome", []string{"outcome"}, nil),
		sampleErrors: prometheus.NewDesc(prometheus.BuildFQName(Namespace, sub, "sample_errors_total"),
			"Cycles skipped because sensor failed", nil, nil),
		sequence: prometheus.NewDesc(prometheus.BuildFQName(Namespace, sub, "sequence"),
			"Sequence number of next cycle", nil, nil),
		rssi: prometheus.NewDesc(prometheus.BuildFQName(Namespace, sub, "ack_rssi_dbm"),
			"Signal strength of last acknowledgment", nil, nil),
		loss: prometheus.NewDesc(prometheus.BuildFQName(Namespace, sub, "loss_ratio"),
			"Share of recent cycles without acknowledgment", nil, nil),
		failures: prometheus.NewDesc(prometheus.BuildFQName(Namespace, sub, "consecutive_failures"),
			"Unacknowledged cycles in a row", nil, nil),
	}
}

func (c *UplinkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.attempts
	ch <- c.timeouts
	ch <- c.outcomes
	ch <- c.sampleErrors
	ch <- c.sequence
	ch <- c.rssi
	ch <- c.loss
	ch <- c.failures
}

func (c *UplinkCollector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.attempts, c.stat.Attempts.Value())
	counter(c.timeouts, c.stat.Timeouts.Value())
	counter(c.outcomes, c.stat.Acknowledged.Value(), "acknowledged")
	counter(c.outcomes, c.stat.Exhausted.Value(), "exhausted")
	counter(c.outcomes, c.stat.Faults.Value(), "fault")
	counter(c.outcomes, c.stat.Canceled.Value(), "canceled")
	counter(c.sampleErrors, c.stat.SampleErrors.Value())

	snap := c.state.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.sequence, prometheus.GaugeValue, float64(snap.Sequence))
	if snap.HasRSSI {
		ch <- prometheus.MustNewConstMetric(c.rssi, prometheus.GaugeValue, snap.LastRSSI)
	}
	ch <- prometheus.MustNewConstMetric(c.loss, prometheus.GaugeValue, snap.LossRatio)
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(snap.ConsecutiveFailures))
}
