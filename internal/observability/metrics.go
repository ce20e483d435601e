package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"modem-service/internal/transport"
)

var (
	registerOnce sync.Once

	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modem",
			Subsystem: "engine",
			Name:      "exchanges_total",
			Help:      "Command exchanges by mnemonic and outcome.",
		},
		[]string{"link", "command", "outcome"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modem",
			Subsystem: "engine",
			Name:      "exchange_duration_seconds",
			Help:      "Command exchange duration in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"link", "command"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modem",
			Subsystem: "engine",
			Name:      "notifications_total",
			Help:      "Unsolicited notifications by kind.",
		},
		[]string{"link", "kind"},
	)
	inboundBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modem",
			Subsystem: "inbound",
			Name:      "bytes_total",
			Help:      "Inbound payload bytes, delivered or dropped.",
		},
		[]string{"link", "dropped"},
	)
	association = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "modem",
			Subsystem: "engine",
			Name:      "association_state",
			Help:      "1 for the current association state, 0 otherwise.",
		},
		[]string{"link", "state"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modem",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modem",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

var associationStates = []string{"unassociated", "associated", "address-acquired"}

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(exchanges, exchangeDuration, notifications, inboundBytes, association,
			httpRequests, httpDuration)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// EngineObserver records engine activity for one link. It satisfies
// protocol.Observer.
type EngineObserver struct {
	link string
}

func NewEngineObserver(link string) *EngineObserver {
	RegisterMetrics()
	return &EngineObserver{link: link}
}

func (o *EngineObserver) ObserveExchange(command, outcome string, elapsed time.Duration) {
	exchanges.WithLabelValues(o.link, command, outcome).Inc()
	if elapsed > 0 {
		exchangeDuration.WithLabelValues(o.link, command).Observe(elapsed.Seconds())
	}
}

func (o *EngineObserver) ObserveNotification(kind string) {
	notifications.WithLabelValues(o.link, kind).Inc()
}

func (o *EngineObserver) ObserveInbound(bytes int, dropped bool) {
	inboundBytes.WithLabelValues(o.link, strconv.FormatBool(dropped)).Add(float64(bytes))
}

func (o *EngineObserver) ObserveAssociation(state string) {
	for _, s := range associationStates {
		v := 0.0
		if s == state {
			v = 1
		}
		association.WithLabelValues(o.link, s).Set(v)
	}
}

// TransportCollector exposes a channel's counters at scrape time.
type TransportCollector struct {
	stats func() transport.Stats

	received  *prometheus.Desc
	sent      *prometheus.Desc
	overruns  *prometheus.Desc
	txErrors  *prometheus.Desc
	deasserts *prometheus.Desc
	timeouts  *prometheus.Desc
	buffered  *prometheus.Desc
	throttled *prometheus.Desc
}

func NewTransportCollector(link string, stats func() transport.Stats) *TransportCollector {
	labels := prometheus.Labels{"link": link}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("modem", "transport", name), help, nil, labels)
	}
	return &TransportCollector{
		stats:     stats,
		received:  desc("received_bytes_total", "Bytes accepted into the receive ring."),
		sent:      desc("sent_bytes_total", "Bytes handed to the hardware."),
		overruns:  desc("overruns_total", "Bytes dropped because the receive ring was full."),
		txErrors:  desc("transmit_errors_total", "Transmit kicks the hardware refused."),
		deasserts: desc("flow_deasserts_total", "Times the receive flow signal was deasserted."),
		timeouts:  desc("timeouts_total", "Blocking calls that ended on timer expiry."),
		buffered:  prometheus.NewDesc(prometheus.BuildFQName("modem", "transport", "buffered_bytes"), "Bytes waiting in a ring.", []string{"ring"}, labels),
		throttled: desc("receive_throttled", "1 while the flow signal is deasserted."),
	}
}

func (c *TransportCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.received, c.sent, c.overruns, c.txErrors, c.deasserts, c.timeouts, c.buffered, c.throttled} {
		ch <- d
	}
}

func (c *TransportCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.received, s.BytesReceived)
	counter(c.sent, s.BytesSent)
	counter(c.overruns, s.Overruns)
	counter(c.txErrors, s.TransmitErrors)
	counter(c.deasserts, s.FlowDeasserts)
	counter(c.timeouts, s.Timeouts)
	ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(s.RxBuffered), "rx")
	ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(s.TxBuffered), "tx")
	throttled := 0.0
	if s.ReceiveThrottled {
		throttled = 1
	}
	ch <- prometheus.MustNewConstMetric(c.throttled, prometheus.GaugeValue, throttled)
}
