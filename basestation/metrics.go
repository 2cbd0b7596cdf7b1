package basestation

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "uplink"
const subsystem = "base"

// Metrics are optional, nil *Metrics is valid and records nothing.
type Metrics struct {
	Received      *prometheus.CounterVec
	Duplicates    *prometheus.CounterVec
	Missed        *prometheus.CounterVec
	Invalid       prometheus.Counter
	AckErrors     prometheus.Counter
	PublishErrors prometheus.Counter
	PublishDrops  prometheus.Counter
	PacketRSSI    *prometheus.GaugeVec
	UplinkRSSI    *prometheus.GaugeVec
	Sequence      *prometheus.GaugeVec
	RSSIHistogram prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	nodeLabel := []string{"node"}
	m := &Metrics{
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "received_total",
			Help: "Telemetry messages received, without duplicates",
		}, nodeLabel),
		Duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "duplicates_total",
			Help: "Retransmissions of already received message",
		}, nodeLabel),
		Missed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "missed_total",
			Help: "Messages never received, from sequence gaps",
		}, nodeLabel),
		Invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "invalid_total",
			Help: "Packets with undecodable payload",
		}),
		AckErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "ack_errors_total",
			Help: "Failed acknowledgment transmissions",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "publish_errors_total",
			Help: "Failed telemetry forwards",
		}),
		PublishDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "publish_drops_total",
			Help: "Telemetry not forwarded because queue was full",
		}),
		PacketRSSI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "packet_rssi_dbm",
			Help: "Signal strength of last packet at base station",
		}, nodeLabel),
		UplinkRSSI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "uplink_rssi_dbm",
			Help: "Acknowledgment signal strength reported by node",
		}, nodeLabel),
		Sequence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "sequence",
			Help: "Last received sequence number",
		}, nodeLabel),
		RSSIHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "packet_rssi_histogram_dbm",
			Help:    "Distribution of packet signal strength",
			Buckets: prometheus.LinearBuckets(-120, 10, 11),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Received, m.Duplicates, m.Missed, m.Invalid, m.AckErrors,
			m.PublishErrors, m.PublishDrops, m.PacketRSSI, m.UplinkRSSI, m.Sequence, m.RSSIHistogram)
	}
	return m
}
