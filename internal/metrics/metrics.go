package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the basic namespace where all metrics are defined under.
	Namespace = "scoreboard"
)

// NewCounter creates a Counter metrics under the global namespace.
func NewCounter(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewGauge creates a Gauge metrics under the global namespace.
func NewGauge(name, subsystem, help string, labels []string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewHistogramWithBuckets creates a Histogram metrics with custom buckets.
func NewHistogramWithBuckets(name, subsystem, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
}

var (
	proposals = NewCounter(
		"proposals_total",
		"sync",
		"update proposals by outcome",
		[]string{"result"},
	)
	proposalAccepted  = proposals.WithLabelValues("accepted")
	proposalConflict  = proposals.WithLabelValues("conflict")
	proposalUnknown   = proposals.WithLabelValues("unknown_session")
	proposalMalformed = proposals.WithLabelValues("malformed")

	acks = NewCounter(
		"broadcast_acks_total",
		"hub",
		"per-recipient broadcast acknowledgments by outcome",
		[]string{"result"},
	)
	ackOK     = acks.WithLabelValues("ok")
	ackFailed = acks.WithLabelValues("failed")

	broadcastLatency = NewHistogramWithBuckets(
		"broadcast_seconds",
		"hub",
		"time from fan-out start until every recipient acknowledged or timed out",
		[]string{},
		prometheus.ExponentialBuckets(0.001, 2, 14),
	).WithLabelValues()

	connections = NewGauge(
		"connections",
		"hub",
		"currently registered connections",
		[]string{},
	).WithLabelValues()

	sessions = NewGauge(
		"sessions",
		"store",
		"session records held in memory",
		[]string{},
	).WithLabelValues()

	registrations = NewCounter(
		"registrations_total",
		"hub",
		"connection registration attempts by outcome",
		[]string{"result"},
	)
	registrationOK       = registrations.WithLabelValues("ok")
	registrationRejected = registrations.WithLabelValues("rejected")

	powerRequests = NewCounter(
		"power_requests_total",
		"power",
		"side-effect webhook invocations by resulting status",
		[]string{"status"},
	)
)

func ProposalAccepted()  { proposalAccepted.Inc() }
func ProposalConflict()  { proposalConflict.Inc() }
func ProposalUnknown()   { proposalUnknown.Inc() }
func ProposalMalformed() { proposalMalformed.Inc() }

func ReportAck(ok bool) {
	if ok {
		ackOK.Inc()
		return
	}
	ackFailed.Inc()
}

func ReportBroadcastLatency(d time.Duration) {
	broadcastLatency.Observe(d.Seconds())
}

func ReportRegistration(ok bool) {
	if ok {
		registrationOK.Inc()
		return
	}
	registrationRejected.Inc()
}

func SetConnections(n int) { connections.Set(float64(n)) }
func SetSessions(n int)    { sessions.Set(float64(n)) }

func ReportPowerRequest(status int) {
	powerRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}
