package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RejectReason names one of the four rejected.* diagnostics counters
// (§4.9, §4.11, §7); the remaining error kinds (malformedMessage,
// peerUnreachable, streamClosedEarly) are logged rather than counted.
type RejectReason string

const (
	RejectPayloadTooLarge RejectReason = "payloadTooLarge"
	RejectTimestampBounds RejectReason = "timestampBounds"
	RejectTTLExpired      RejectReason = "ttlExpired"
	RejectRateLimited     RejectReason = "rateLimited"
)

// Diagnostics holds the in-process counters named throughout §4 and §8's
// scenarios. No HTTP exporter is wired — scraping these is the host's
// metrics sink, out of scope here — but the counters themselves are real
// prometheus.Counter values so a host that does run an exporter can
// register them.
type Diagnostics struct {
	Rejected          *prometheus.CounterVec
	PingsSent         prometheus.Counter
	AnnouncementsSent prometheus.Counter
}

// NewDiagnostics builds an unregistered set of counters. Leaving them
// unregistered is deliberate: FRET does not own a metrics sink, so there
// is no default registry to collide with across multiple Service
// instances in the same process (e.g. the simulation harness).
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fret_rejected_total",
			Help: "Requests rejected by the RPC envelope or route pipeline, by reason.",
		}, []string{"reason"}),
		PingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fret_pings_sent_total",
			Help: "Pings sent during stabilization.",
		}),
		AnnouncementsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fret_announcements_sent_total",
			Help: "Neighbor snapshots pushed to other peers.",
		}),
	}
}

func (d *Diagnostics) IncRejected(reason RejectReason) {
	d.Rejected.WithLabelValues(string(reason)).Inc()
}
