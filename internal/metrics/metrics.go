package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dialcheck/dialcheck/internal/database/models"
)

// SessionStatusCounter returns verification session counts grouped by status.
type SessionStatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// LoginSessionCounter returns the number of live login sessions.
type LoginSessionCounter interface {
	Count() int
}

// Collector is a prometheus.Collector that gathers state at scrape time
// instead of maintaining counters inline. Any provider may be nil.
type Collector struct {
	sessions      SessionStatusCounter
	loginSessions LoginSessionCounter
	startTime     time.Time

	sessionsDesc      *prometheus.Desc
	loginSessionsDesc *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a new metrics collector.
func NewCollector(sessions SessionStatusCounter, loginSessions LoginSessionCounter, startTime time.Time) *Collector {
	return &Collector{
		sessions:      sessions,
		loginSessions: loginSessions,
		startTime:     startTime,

		sessionsDesc: prometheus.NewDesc(
			"dialcheck_verification_sessions",
			"Number of verification sessions by status",
			[]string{"status"}, nil,
		),
		loginSessionsDesc: prometheus.NewDesc(
			"dialcheck_login_sessions",
			"Number of live login sessions",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialcheck_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.loginSessionsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		counts, err := c.sessions.CountByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count sessions by status", "error", err)
		} else {
			// Emit every known status so series do not appear and vanish
			// as sessions move through the state machine.
			for _, status := range []string{
				models.StatusPending,
				models.StatusAwaitingCall,
				models.StatusSuccess,
				models.StatusFailed,
			} {
				ch <- prometheus.MustNewConstMetric(
					c.sessionsDesc, prometheus.GaugeValue,
					float64(counts[status]), status,
				)
			}
		}
	}

	if c.loginSessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.loginSessionsDesc, prometheus.GaugeValue,
			float64(c.loginSessions.Count()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
