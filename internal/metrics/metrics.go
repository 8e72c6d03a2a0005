package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// transition: issued, accepted, rejected, expired
	InvitationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invitation_transitions_total",
			Help: "Invitation lifecycle transitions",
		},
		[]string{"transition"},
	)

	ContractsSigned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contracts_client_signed_total",
		Help: "Contracts counter-signed by the client",
	})

	// status: sent, failed
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invitation_emails_total",
			Help: "Invitation emails handed to the mail provider",
		},
		[]string{"status"},
	)

	ProgressLogged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "task_progress_updates_total",
		Help: "Task progress updates appended",
	})

	// event: issued, paid, void
	Invoices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoices_total",
			Help: "Invoice lifecycle events",
		},
		[]string{"event"},
	)
)

func RecordInvitation(transition string) {
	InvitationTransitions.WithLabelValues(transition).Inc()
}

func RecordEmail(err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	EmailsSent.WithLabelValues(status).Inc()
}

// Middleware observes request latency labelled by the matched route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		HTTPRequestDuration.
			WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}
