// Package metrics exposes prometheus counters for the registration workflows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ApplicationsAccepted counts successful acceptance workflows.
	ApplicationsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efest_applications_accepted_total",
		Help: "Applications moved from Pending to Accepted.",
	})

	// ApplicationsRejected counts successful rejection workflows.
	ApplicationsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efest_applications_rejected_total",
		Help: "Applications moved to Rejected.",
	})

	// CapacityRejections counts accepts refused by the capacity guard.
	CapacityRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efest_capacity_rejections_total",
		Help: "Acceptance attempts refused because the module would overbook.",
	})

	// ParticipantsEnrolled counts participant rows written by acceptance.
	ParticipantsEnrolled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efest_participants_enrolled_total",
		Help: "Participant records upserted by accepted applications.",
	})

	// EmailsSent and EmailsFailed count best-effort notification deliveries.
	EmailsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efest_notification_emails_sent_total",
		Help: "Notification emails delivered.",
	})
	EmailsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efest_notification_emails_failed_total",
		Help: "Notification emails that failed to deliver.",
	})
)
