// Package metrics provides Prometheus observability metrics for the dialer.
// Components update these at mutation points; nothing here is authoritative
// scheduler state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for our application
var Registry = prometheus.NewRegistry()

// factory allows us to register metrics to our custom Registry directly
var factory = promauto.With(Registry)

// DialAttemptsTotal counts every origination attempt.
var DialAttemptsTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "dial_attempts_total",
	Help:      "Total number of outbound origination attempts",
})

// DialFailuresTotal counts origination attempts that returned an error.
var DialFailuresTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "dial_failures_total",
	Help:      "Total number of failed origination attempts",
})

// CallsActive tracks calls currently in flight across all campaigns.
var CallsActive = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "calls_active",
	Help:      "Number of outbound calls currently in flight",
})

// CampaignsActive tracks campaigns currently held in the scheduler cache.
var CampaignsActive = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "campaigns_active",
	Help:      "Number of campaigns in the in-memory dispatch cache",
})

// ContactsDNCTotal counts contacts moved to the do-not-call list.
var ContactsDNCTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "contacts_dnc_total",
	Help:      "Total number of contacts placed on the DNC list",
})

// TransferInUse tracks held transfer resources per routing key.
var TransferInUse = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "transfer_in_use",
	Help:      "Transfer resources currently held, by routing key",
}, []string{"routing_key"})

// TransferDeniedTotal counts transfer requests that found no free resource.
var TransferDeniedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "transfer_denied_total",
	Help:      "Transfer acquisitions denied because all resources were at capacity, by routing key",
}, []string{"routing_key"})

// SupervisorState exposes the health supervisor state machine
// (0 initializing, 1 running, 2 error, 3 retrying, 4 emergency, 5 stopped).
var SupervisorState = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "dialer",
	Name:      "supervisor_state",
	Help:      "Current supervisor state (0=initializing 1=running 2=error 3=retrying 4=emergency 5=stopped)",
})

// SupervisorRestartsTotal counts supervised restart attempts.
var SupervisorRestartsTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "dialer",
	Name:      "supervisor_restarts_total",
	Help:      "Total number of supervised restart attempts",
})
