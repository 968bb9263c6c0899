// Package metrics registers the small set of Prometheus collectors this
// service exposes (§9 expansion). Binding an HTTP listener for them is a
// host-process concern and out of scope here (§1) — this package only
// builds and registers the collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every counter/gauge the match supervisor and location
// store increment.
type Collectors struct {
	RoundsStarted   prometheus.Counter
	GuessesAccepted prometheus.Counter
	ClaimMisses     prometheus.Counter
	PackReadRetries prometheus.Counter
}

// New builds and registers a fresh Collectors set against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RoundsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoguess_rounds_started_total",
			Help: "Total number of rounds started across all matches.",
		}),
		GuessesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoguess_guesses_accepted_total",
			Help: "Total number of guesses accepted across all matches.",
		}),
		ClaimMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoguess_session_claim_misses_total",
			Help: "Total number of live-session-cache claim attempts that found an existing owner, plus failed claim-lease renewals.",
		}),
		PackReadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoguess_pack_read_retries_total",
			Help: "Total number of retried pack byte-range reads.",
		}),
	}
	reg.MustRegister(c.RoundsStarted, c.GuessesAccepted, c.ClaimMisses, c.PackReadRetries)
	return c
}
