package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AuthFailuresTotal counts rejected requests.
var AuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "parimutuel_auth_failures_total",
	Help: "Total number of requests rejected by identity verification",
})
