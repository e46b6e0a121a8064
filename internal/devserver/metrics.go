package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	joinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "akim_queue_joins_total",
		Help: "Queue join registrations accepted.",
	})

	positionPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "akim_position_polls_total",
		Help: "Citizen position lookups served.",
	})

	signCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akim_sign_callbacks_total",
		Help: "Sign callbacks received, by result.",
	}, []string{"result"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akim_http_requests_total",
		Help: "HTTP requests handled, by route and code.",
	}, []string{"route", "code"})
)
