package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "watchparty_rooms_active",
		Help: "Number of live watch-party rooms.",
	})

	ParticipantsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "watchparty_participants_active",
		Help: "Number of connected participants across all rooms.",
	})

	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchparty_events_broadcast_total",
		Help: "Events fanned out to participants, by event type.",
	}, []string{"type"})

	CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchparty_commands_rejected_total",
		Help: "Playback commands rejected, by reason.",
	}, []string{"reason"})

	ClientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watchparty_clients_dropped_total",
		Help: "Connections dropped for backpressure overflow.",
	})
)
