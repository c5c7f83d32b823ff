package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ismaiel54/ioi-session-client/internal/event"
	"github.com/ismaiel54/ioi-session-client/internal/session"
)

const namespace = "ioi"

// Metrics records session activity in Prometheus and implements
// session.Recorder. State changes are mirrored into the health checker.
type Metrics struct {
	registry *prometheus.Registry
	health   *HealthChecker

	eventsDispatched   *prometheus.CounterVec
	unexpectedMessages *prometheus.CounterVec
	handlerPanics      *prometheus.CounterVec
	sessionState       *prometheus.GaugeVec
	outstandingReqs    prometheus.Gauge
	outstandingSubs    prometheus.Gauge

	// Commands counts bridge outcomes by status.
	Commands *prometheus.CounterVec
	// Updates counts subscription updates by change kind.
	Updates *prometheus.CounterVec
}

var _ session.Recorder = (*Metrics)(nil)

var trackedStates = []session.State{
	session.NotStarted, session.Starting, session.Started, session.Terminated, session.Failed,
}

// NewMetrics registers the session metrics on a fresh registry. health may be nil.
func NewMetrics(health *HealthChecker) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		health:   health,
		eventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_dispatched_total",
			Help:      "Events dispatched by type",
		}, []string{"type"}),
		unexpectedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "unexpected_messages_total",
			Help:      "Messages that matched no outstanding request or subscription",
		}, []string{"type"}),
		handlerPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "handler_panics_total",
			Help:      "Recovered panics in application handlers",
		}, []string{"handler"}),
		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "1 for the current session state",
		}, []string{"state"}),
		outstandingReqs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "outstanding_requests",
			Help:      "Requests awaiting a response",
		}),
		outstandingSubs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "subscriptions",
			Help:      "Live subscriptions",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "commands_total",
			Help:      "IOI commands by outcome status",
		}, []string{"status"}),
		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "updates_total",
			Help:      "IOI updates received by change kind",
		}, []string{"change"}),
	}
	m.SessionState(session.NotStarted)
	return m
}

func (m *Metrics) EventDispatched(t event.EventType) {
	m.eventsDispatched.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) UnexpectedMessage(t event.EventType) {
	m.unexpectedMessages.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) HandlerPanic(handler string) {
	m.handlerPanics.WithLabelValues(handler).Inc()
}

func (m *Metrics) SessionState(s session.State) {
	for _, st := range trackedStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.sessionState.WithLabelValues(st.String()).Set(v)
	}
	if m.health != nil {
		m.health.SetSessionState(s)
	}
}

func (m *Metrics) Outstanding(requests, subscriptions int) {
	m.outstandingReqs.Set(float64(requests))
	m.outstandingSubs.Set(float64(subscriptions))
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GaugeFunc exposes fn as an ioi_<subsystem>_<name> gauge
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}
