// Package metrics records detection metrics on a private Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/types"
)

// Run outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeSoft  = "soft"
	OutcomeFatal = "fatal"
)

// Metrics holds the Prometheus collectors for detection runs.
type Metrics struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Probes        *prometheus.CounterVec
	Connects      *prometheus.CounterVec

	Running        prometheus.Gauge
	AuthEnabled    prometheus.Gauge
	TLSEnabled     prometheus.Gauge
	Members        prometheus.Gauge
	HealthyMembers prometheus.Gauge
	MemberLag      *prometheus.GaugeVec
	MemberUptime   *prometheus.GaugeVec
}

// New creates metrics on a fresh registry. withRuntime adds the Go runtime
// and process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mongostate_detection_runs_total",
			Help: "Detection runs by outcome and failure kind.",
		}, []string{"outcome", "kind"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mongostate_stage_duration_seconds",
			Help:    "Time spent in each detection stage.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mongostate_probes_total",
			Help: "TCP probes by result.",
		}, []string{"result"}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mongostate_connects_total",
			Help: "Connection attempts by transport and result.",
		}, []string{"transport", "result"}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongostate_running",
			Help: "1 when mongod answered.",
		}),
		AuthEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongostate_auth_enabled",
			Help: "1 when authorization is enforced.",
		}),
		TLSEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongostate_tls_enabled",
			Help: "1 when TLS is enabled.",
		}),
		Members: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongostate_replica_members",
			Help: "Replica set members seen.",
		}),
		HealthyMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mongostate_replica_healthy_members",
			Help: "Replica set members known to be healthy.",
		}),
		MemberLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mongostate_member_replication_lag_seconds",
			Help: "Replication lag per member behind the primary.",
		}, []string{"member", "state"}),
		MemberUptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mongostate_member_uptime_seconds",
			Help: "Uptime per member.",
		}, []string{"member"}),
	}

	m.registry.MustRegister(
		m.Runs, m.StageDuration, m.Probes, m.Connects,
		m.Running, m.AuthEnabled, m.TLSEnabled,
		m.Members, m.HealthyMembers, m.MemberLag, m.MemberUptime,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage types.Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// ObserveProbe counts a TCP probe.
func (m *Metrics) ObserveProbe(open bool) {
	if m == nil {
		return
	}
	m.Probes.WithLabelValues(result(open)).Inc()
}

// ObserveConnect counts a connection attempt.
func (m *Metrics) ObserveConnect(tls, ok bool) {
	if m == nil {
		return
	}
	transport := "plaintext"
	if tls {
		transport = "tls"
	}
	m.Connects.WithLabelValues(transport, result(ok)).Inc()
}

// ObserveResult records the final state of a run.
func (m *Metrics) ObserveResult(r types.DetectionResult, err error) {
	if m == nil {
		return
	}

	outcome, kind := OutcomeOK, ""
	switch {
	case err != nil:
		outcome, kind = OutcomeFatal, string(core.KindOf(err))
	case r.Error != "":
		outcome = OutcomeSoft
	}
	m.Runs.WithLabelValues(outcome, kind).Inc()

	m.Running.Set(boolGauge(r.Running))
	m.AuthEnabled.Set(boolGauge(r.Auth.Enabled))
	m.TLSEnabled.Set(boolGauge(r.TLS.Enabled))
	m.Members.Set(float64(r.Topology.MemberCount()))
	m.HealthyMembers.Set(float64(r.Topology.HealthyMemberCount()))

	m.MemberLag.Reset()
	m.MemberUptime.Reset()
	for _, member := range r.Topology.Members {
		if member.LagSeconds != nil {
			m.MemberLag.WithLabelValues(member.Name, string(member.State)).Set(float64(*member.LagSeconds))
		}
		if member.UptimeSeconds != nil {
			m.MemberUptime.WithLabelValues(member.Name).Set(float64(*member.UptimeSeconds))
		}
	}
}

// WriteTextfile writes all metrics in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
