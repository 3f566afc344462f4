package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/types"
)

func ptr[T any](v T) *T { return &v }

func TestObserveResult(t *testing.T) {
	m := New(false)

	r := types.DetectionResult{
		Running: true,
		Auth:    types.AuthState{Enabled: true},
		Topology: types.TopologyReport{Members: []types.ReplicaMember{
			{Name: "a:1", State: types.MemberPrimary, Health: ptr(true), LagSeconds: ptr(int64(0)), UptimeSeconds: ptr(int64(100))},
			{Name: "b:1", State: types.MemberSecondary, Health: ptr(false), LagSeconds: ptr(int64(7))},
			{Name: "c:1", State: types.MemberArbiter},
		}},
	}
	m.ObserveResult(r, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(OutcomeOK, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Running))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthEnabled))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TLSEnabled))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Members))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthyMembers))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.MemberLag.WithLabelValues("b:1", "secondary")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.MemberLag), "members without lag are not exported")
	assert.Equal(t, 1, testutil.CollectAndCount(m.MemberUptime))

	m.ObserveResult(types.DetectionResult{Error: "MongoDB is not running"}, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(OutcomeSoft, "")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.MemberLag), "per-member series reset each run")

	fatal := core.NewError(core.KindAuthInvalid, types.StageAuthResolved, "bad creds", errors.New("auth failed"))
	m.ObserveResult(types.DetectionResult{}, fatal)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(OutcomeFatal, string(core.KindAuthInvalid))))
}

func TestObserveCounters(t *testing.T) {
	m := New(false)
	m.ObserveProbe(true)
	m.ObserveProbe(false)
	m.ObserveProbe(false)
	m.ObserveConnect(true, false)
	m.ObserveConnect(false, true)
	m.ObserveStage(types.StageHostResolved, 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Probes.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Probes.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connects.WithLabelValues("tls", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connects.WithLabelValues("plaintext", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveProbe(true)
		m.ObserveConnect(true, true)
		m.ObserveStage(types.StageDone, time.Second)
		m.ObserveResult(types.DetectionResult{}, nil)
	})
}

func TestWriteTextfile(t *testing.T) {
	m := New(true)
	m.ObserveResult(types.DetectionResult{Running: true}, nil)

	path := filepath.Join(t.TempDir(), "mongostate.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mongostate_running 1")
	assert.Contains(t, string(data), "go_goroutines")
}
