package detector

import (
	"github.com/peternagy/mongostate/internal/types"
)

// update is a partial result produced by one stage.
type update func(r *types.DetectionResult)

// builder folds stage updates into a result. It never hands out the result
// it owns; callers get a copy from snapshot.
type builder struct {
	r types.DetectionResult
}

func newBuilder(runID string, port int) *builder {
	return &builder{r: types.DetectionResult{
		RunID:    runID,
		Stage:    types.StageInit,
		Port:     port,
		Topology: types.TopologyReport{Members: []types.ReplicaMember{}},
	}}
}

func (b *builder) apply(updates ...update) {
	for _, u := range updates {
		if u != nil {
			u(&b.r)
		}
	}
}

func (b *builder) advance(stage types.Stage) {
	b.r.Stage = stage
}

// fail moves the result to FAILED with msg as the reported error.
func (b *builder) fail(msg string) {
	b.r.Stage = types.StageFailed
	b.r.Error = msg
}

func (b *builder) snapshot() types.DetectionResult {
	return b.r.Clone()
}

// Updates

func withService(s types.ServiceStatus) update {
	return func(r *types.DetectionResult) { r.Service = s }
}

func withConfigFile(bindIP string, tls types.TLSConfig) update {
	return func(r *types.DetectionResult) {
		r.BindIP = bindIP
		if tls.Mode != "" {
			r.TLS = tls
		}
	}
}

func withResolution(host string, reachable bool, probes []types.ProbeResult) update {
	return func(r *types.DetectionResult) {
		r.Probes = append([]types.ProbeResult(nil), probes...)
		r.PortOpen = reachable
		if reachable {
			r.ReachableHost = host
		}
	}
}

func withRunning() update {
	return func(r *types.DetectionResult) { r.Running = true }
}

// withHandshake records what the transport negotiation proved about TLS.
func withHandshake(tlsUsed, corrected bool) update {
	return func(r *types.DetectionResult) {
		switch {
		case corrected:
			r.TLS = types.TLSConfig{Mode: types.TLSModeDisabled, Source: types.TLSSourceHandshake}
		case tlsUsed && !r.TLS.Enabled:
			r.TLS.Enabled = true
			r.TLS.Source = types.TLSSourceHandshake
		}
	}
}

func withServerTLS(tls *types.TLSConfig) update {
	return func(r *types.DetectionResult) {
		if tls != nil {
			r.TLS = *tls
		}
	}
}

func withAuth(state types.AuthState, connected bool) update {
	return func(r *types.DetectionResult) {
		r.Auth = state
		r.ConnectionOK = connected
	}
}

func withError(msg string) update {
	return func(r *types.DetectionResult) { r.Error = msg }
}

func withTopology(t types.TopologyReport) update {
	return func(r *types.DetectionResult) {
		if t.Members == nil {
			t.Members = []types.ReplicaMember{}
		}
		r.Topology = t
	}
}

func withVersion(v string) update {
	return func(r *types.DetectionResult) { r.Version = v }
}

func withPrimary(host string, port int) update {
	return func(r *types.DetectionResult) {
		r.Topology.PrimaryHost = host
		if port > 0 {
			r.Topology.PrimaryPort = port
		}
	}
}
