// Package detector runs the detection pipeline: service check, host
// resolution, liveness, auth and topology, folded into one DetectionResult.
package detector

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/peternagy/mongostate/internal/auth"
	"github.com/peternagy/mongostate/internal/config"
	"github.com/peternagy/mongostate/internal/connection"
	"github.com/peternagy/mongostate/internal/debug"
	"github.com/peternagy/mongostate/internal/network"
	"github.com/peternagy/mongostate/internal/service"
	"github.com/peternagy/mongostate/internal/topology"
	"github.com/peternagy/mongostate/internal/types"
)

// Recorder receives run metrics. *metrics.Metrics implements it.
type Recorder interface {
	ObserveStage(stage types.Stage, d time.Duration)
	ObserveProbe(open bool)
	ObserveConnect(tls, ok bool)
	ObserveResult(r types.DetectionResult, err error)
}

type noopRecorder struct{}

func (noopRecorder) ObserveStage(types.Stage, time.Duration)    {}
func (noopRecorder) ObserveProbe(bool)                          {}
func (noopRecorder) ObserveConnect(bool, bool)                  {}
func (noopRecorder) ObserveResult(types.DetectionResult, error) {}

// Deps are the collaborators of a Detector. Zero values select the real
// implementations.
type Deps struct {
	Dialer   connection.Dialer
	Prober   network.Prober
	Runner   service.Runner
	Recorder Recorder
	Log      *debug.Logger
}

// Detector runs detections. It holds no per-run state, so one Detector may
// serve concurrent Detect calls.
type Detector struct {
	dialer   connection.Dialer
	prober   network.Prober
	runner   service.Runner
	recorder Recorder
	log      *debug.Logger
}

// New creates a detector.
func New(deps Deps) *Detector {
	d := &Detector{
		dialer:   deps.Dialer,
		prober:   deps.Prober,
		runner:   deps.Runner,
		recorder: deps.Recorder,
		log:      deps.Log,
	}
	if d.dialer == nil {
		d.dialer = connection.MongoDialer{}
	}
	if d.prober == nil {
		d.prober = network.TCPProber{}
	}
	if d.runner == nil {
		d.runner = service.ExecRunner{}
	}
	if d.recorder == nil {
		d.recorder = noopRecorder{}
	}
	if d.log == nil {
		d.log = debug.Discard()
	}
	return d
}

// Detect runs the pipeline once. The returned error is nil for soft results,
// including "not running" and "auth required" unless opts.FailIfNotRunning
// is set. Otherwise it is a *core.DetectionError, or a
// *core.InvalidOptionError when opts do not validate. The result always
// carries whatever was detected before the pipeline stopped.
func (d *Detector) Detect(ctx context.Context, opts config.Options) (types.DetectionResult, error) {
	if err := opts.Validate(); err != nil {
		return types.DetectionResult{
			Stage:    types.StageFailed,
			Port:     opts.Port,
			Error:    err.Error(),
			Topology: types.TopologyReport{Members: []types.ReplicaMember{}},
		}, err
	}

	r := d.newRun(opts)
	defer r.closeSession()

	err := r.execute(ctx)
	result := r.b.snapshot()
	d.recorder.ObserveResult(result, err)

	r.log.Info(debug.CategoryDetector, "detection finished", map[string]interface{}{
		"stage":   string(result.Stage),
		"running": result.Running,
		"error":   result.Error,
	})
	return result, err
}

func (d *Detector) newRun(opts config.Options) *run {
	runID := uuid.NewString()
	log := d.log.With(map[string]interface{}{
		"run_id": runID,
		"host":   opts.Host,
		"port":   opts.Port,
	})

	neg := connection.NewNegotiator(d.dialer, opts.ConnectTimeoutMS, opts.UseTLS, log)
	neg.Observe(d.recorder.ObserveConnect)

	var creds *connection.Credentials
	if opts.HasCredentials() {
		creds = &connection.Credentials{
			Username:   opts.AdminUser,
			Password:   opts.AdminPassword,
			AuthSource: opts.LoginDatabase,
		}
	}

	return &run{
		opts:      opts,
		creds:     creds,
		log:       log,
		recorder:  d.recorder,
		b:         newBuilder(runID, opts.Port),
		dialer:    d.dialer,
		neg:       neg,
		resolver:  network.NewResolver(d.prober, log),
		checker:   service.NewChecker(d.runner, log),
		auth:      auth.NewDetector(neg, log),
		inspector: topology.NewInspector(log),
	}
}
