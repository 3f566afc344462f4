package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/peternagy/mongostate/internal/auth"
	"github.com/peternagy/mongostate/internal/bsonutil"
	"github.com/peternagy/mongostate/internal/config"
	"github.com/peternagy/mongostate/internal/connection"
	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/debug"
	"github.com/peternagy/mongostate/internal/mongoconf"
	"github.com/peternagy/mongostate/internal/network"
	"github.com/peternagy/mongostate/internal/service"
	"github.com/peternagy/mongostate/internal/topology"
	"github.com/peternagy/mongostate/internal/types"
)

// run is the state of one Detect call.
type run struct {
	opts     config.Options
	creds    *connection.Credentials
	log      *debug.Logger
	recorder Recorder
	b        *builder

	dialer    connection.Dialer
	neg       *connection.Negotiator
	resolver  *network.Resolver
	checker   *service.Checker
	auth      *auth.Detector
	inspector *topology.Inspector

	host      string
	session   connection.Session
	basicOnly bool
}

// stage runs fn and records its duration. On success the result advances to
// next; fn is responsible for moving to FAILED itself.
func (r *run) stage(next types.Stage, fn func() (bool, error)) (bool, error) {
	start := time.Now()
	cont, err := fn()
	r.recorder.ObserveStage(next, time.Since(start))
	if err == nil && cont {
		r.b.advance(next)
	}
	return cont, err
}

func (r *run) execute(ctx context.Context) error {
	steps := []struct {
		stage types.Stage
		fn    func(context.Context) (bool, error)
	}{
		{types.StageServiceChecked, r.checkService},
		{types.StageHostResolved, r.resolveHost},
		{types.StageRunningConfirmed, r.confirmRunning},
		{types.StageAuthResolved, r.resolveAuth},
		{types.StageTopologyResolved, r.resolveTopology},
	}

	for _, s := range steps {
		fn := s.fn
		cont, err := r.stage(s.stage, func() (bool, error) { return fn(ctx) })
		if err != nil || !cont {
			return err
		}
	}

	r.closeSession()
	r.b.advance(types.StageDone)
	return nil
}

func (r *run) closeSession() {
	if r.session == nil {
		return
	}
	r.closeQuietly(r.session)
	r.session = nil
}

// closeQuietly closes sess and logs a failure instead of returning it.
func (r *run) closeQuietly(sess connection.Session) {
	ctx, cancel := core.ContextWithTimeout(context.Background(), core.LivenessTimeout)
	defer cancel()
	if err := sess.Close(ctx); err != nil {
		r.log.Warn(debug.CategoryConnection, "failed to close session", map[string]interface{}{
			"host":  sess.Host(),
			"error": err.Error(),
		})
	}
}

// stopNotRunning ends the pipeline with a NotRunning classification, which
// is only an error in strict mode.
func (r *run) stopNotRunning(stage types.Stage, cause error) error {
	cur := r.b.snapshot()
	msg := notRunningMessage(cur.Service, cur.PortOpen, r.opts.Port, cause)
	r.b.fail(msg)
	r.log.Warn(debug.CategoryDetector, msg, nil)
	if r.opts.FailIfNotRunning {
		return core.NewError(core.KindNotRunning, stage, msg, cause)
	}
	return nil
}

func (r *run) abort(err error) error {
	r.b.fail(err.Error())
	r.log.Error(debug.CategoryDetector, "detection aborted", map[string]interface{}{
		"kind":  string(core.KindOf(err)),
		"error": err.Error(),
	})
	return err
}

func notRunningMessage(svc types.ServiceStatus, portOpen bool, port int, cause error) string {
	msg := "MongoDB is not running"
	switch {
	case svc.Running && !portOpen:
		msg += fmt.Sprintf(" (systemd service is active, but port %d is not accessible. Check MongoDB bind_ip configuration in /etc/mongod.conf)", port)
	case svc.Running:
		msg += " (systemd service is active, but not responding to connections)"
	case svc.Checked && svc.State != "" && svc.State != types.ServiceStateUnknown:
		msg += fmt.Sprintf(" (service state: %s)", svc.State)
	}
	if portOpen && cause != nil {
		msg += fmt.Sprintf(": port open but MongoDB not responding: %v", cause)
	}
	return msg
}

// INIT -> SERVICE_CHECKED
func (r *run) checkService(ctx context.Context) (bool, error) {
	if !r.opts.CheckService {
		return true, nil
	}
	r.b.apply(withService(r.checker.Check(ctx, r.opts.ServiceName)))
	return true, nil
}

// SERVICE_CHECKED -> HOST_RESOLVED
func (r *run) resolveHost(ctx context.Context) (bool, error) {
	settings := mongoconf.Scan(r.opts.ConfigPaths)
	if settings.Path != "" {
		r.log.Log(debug.CategoryConfig, "read mongod config", map[string]interface{}{
			"path":    settings.Path,
			"bind_ip": settings.BindIP(),
		})
	} else {
		r.log.Log(debug.CategoryConfig, "no mongod config file found", map[string]interface{}{
			"paths": r.opts.ConfigPaths,
		})
	}
	fileTLS := settings.TLSConfig()
	r.b.apply(withConfigFile(settings.BindIP(), fileTLS))
	r.neg.ExpectTLS(r.opts.UseTLS || fileTLS.Enabled)

	res := r.resolver.Resolve(ctx, r.opts.Host, r.opts.Port, settings.BindIPs, r.opts.CheckLocal)
	for _, p := range res.Probes {
		r.recorder.ObserveProbe(p.PortOpen)
	}
	r.b.apply(withResolution(res.Host, res.Reachable, res.Probes))

	if !res.Reachable {
		return false, r.stopNotRunning(types.StageHostResolved, nil)
	}
	r.host = res.Host
	return true, nil
}

// HOST_RESOLVED -> RUNNING_CONFIRMED
func (r *run) confirmRunning(ctx context.Context) (bool, error) {
	sess, out, err := r.neg.ConnectWithin(ctx, core.LivenessTimeout, r.host, r.opts.Port, nil)
	if err != nil {
		return false, r.stopNotRunning(types.StageRunningConfirmed, err)
	}
	r.closeQuietly(sess)

	r.b.apply(withRunning(), withHandshake(out.TLSUsed, out.TLSCorrected))
	return true, nil
}

// RUNNING_CONFIRMED -> AUTH_RESOLVED
func (r *run) resolveAuth(ctx context.Context) (bool, error) {
	out, err := r.auth.Detect(ctx, r.host, r.opts.Port, r.creds)
	r.b.apply(
		withAuth(out.State, out.ConnectionOK),
		withHandshake(out.TLSUsed, out.TLSCorrected),
		withServerTLS(out.ServerTLS),
	)
	if err != nil {
		if core.KindOf(err) == core.KindNotRunning {
			return false, r.stopNotRunning(types.StageAuthResolved, err)
		}
		return false, r.abort(err)
	}
	r.noteUnverifiedTLS()

	if out.Session != nil {
		r.session = out.Session
		return true, nil
	}

	// Auth is required and no credentials were supplied.
	msg := "authentication is enabled but no admin credentials provided"
	if r.opts.FailIfNotRunning {
		return false, r.abort(core.NewError(core.KindAuthRequired, types.StageAuthResolved, msg, nil))
	}
	r.b.apply(withError(msg))

	sess, _, err := r.neg.Connect(ctx, r.host, r.opts.Port, nil)
	if err != nil {
		r.log.Warn(debug.CategoryAuth, "could not open unprivileged session for topology", map[string]interface{}{
			"error": err.Error(),
		})
		return true, nil
	}
	r.session = sess
	r.basicOnly = true
	return true, nil
}

func (r *run) noteUnverifiedTLS() {
	cur := r.b.snapshot()
	if cur.TLS.Enabled && r.opts.TLSCertRequirement == config.CertRequired {
		r.log.Log(debug.CategoryConnection, "TLS certificates were not verified during detection", map[string]interface{}{
			"tls_cert_requirement": r.opts.TLSCertRequirement,
		})
	}
}

// AUTH_RESOLVED -> TOPOLOGY_RESOLVED
func (r *run) resolveTopology(ctx context.Context) (bool, error) {
	if r.session == nil {
		return true, nil
	}

	report, err := r.inspector.Inspect(ctx, r.session, r.host, r.opts.Port, r.basicOnly)
	if err == nil {
		r.b.apply(withTopology(report))
	}

	r.b.apply(withVersion(r.version(ctx)))

	if report.ReplicationEnabled && len(r.opts.Hosts) > 0 {
		if host, port, ok := r.findPrimary(ctx); ok {
			r.b.apply(withPrimary(host, port))
		}
	}
	return true, nil
}

func (r *run) version(ctx context.Context) string {
	res := r.session.RunCommand(ctx, "admin", connection.Command("buildInfo"))
	if !res.OK() {
		r.log.Warn(debug.CategoryDetector, "could not get MongoDB version", map[string]interface{}{
			"error": res.Err.Error(),
		})
		return ""
	}
	return bsonutil.ToString(res.Doc["version"])
}

// findPrimary asks each listed host whether it is the writable primary. The
// returned port is 0 when the entry carried no explicit port.
func (r *run) findPrimary(ctx context.Context) (string, int, bool) {
	for _, entry := range r.opts.Hosts {
		host, explicitPort := topology.SplitHostPort(entry, 0)
		port := explicitPort
		if port == 0 {
			port = r.opts.Port
		}

		writable, err := r.askPrimary(ctx, host, port)
		if err != nil {
			r.log.LogTopology("host unreachable during primary scan", map[string]interface{}{
				"candidate": entry,
				"error":     err.Error(),
			})
			continue
		}
		if !writable {
			continue
		}

		r.log.LogTopology("primary found via host list", map[string]interface{}{
			"primary": entry,
		})
		return host, explicitPort, true
	}
	return "", 0, false
}

// askPrimary uses its own negotiator so a plaintext correction on one scanned
// host does not carry over to the next.
func (r *run) askPrimary(ctx context.Context, host string, port int) (bool, error) {
	neg := connection.NewNegotiator(r.dialer, r.opts.ConnectTimeoutMS, r.neg.TLS(), r.log)
	neg.Observe(r.recorder.ObserveConnect)

	sess, _, err := neg.Connect(ctx, host, port, r.creds)
	if err != nil {
		return false, err
	}
	defer r.closeQuietly(sess)

	cctx, cancel := core.ContextWithTimeout(ctx, r.opts.ConnectTimeout())
	defer cancel()
	return topology.IsWritablePrimary(cctx, sess)
}
