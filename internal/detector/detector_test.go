package detector

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/peternagy/mongostate/internal/config"
	"github.com/peternagy/mongostate/internal/connection/conntest"
	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/debug"
	"github.com/peternagy/mongostate/internal/metrics"
	"github.com/peternagy/mongostate/internal/service"
	"github.com/peternagy/mongostate/internal/types"
)

// openProber reports the listed hosts as listening.
type openProber map[string]bool

func (p openProber) Probe(_ context.Context, host string, port int, _ time.Duration) types.ProbeResult {
	return types.ProbeResult{Host: host, Port: port, PortOpen: p[host]}
}

type fakeRunner map[string]service.CommandResult

func (f fakeRunner) Run(_ context.Context, _ string, args ...string) (service.CommandResult, error) {
	res, ok := f[args[0]]
	if !ok {
		return service.CommandResult{ExitCode: -1}, errors.New("systemctl not found")
	}
	return res, nil
}

func baseOptions(t *testing.T) config.Options {
	o := config.Default()
	o.CheckService = false
	o.ConfigPaths = []string{filepath.Join(t.TempDir(), "missing.conf")}
	return o
}

func standalone() *conntest.Server {
	return &conntest.Server{Replies: map[string]bson.M{
		"listDatabases": {"databases": bson.A{}, "ok": 1.0},
		"hello":         {"isWritablePrimary": true, "ok": 1.0},
		"buildInfo":     {"version": "7.0.5", "ok": 1.0},
	}}
}

func newDetector(d *conntest.Dialer, p openProber, deps ...func(*Deps)) *Detector {
	dp := Deps{Dialer: d, Prober: p, Runner: fakeRunner{}, Log: debug.Discard()}
	for _, fn := range deps {
		fn(&dp)
	}
	return New(dp)
}

func TestDetect_StandaloneNoAuth(t *testing.T) {
	d := conntest.NewDialer().Add("localhost", 27017, standalone())
	det := newDetector(d, openProber{"localhost": true, "127.0.0.1": true})

	r, err := det.Detect(context.Background(), baseOptions(t))
	require.NoError(t, err)

	assert.Equal(t, types.StageDone, r.Stage)
	assert.True(t, r.Running)
	assert.True(t, r.PortOpen)
	assert.Equal(t, "localhost", r.ReachableHost)
	assert.True(t, r.ConnectionOK)
	assert.False(t, r.Auth.Enabled)
	assert.False(t, r.Topology.ReplicationEnabled)
	assert.Equal(t, "localhost", r.Topology.PrimaryHost)
	assert.Equal(t, 27017, r.Topology.PrimaryPort)
	assert.True(t, r.Topology.IsPrimary)
	assert.Empty(t, r.Topology.Members)
	assert.Equal(t, "7.0.5", r.Version)
	assert.Empty(t, r.Error)
	assert.NotEmpty(t, r.RunID)
	assert.Zero(t, d.OpenSessions(), "every session is closed")

	rep := r.Report()
	assert.NotNil(t, rep.Members)
	assert.Equal(t, "localhost", rep.ConnectionHost)
}

func replicaNode(writable bool) *conntest.Server {
	return &conntest.Server{Replies: map[string]bson.M{
		"listDatabases": {"ok": 1.0},
		"hello": {
			"setName":           "rs0",
			"isWritablePrimary": writable,
			"primary":           "db1:27017",
			"hosts":             bson.A{"db1:27017", "db2:27017", "db3:27019"},
			"ok":                1.0,
		},
		"buildInfo": {"version": "6.0.12", "ok": 1.0},
		"replSetGetStatus": {"members": bson.A{
			bson.M{"name": "db1:27017", "stateStr": "SECONDARY", "health": 0.0},
			bson.M{"name": "db2:27017", "stateStr": "SECONDARY", "health": 1.0, "self": true},
			bson.M{"name": "db3:27019", "stateStr": "PRIMARY", "health": 1.0},
		}, "ok": 1.0},
	}}
}

func TestDetect_ReplicaSetPrimaryFromHostList(t *testing.T) {
	d := conntest.NewDialer().
		Add("db2", 27017, replicaNode(false)).
		Add("db3", 27019, replicaNode(true))
	det := newDetector(d, openProber{"db2": true})

	o := baseOptions(t)
	o.Host = "db2"
	o.CheckLocal = false
	o.Hosts = []string{"db1", "db3:27019"}

	r, err := det.Detect(context.Background(), o)
	require.NoError(t, err)

	assert.True(t, r.Topology.ReplicationEnabled)
	assert.Equal(t, "rs0", r.Topology.SetName)
	assert.False(t, r.Topology.IsPrimary)
	assert.Equal(t, "db3", r.Topology.PrimaryHost, "hello reported a stale primary")
	assert.Equal(t, 27019, r.Topology.PrimaryPort)
	assert.Equal(t, 3, r.Topology.MemberCount())
	assert.Equal(t, 2, r.Topology.HealthyMemberCount())
	assert.Zero(t, d.OpenSessions())
}

func TestDetect_HostListWithoutPortKeepsPrimaryPort(t *testing.T) {
	d := conntest.NewDialer().
		Add("db2", 27017, replicaNode(false)).
		Add("db1", 27017, replicaNode(true))
	det := newDetector(d, openProber{"db2": true})

	o := baseOptions(t)
	o.Host = "db2"
	o.CheckLocal = false
	o.Hosts = []string{"db1"}

	r, err := det.Detect(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "db1", r.Topology.PrimaryHost)
	assert.Equal(t, 27017, r.Topology.PrimaryPort)
}

func TestDetect_NothingListening(t *testing.T) {
	d := conntest.NewDialer()
	det := newDetector(d, openProber{})

	r, err := det.Detect(context.Background(), baseOptions(t))
	require.NoError(t, err, "not running is soft by default")

	assert.Equal(t, types.StageFailed, r.Stage)
	assert.False(t, r.Running)
	assert.False(t, r.PortOpen)
	assert.Empty(t, r.ReachableHost)
	assert.NotNil(t, r.Topology.Members)
	assert.Empty(t, r.Topology.Members)
	assert.Equal(t, "MongoDB is not running", r.Error)
	assert.Len(t, r.Probes, 2)
	assert.Empty(t, d.Targets, "no connection attempted")
}

func TestDetect_NothingListeningStrict(t *testing.T) {
	det := newDetector(conntest.NewDialer(), openProber{})

	o := baseOptions(t)
	o.FailIfNotRunning = true

	r, err := det.Detect(context.Background(), o)
	require.Error(t, err)
	assert.Equal(t, core.KindNotRunning, core.KindOf(err))
	assert.False(t, r.Running)
	assert.NotEmpty(t, r.Error)
}

func TestDetect_ServiceActiveButPortClosed(t *testing.T) {
	det := newDetector(conntest.NewDialer(), openProber{}, func(dp *Deps) {
		dp.Runner = fakeRunner{
			"is-active":  {Output: "active"},
			"is-enabled": {Output: "enabled"},
		}
	})

	o := baseOptions(t)
	o.CheckService = true

	r, err := det.Detect(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, r.Service.Running)
	assert.True(t, r.Service.Enabled)
	assert.Equal(t, "active", r.Service.State)
	assert.Contains(t, r.Error, "systemd service is active, but port 27017 is not accessible")
}

func TestDetect_ServiceStateReported(t *testing.T) {
	det := newDetector(conntest.NewDialer(), openProber{}, func(dp *Deps) {
		dp.Runner = fakeRunner{
			"is-active":  {Output: "failed", ExitCode: 3},
			"is-enabled": {Output: "enabled"},
		}
	})

	o := baseOptions(t)
	o.CheckService = true

	r, err := det.Detect(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "MongoDB is not running (service state: failed)", r.Error)
}

func TestDetect_PortOpenButNotResponding(t *testing.T) {
	d := conntest.NewDialer().Add("localhost", 27017, &conntest.Server{PingErr: errors.New("socket was unexpectedly closed")})
	det := newDetector(d, openProber{"localhost": true})

	r, err := det.Detect(context.Background(), baseOptions(t))
	require.NoError(t, err)
	assert.True(t, r.PortOpen)
	assert.False(t, r.Running)
	assert.Equal(t, types.StageFailed, r.Stage)
	assert.Contains(t, r.Error, "port open but MongoDB not responding")
	assert.Contains(t, r.Error, "socket was unexpectedly closed")
	assert.Zero(t, d.OpenSessions())
}

func TestDetect_TLSFallbackCorrectsTLS(t *testing.T) {
	d := conntest.NewDialer().Add("localhost", 27017, standalone())
	det := newDetector(d, openProber{"localhost": true})

	o := baseOptions(t)
	o.UseTLS = true

	r, err := det.Detect(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, r.Running)
	assert.False(t, r.TLS.Enabled)
	assert.Equal(t, types.TLSModeDisabled, r.TLS.Mode)

	for _, tgt := range d.Targets[2:] {
		assert.False(t, tgt.TLS, "plaintext is remembered after the correction")
	}
}

func TestDetect_TLSFallbackWhenTLSAttemptStalls(t *testing.T) {
	srv := standalone()
	srv.StallOnMismatch = true
	d := conntest.NewDialer().Add("localhost", 27017, srv)
	det := newDetector(d, openProber{"localhost": true})

	o := baseOptions(t)
	o.UseTLS = true
	o.ConnectTimeoutMS = 200

	start := time.Now()
	r, err := det.Detect(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, types.StageDone, r.Stage)
	assert.True(t, r.Running)
	assert.True(t, r.ConnectionOK)
	assert.False(t, r.TLS.Enabled)
	assert.Empty(t, r.Error)
	assert.Less(t, time.Since(start), 3*time.Second)

	require.GreaterOrEqual(t, len(d.Targets), 2)
	assert.True(t, d.Targets[0].TLS)
	assert.Equal(t, 200, d.Targets[0].TimeoutMS)
	assert.False(t, d.Targets[1].TLS)
}

func TestDetect_PrimaryScanNegotiatesEachHost(t *testing.T) {
	db2 := replicaNode(false)
	db2.TLS = true
	db3 := replicaNode(true)
	db3.TLS = true
	d := conntest.NewDialer().
		Add("db2", 27017, db2).
		Add("db1", 27017, replicaNode(false)).
		Add("db3", 27019, db3)
	det := newDetector(d, openProber{"db2": true})

	o := baseOptions(t)
	o.Host = "db2"
	o.CheckLocal = false
	o.UseTLS = true
	o.Hosts = []string{"db1", "db3:27019"}

	r, err := det.Detect(context.Background(), o)
	require.NoError(t, err)

	assert.True(t, r.TLS.Enabled, "a plaintext scan host does not correct the run")
	assert.Equal(t, "db3", r.Topology.PrimaryHost)
	assert.Equal(t, 27019, r.Topology.PrimaryPort)
	assert.Zero(t, d.OpenSessions())
}

func TestDetect_UnverifiedTLSNoteIsDebugOnly(t *testing.T) {
	for _, level := range []string{"warn", "debug"} {
		t.Run(level, func(t *testing.T) {
			srv := standalone()
			srv.TLS = true
			d := conntest.NewDialer().Add("localhost", 27017, srv)

			var buf bytes.Buffer
			det := newDetector(d, openProber{"localhost": true}, func(dp *Deps) {
				dp.Log = debug.New(&buf, level, debug.FormatText)
			})

			o := baseOptions(t)
			o.UseTLS = true
			r, err := det.Detect(context.Background(), o)
			require.NoError(t, err)
			require.True(t, r.TLS.Enabled)

			if level == "debug" {
				assert.Contains(t, buf.String(), "TLS certificates were not verified")
			} else {
				assert.NotContains(t, buf.String(), "TLS certificates were not verified")
			}
		})
	}
}

func TestDetect_CloseFailureIsLogged(t *testing.T) {
	srv := standalone()
	srv.CloseErr = errors.New("connection reset")
	d := conntest.NewDialer().Add("localhost", 27017, srv)

	var buf bytes.Buffer
	det := newDetector(d, openProber{"localhost": true}, func(dp *Deps) {
		dp.Log = debug.New(&buf, "warn", debug.FormatText)
	})

	r, err := det.Detect(context.Background(), baseOptions(t))
	require.NoError(t, err)
	assert.True(t, r.Running)
	assert.Equal(t, types.StageDone, r.Stage)
	assert.GreaterOrEqual(t, strings.Count(buf.String(), "failed to close session"), 2,
		"liveness session and run session")
}

func TestDetect_TLSFromConfigThenServer(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "mongod.conf")
	require.NoError(t, os.WriteFile(conf, []byte(`net:
  bindIp: 127.0.0.1,10.0.0.5
  tls:
    mode: preferTLS
    certificateKeyFile: /etc/ssl/file.pem
`), 0644))

	srv := standalone()
	srv.TLS = true
	srv.Replies["getCmdLineOpts"] = bson.M{"parsed": bson.M{"net": bson.M{"tls": bson.M{
		"mode":               "requireTLS",
		"certificateKeyFile": "/etc/ssl/server.pem",
		"CAFile":             "/etc/ssl/ca.pem",
	}}}, "ok": 1.0}
	d := conntest.NewDialer().Add("localhost", 27017, srv)
	det := newDetector(d, openProber{"localhost": true, "10.0.0.5": true})

	o := baseOptions(t)
	o.ConfigPaths = []string{conf}

	r, err := det.Detect(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1,10.0.0.5", r.BindIP)
	assert.True(t, r.TLS.Enabled)
	assert.Equal(t, types.TLSModeRequire, r.TLS.Mode, "live server wins over the file")
	assert.Equal(t, "/etc/ssl/server.pem", r.TLS.CertificateKeyFile)
	assert.Equal(t, types.TLSSourceServer, r.TLS.Source)
	for _, tgt := range d.Targets {
		assert.True(t, tgt.TLS)
	}

	rep := r.Report()
	assert.Equal(t, "/etc/ssl/ca.pem", rep.TLSCAFile)
}

func authServer() *conntest.Server {
	srv := replicaNode(true)
	srv.Users = map[string]string{"admin": "pw"}
	return srv
}

func TestDetect_AuthRequiredWithoutCredentials(t *testing.T) {
	d := conntest.NewDialer().Add("localhost", 27017, authServer())
	det := newDetector(d, openProber{"localhost": true})

	r, err := det.Detect(context.Background(), baseOptions(t))
	require.NoError(t, err)

	assert.Equal(t, types.StageDone, r.Stage)
	assert.True(t, r.Running)
	assert.True(t, r.Auth.Enabled)
	assert.False(t, r.Auth.Validated)
	assert.False(t, r.ConnectionOK)
	assert.Contains(t, r.Error, "no admin credentials")

	assert.True(t, r.Topology.ReplicationEnabled, "hello is still readable")
	assert.False(t, r.Topology.Detailed)
	assert.Len(t, r.Topology.Members, 3)
	assert.Zero(t, r.Topology.HealthyMemberCount())
	assert.Equal(t, "6.0.12", r.Version)
	assert.Zero(t, d.OpenSessions())
}

func TestDetect_AuthRequiredStrict(t *testing.T) {
	d := conntest.NewDialer().Add("localhost", 27017, authServer())
	det := newDetector(d, openProber{"localhost": true})

	o := baseOptions(t)
	o.FailIfNotRunning = true

	r, err := det.Detect(context.Background(), o)
	require.Error(t, err)
	assert.Equal(t, core.KindAuthRequired, core.KindOf(err))
	assert.Equal(t, types.StageFailed, r.Stage)
	assert.True(t, r.Auth.Enabled)
	assert.Zero(t, d.OpenSessions())
}

func TestDetect_ValidCredentials(t *testing.T) {
	d := conntest.NewDialer().Add("localhost", 27017, authServer())
	det := newDetector(d, openProber{"localhost": true})

	o := baseOptions(t)
	o.AdminUser = "admin"
	o.AdminPassword = "pw"

	r, err := det.Detect(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, types.AuthState{Enabled: true, Validated: true}, r.Auth)
	assert.True(t, r.ConnectionOK)
	assert.True(t, r.Topology.Detailed)
	assert.Equal(t, 2, r.Topology.HealthyMemberCount())
	assert.Empty(t, r.Error)
	assert.Zero(t, d.OpenSessions())

	var authed int
	for _, tgt := range d.Targets {
		if tgt.Credentials != nil {
			authed++
			assert.Equal(t, "admin", tgt.Credentials.AuthSource)
		}
	}
	assert.Equal(t, 1, authed)
}

func TestDetect_InvalidCredentials(t *testing.T) {
	d := conntest.NewDialer().Add("localhost", 27017, authServer())
	det := newDetector(d, openProber{"localhost": true})

	o := baseOptions(t)
	o.AdminUser = "admin"
	o.AdminPassword = "wrong"

	r, err := det.Detect(context.Background(), o)
	require.Error(t, err)

	var de *core.DetectionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, core.KindAuthInvalid, de.Kind)
	assert.True(t, de.Fatal())
	assert.Equal(t, types.StageFailed, r.Stage)
	assert.True(t, r.Running)
	assert.True(t, r.Auth.Enabled)
	assert.False(t, r.Auth.Validated)
	assert.Contains(t, r.Error, "cannot connect with provided credentials")
	assert.Zero(t, d.OpenSessions())
}

func TestDetect_UnexpectedServerError(t *testing.T) {
	srv := standalone()
	srv.Errors = map[string]error{"listDatabases": conntest.Failure("not master and slaveOk=false")}
	d := conntest.NewDialer().Add("localhost", 27017, srv)
	det := newDetector(d, openProber{"localhost": true})

	_, err := det.Detect(context.Background(), baseOptions(t))
	require.Error(t, err)
	assert.Equal(t, core.KindUnexpectedServer, core.KindOf(err))
}

func TestDetect_VersionFailureIsSoft(t *testing.T) {
	srv := standalone()
	srv.Errors = map[string]error{"buildInfo": conntest.Failure("boom")}
	d := conntest.NewDialer().Add("localhost", 27017, srv)
	det := newDetector(d, openProber{"localhost": true})

	r, err := det.Detect(context.Background(), baseOptions(t))
	require.NoError(t, err)
	assert.Empty(t, r.Version)
	assert.Equal(t, types.StageDone, r.Stage)
}

func TestDetect_Idempotent(t *testing.T) {
	d := conntest.NewDialer().Add("localhost", 27017, replicaNode(true))
	det := newDetector(d, openProber{"localhost": true})
	o := baseOptions(t)

	first, err := det.Detect(context.Background(), o)
	require.NoError(t, err)
	second, err := det.Detect(context.Background(), o)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	first.RunID, second.RunID = "", ""
	assert.Equal(t, first, second)
}

func TestDetect_InvalidOptions(t *testing.T) {
	det := newDetector(conntest.NewDialer(), openProber{})
	o := baseOptions(t)
	o.Port = 0

	r, err := det.Detect(context.Background(), o)
	var invalid *core.InvalidOptionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, types.StageFailed, r.Stage)
	assert.NotNil(t, r.Topology.Members)
}

func TestDetect_RecordsMetrics(t *testing.T) {
	m := metrics.New(false)
	d := conntest.NewDialer().Add("localhost", 27017, standalone())
	det := newDetector(d, openProber{"localhost": true}, func(dp *Deps) { dp.Recorder = m })

	_, err := det.Detect(context.Background(), baseOptions(t))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(metrics.OutcomeOK, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Running))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Probes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Probes.WithLabelValues("failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Connects.WithLabelValues("plaintext", "success")))
	assert.Equal(t, 5, testutil.CollectAndCount(m.StageDuration))
}

func TestDetect_LagReportedForReplicaMembers(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := replicaNode(true)
	srv.Replies["replSetGetStatus"] = bson.M{"members": bson.A{
		bson.M{"name": "db1:27017", "stateStr": "PRIMARY", "health": 1.0, "optimeDate": primitive.NewDateTimeFromTime(now)},
		bson.M{"name": "db2:27017", "stateStr": "SECONDARY", "health": 1.0, "optimeDate": primitive.NewDateTimeFromTime(now.Add(-30 * time.Second))},
	}, "ok": 1.0}
	d := conntest.NewDialer().Add("localhost", 27017, srv)
	det := newDetector(d, openProber{"localhost": true})

	r, err := det.Detect(context.Background(), baseOptions(t))
	require.NoError(t, err)
	require.Len(t, r.Topology.Members, 2)
	assert.Equal(t, int64(0), *r.Topology.Members[0].LagSeconds)
	assert.Equal(t, int64(30), *r.Topology.Members[1].LagSeconds)
}
