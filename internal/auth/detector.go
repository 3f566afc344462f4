// Package auth works out whether a deployment enforces authorization and
// validates supplied admin credentials.
package auth

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/peternagy/mongostate/internal/bsonutil"
	"github.com/peternagy/mongostate/internal/connection"
	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/debug"
	"github.com/peternagy/mongostate/internal/types"
)

// Outcome is the result of auth detection.
type Outcome struct {
	State types.AuthState
	// Required is set when authorization is enabled and no credentials were given.
	Required     bool
	ConnectionOK bool
	// Session is open when ConnectionOK; the caller must close it.
	Session connection.Session
	// ServerTLS holds TLS settings read from the live server, if it allowed it.
	ServerTLS    *types.TLSConfig
	TLSUsed      bool
	TLSCorrected bool
}

// Detector runs the auth probe through a negotiator.
type Detector struct {
	neg *connection.Negotiator
	log *debug.Logger
}

// NewDetector creates a detector.
func NewDetector(neg *connection.Negotiator, log *debug.Logger) *Detector {
	return &Detector{neg: neg, log: log}
}

var listDatabases = bson.D{{Key: "listDatabases", Value: 1}, {Key: "nameOnly", Value: true}}

// Detect connects without credentials and runs listDatabases. Success means
// authorization is off. An authorization rejection means it is on; then, with
// creds, an authenticated session is opened and validated.
//
// Errors are *core.DetectionError: AuthInvalid when creds are rejected,
// UnexpectedServer for other command failures, NotRunning when no session
// could be opened at all.
func (d *Detector) Detect(ctx context.Context, host string, port int, creds *connection.Credentials) (Outcome, error) {
	var out Outcome

	sess, conn, err := d.neg.Connect(ctx, host, port, nil)
	if err != nil {
		return out, core.NewError(core.KindNotRunning, types.StageAuthResolved, "cannot connect to MongoDB", err)
	}
	out.TLSUsed = conn.TLSUsed
	out.TLSCorrected = conn.TLSCorrected

	res := sess.RunCommand(ctx, "admin", listDatabases)
	switch res.Status {
	case connection.StatusOK:
		out.ConnectionOK = true
		out.Session = sess
		out.ServerTLS = ReadServerTLS(ctx, sess, d.log)
		d.log.Log(debug.CategoryAuth, "authorization disabled", nil)
		return out, nil
	case connection.StatusUnauthorized:
		out.State.Enabled = true
		d.close(ctx, sess)
		d.log.Log(debug.CategoryAuth, "authorization enabled", nil)
	default:
		d.close(ctx, sess)
		return out, core.NewError(core.KindUnexpectedServer, types.StageAuthResolved, "MongoDB error", res.Err)
	}

	if creds == nil {
		out.Required = true
		d.log.Warn(debug.CategoryAuth, "authorization enabled but no admin credentials provided", nil)
		return out, nil
	}

	sess, conn, err = d.neg.Connect(ctx, host, port, creds)
	if err != nil {
		return out, core.NewError(core.KindAuthInvalid, types.StageAuthResolved, "cannot connect with provided credentials", err)
	}
	out.TLSUsed = conn.TLSUsed
	out.TLSCorrected = out.TLSCorrected || conn.TLSCorrected
	out.State.Validated = true
	out.ConnectionOK = true
	out.Session = sess
	out.ServerTLS = ReadServerTLS(ctx, sess, d.log)

	d.log.Log(debug.CategoryAuth, "credentials validated", map[string]interface{}{
		"user": creds.Username,
	})
	return out, nil
}

func (d *Detector) close(ctx context.Context, sess connection.Session) {
	if err := sess.Close(ctx); err != nil {
		d.log.Warn(debug.CategoryConnection, "failed to close session", map[string]interface{}{
			"host":  sess.Host(),
			"error": err.Error(),
		})
	}
}

// ReadServerTLS reads net.tls (or legacy net.ssl) from getCmdLineOpts. It
// returns nil when the command is not permitted or the server reports no
// transport block.
func ReadServerTLS(ctx context.Context, sess connection.Session, log *debug.Logger) *types.TLSConfig {
	res := sess.RunCommand(ctx, "admin", connection.Command("getCmdLineOpts"))
	if !res.OK() {
		log.Log(debug.CategoryAuth, "could not read TLS settings from server", map[string]interface{}{
			"error": res.Err.Error(),
		})
		return nil
	}

	net := bsonutil.ToDoc(bsonutil.Lookup(res.Doc, "parsed", "net"))
	if net == nil {
		return nil
	}

	var block bson.M
	var certKey string
	if tls := bsonutil.DocFromMap(net, "tls"); tls != nil {
		block, certKey = tls, "certificateKeyFile"
	} else if ssl := bsonutil.DocFromMap(net, "ssl"); ssl != nil {
		block, certKey = ssl, "PEMKeyFile"
	} else {
		return nil
	}

	mode := types.NormalizeTLSMode(bsonutil.ToString(block["mode"]))
	if mode == "" {
		return nil
	}
	return &types.TLSConfig{
		Enabled:            mode.Enabled(),
		Mode:               mode,
		CertificateKeyFile: bsonutil.ToString(block[certKey]),
		CAFile:             bsonutil.ToString(block["CAFile"]),
		Source:             types.TLSSourceServer,
	}
}
