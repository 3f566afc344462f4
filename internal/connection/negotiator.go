package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/credential"
	"github.com/peternagy/mongostate/internal/debug"
)

// Outcome describes which transport a successful connect ended up on.
type Outcome struct {
	TLSUsed bool
	// TLSCorrected is set when TLS was expected but only plaintext worked.
	TLSCorrected bool
}

// Negotiator connects to a node, trying TLS first when TLS is expected and
// falling back to plaintext once. It belongs to a single detection run: a
// plaintext correction is remembered for every later connect of that run.
type Negotiator struct {
	dialer    Dialer
	timeoutMS int
	log       *debug.Logger

	tls            bool
	plaintextFixed bool
	observe        func(tls, ok bool)
}

// NewNegotiator creates a negotiator. A nil dialer means MongoDialer.
func NewNegotiator(dialer Dialer, timeoutMS int, useTLS bool, log *debug.Logger) *Negotiator {
	if dialer == nil {
		dialer = MongoDialer{}
	}
	return &Negotiator{dialer: dialer, timeoutMS: timeoutMS, tls: useTLS, log: log}
}

// TLS reports whether the next connect will try TLS first.
func (n *Negotiator) TLS() bool {
	return n.tls
}

// ExpectTLS records TLS detected from config or the server. It has no effect
// once plaintext has been confirmed to work.
func (n *Negotiator) ExpectTLS(enabled bool) {
	if n.plaintextFixed {
		return
	}
	n.tls = enabled
}

// Observe registers fn to be called after every connection attempt.
func (n *Negotiator) Observe(fn func(tls, ok bool)) {
	n.observe = fn
}

// Connect opens a pinged session to host:port. Each attempt gets its own
// connect timeout. The caller owns the session and must close it.
func (n *Negotiator) Connect(ctx context.Context, host string, port int, creds *Credentials) (Session, Outcome, error) {
	return n.ConnectWithin(ctx, 0, host, port, creds)
}

// ConnectWithin is Connect with each attempt bounded by budget instead of the
// connect timeout. A budget above the connect timeout is capped by it.
func (n *Negotiator) ConnectWithin(ctx context.Context, budget time.Duration, host string, port int, creds *Credentials) (Session, Outcome, error) {
	ms := n.attemptMS(budget)
	target := Target{Host: host, Port: port, TLS: n.tls, TimeoutMS: ms, Credentials: creds}

	sess, err := n.attempt(ctx, target)
	if err == nil {
		return sess, Outcome{TLSUsed: target.TLS}, nil
	}
	if !target.TLS {
		return nil, Outcome{}, err
	}

	n.log.LogConnection("TLS connection failed, retrying without TLS", map[string]interface{}{
		"host":  host,
		"port":  port,
		"error": err.Error(),
	})

	target.TLS = false
	sess, plainErr := n.attempt(ctx, target)
	if plainErr != nil {
		return nil, Outcome{}, fmt.Errorf("tls: %w; plaintext: %w", err, plainErr)
	}

	n.tls = false
	n.plaintextFixed = true
	n.log.Warn(debug.CategoryConnection, "TLS expected but server accepted plaintext", map[string]interface{}{
		"host": host,
		"port": port,
	})
	return sess, Outcome{TLSCorrected: true}, nil
}

func (n *Negotiator) attemptMS(budget time.Duration) int {
	ms := n.timeoutMS
	if ms <= 0 {
		ms = int(core.DefaultConnectTimeout / time.Millisecond)
	}
	if b := int(budget / time.Millisecond); b > 0 && b < ms {
		ms = b
	}
	return ms
}

// attempt dials and pings once. The attempt context and the driver's server
// selection share the t.TimeoutMS budget.
func (n *Negotiator) attempt(ctx context.Context, t Target) (sess Session, err error) {
	n.log.LogConnection("connecting", map[string]interface{}{
		"uri": credential.RedactURI(t.URI()),
	})
	defer func() {
		if n.observe != nil {
			n.observe(t.TLS, err == nil)
		}
	}()

	actx, cancel := context.WithTimeout(ctx, time.Duration(t.TimeoutMS)*time.Millisecond)
	defer cancel()

	sess, err = n.dialer.Dial(actx, t)
	if err != nil {
		return nil, err
	}
	if err = sess.Ping(actx); err != nil {
		_ = sess.Close(context.Background())
		return nil, err
	}
	return sess, nil
}
