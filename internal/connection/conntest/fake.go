// Package conntest provides in-memory fakes of connection.Dialer and
// connection.Session for tests.
package conntest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/peternagy/mongostate/internal/connection"
)

// Commands a mongod answers without authentication.
var openCommands = map[string]bool{
	"hello":     true,
	"isMaster":  true,
	"ismaster":  true,
	"ping":      true,
	"buildInfo": true,
}

// Server is a fake mongod.
type Server struct {
	// TLS is the only transport the server accepts.
	TLS bool
	// Users maps usernames to passwords. Auth is enabled when Users is non-nil.
	Users map[string]string
	// Replies per command name.
	Replies map[string]bson.M
	// Errors per command name take precedence over Replies.
	Errors map[string]error
	// PingErr makes every ping fail (port open, mongod not answering).
	PingErr error
	// CloseErr is returned by every session close.
	CloseErr error
	// StallOnMismatch makes a dial over the wrong transport block until the
	// context is done, as server selection in the driver does.
	StallOnMismatch bool
}

// AuthEnabled reports whether the fake requires authentication.
func (s *Server) AuthEnabled() bool {
	return s.Users != nil
}

// Dialer routes targets to fake servers by "host:port".
type Dialer struct {
	mu       sync.Mutex
	Servers  map[string]*Server
	Targets  []connection.Target
	Sessions []*Session
}

// NewDialer creates a dialer with no servers.
func NewDialer() *Dialer {
	return &Dialer{Servers: make(map[string]*Server)}
}

// Add registers a server at host:port.
func (d *Dialer) Add(host string, port int, s *Server) *Dialer {
	d.Servers[Key(host, port)] = s
	return d
}

// Key formats a server key.
func Key(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Dial implements connection.Dialer.
func (d *Dialer) Dial(ctx context.Context, t connection.Target) (connection.Session, error) {
	d.mu.Lock()
	d.Targets = append(d.Targets, t)
	srv, ok := d.Servers[Key(t.Host, t.Port)]
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("server selection error: no server at %s", Key(t.Host, t.Port))
	}
	if srv.TLS != t.TLS {
		if srv.StallOnMismatch {
			<-ctx.Done()
			return nil, fmt.Errorf("server selection error: %w", ctx.Err())
		}
		return nil, errors.New("connection() error occurred during connection handshake: transport mismatch")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if t.Credentials != nil {
		if !srv.AuthEnabled() || srv.Users[t.Credentials.Username] != t.Credentials.Password {
			return nil, mongo.CommandError{Code: connection.CodeAuthenticationFailed, Name: "AuthenticationFailed", Message: "Authentication failed."}
		}
	}

	sess := &Session{server: srv, target: t}
	d.mu.Lock()
	d.Sessions = append(d.Sessions, sess)
	d.mu.Unlock()
	return sess, nil
}

// OpenSessions returns the number of sessions not yet closed.
func (d *Dialer) OpenSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.Sessions {
		if !s.Closed {
			n++
		}
	}
	return n
}

// Session is a fake connection.Session.
type Session struct {
	server   *Server
	target   connection.Target
	Closed   bool
	Commands []string
}

// RunCommand answers from the server's Replies and Errors.
func (s *Session) RunCommand(_ context.Context, _ string, cmd bson.D) connection.CommandResult {
	name := connection.CommandName(cmd)
	s.Commands = append(s.Commands, name)

	if s.Closed {
		return connection.NewResult(nil, errors.New("client is disconnected"))
	}
	if err, ok := s.server.Errors[name]; ok {
		return connection.NewResult(nil, err)
	}
	if s.server.AuthEnabled() && s.target.Credentials == nil && !openCommands[name] {
		return connection.NewResult(nil, Unauthorized(name))
	}
	if reply, ok := s.server.Replies[name]; ok {
		return connection.NewResult(reply, nil)
	}
	return connection.NewResult(nil, mongo.CommandError{Code: 59, Name: "CommandNotFound", Message: "no such command: '" + name + "'"})
}

// Ping fails when the server's PingErr is set.
func (s *Session) Ping(_ context.Context) error {
	return s.server.PingErr
}

// Close marks the session closed.
func (s *Session) Close(_ context.Context) error {
	s.Closed = true
	return s.server.CloseErr
}

func (s *Session) Host() string        { return s.target.Host }
func (s *Session) Port() int           { return s.target.Port }
func (s *Session) TLS() bool           { return s.target.TLS }
func (s *Session) Authenticated() bool { return s.target.Credentials != nil }

// Unauthorized returns the error mongod sends for a command the caller may not run.
func Unauthorized(name string) error {
	return mongo.CommandError{
		Code:    connection.CodeUnauthorized,
		Name:    "Unauthorized",
		Message: "command " + name + " requires authentication",
	}
}

// Failure returns a generic server error.
func Failure(msg string) error {
	return mongo.CommandError{Code: 8, Name: "UnknownError", Message: msg}
}
