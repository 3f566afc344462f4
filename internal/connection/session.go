// Package connection opens single-node MongoDB sessions and runs admin commands.
package connection

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/peternagy/mongostate/internal/credential"
)

// Credentials authenticate a session. A nil *Credentials means unauthenticated.
type Credentials struct {
	Username   string
	Password   string `json:"-"`
	AuthSource string
}

// Target is one connection attempt.
type Target struct {
	Host        string
	Port        int
	TLS         bool
	TimeoutMS   int
	Credentials *Credentials
}

// URI returns the connection string for the target.
func (t Target) URI() string {
	p := credential.URIParams{
		Host:      t.Host,
		Port:      t.Port,
		TLS:       t.TLS,
		TimeoutMS: t.TimeoutMS,
	}
	if t.Credentials != nil {
		p.Username = t.Credentials.Username
		p.Password = t.Credentials.Password
		p.AuthSource = t.Credentials.AuthSource
	}
	return credential.BuildURI(p)
}

// Session is an open connection to one node.
type Session interface {
	RunCommand(ctx context.Context, db string, cmd bson.D) CommandResult
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	Host() string
	Port() int
	TLS() bool
	Authenticated() bool
}

// Dialer opens sessions. The returned session has not been pinged.
type Dialer interface {
	Dial(ctx context.Context, t Target) (Session, error)
}

// MongoDialer dials with the official driver.
type MongoDialer struct{}

// Dial connects a client to the target.
func (MongoDialer) Dial(ctx context.Context, t Target) (Session, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(t.URI()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &mongoSession{client: client, target: t}, nil
}

type mongoSession struct {
	client *mongo.Client
	target Target
}

func (s *mongoSession) RunCommand(ctx context.Context, db string, cmd bson.D) CommandResult {
	var doc bson.M
	err := s.client.Database(db).RunCommand(ctx, cmd).Decode(&doc)
	if err != nil {
		err = commandError(CommandName(cmd), err)
	}
	return NewResult(doc, err)
}

func (s *mongoSession) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	return nil
}

func (s *mongoSession) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *mongoSession) Host() string        { return s.target.Host }
func (s *mongoSession) Port() int           { return s.target.Port }
func (s *mongoSession) TLS() bool           { return s.target.TLS }
func (s *mongoSession) Authenticated() bool { return s.target.Credentials != nil }
