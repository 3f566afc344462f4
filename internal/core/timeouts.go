// Package core provides shared timeouts and the failure taxonomy of the detector.
package core

import (
	"context"
	"time"
)

// ProbeTimeout bounds a single TCP reachability probe.
const ProbeTimeout = 3 * time.Second

// ServiceTimeout bounds each service manager query.
const ServiceTimeout = 5 * time.Second

// LivenessTimeout bounds the ping used to confirm mongod is answering.
const LivenessTimeout = 3 * time.Second

// DefaultConnectTimeout is the default timeout for connection attempts and commands.
const DefaultConnectTimeout = 5 * time.Second

// ContextWithTimeout derives a context bounded by d. A non-positive d falls
// back to DefaultConnectTimeout.
func ContextWithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultConnectTimeout
	}
	return context.WithTimeout(parent, d)
}
