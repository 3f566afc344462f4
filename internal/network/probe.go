// Package network probes TCP reachability and picks the host mongod answers on.
package network

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/types"
)

// Prober tests whether host:port accepts TCP connections.
type Prober interface {
	Probe(ctx context.Context, host string, port int, timeout time.Duration) types.ProbeResult
}

// TCPProber dials with a bounded timeout.
type TCPProber struct{}

// Probe returns PortOpen=true only on a successful connect. Resolution
// errors, timeouts and refusals all yield false.
func (TCPProber) Probe(ctx context.Context, host string, port int, timeout time.Duration) types.ProbeResult {
	result := types.ProbeResult{Host: host, Port: port}
	if host == "" || port <= 0 {
		return result
	}
	if timeout <= 0 {
		timeout = core.ProbeTimeout
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return result
	}
	_ = conn.Close()

	result.PortOpen = true
	return result
}

// Probe is a convenience wrapper around TCPProber.
func Probe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	return TCPProber{}.Probe(ctx, host, port, timeout).PortOpen
}
