package network

import (
	"context"
	"time"

	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/debug"
	"github.com/peternagy/mongostate/internal/types"
)

// Loopback names tried when local candidates are enabled.
const (
	LoopbackName    = "localhost"
	LoopbackLiteral = "127.0.0.1"
)

// Resolution is the outcome of a host resolution pass.
type Resolution struct {
	Host       string
	Reachable  bool
	Candidates []types.HostCandidate
	Probes     []types.ProbeResult
}

// Resolver picks the best reachable host from the configured host, loopback
// variants and config-file bind addresses.
type Resolver struct {
	prober  Prober
	timeout time.Duration
	log     *debug.Logger
}

// NewResolver creates a resolver. A nil prober means TCPProber.
func NewResolver(prober Prober, log *debug.Logger) *Resolver {
	if prober == nil {
		prober = TCPProber{}
	}
	return &Resolver{prober: prober, timeout: core.ProbeTimeout, log: log}
}

// Candidates builds the ordered, deduplicated candidate list. Without
// tryLocal only the configured host is a candidate.
func Candidates(configured string, bindIPs []string, tryLocal bool) []types.HostCandidate {
	seen := make(map[string]bool)
	var out []types.HostCandidate
	add := func(addr string, src types.CandidateSource) {
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, types.HostCandidate{Address: addr, Source: src})
	}

	add(configured, types.SourceConfigured)
	if !tryLocal {
		return out
	}
	add(LoopbackName, types.SourceLoopback)
	add(LoopbackLiteral, types.SourceLoopback)
	for _, ip := range bindIPs {
		add(ip, types.SourceBindConfig)
	}
	return out
}

// Resolve probes every candidate on port and selects one: localhost first,
// then 127.0.0.1, then the first reachable candidate in probe order.
func (r *Resolver) Resolve(ctx context.Context, configured string, port int, bindIPs []string, tryLocal bool) Resolution {
	res := Resolution{Candidates: Candidates(configured, bindIPs, tryLocal)}

	var reachable []string
	for _, c := range res.Candidates {
		p := r.prober.Probe(ctx, c.Address, port, r.timeout)
		res.Probes = append(res.Probes, p)
		r.log.LogProbe("probed candidate", map[string]interface{}{
			"address": c.Address,
			"source":  string(c.Source),
			"port":    port,
			"open":    p.PortOpen,
		})
		if p.PortOpen {
			reachable = append(reachable, c.Address)
		}
	}

	if len(reachable) == 0 {
		return res
	}

	res.Reachable = true
	res.Host = reachable[0]
	for _, preferred := range []string{LoopbackName, LoopbackLiteral} {
		if contains(reachable, preferred) {
			res.Host = preferred
			break
		}
	}
	return res
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
