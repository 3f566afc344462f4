// Package topology inspects the replication layout seen from one node.
package topology

import (
	"context"

	"github.com/peternagy/mongostate/internal/bsonutil"
	"github.com/peternagy/mongostate/internal/connection"
	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/debug"
	"github.com/peternagy/mongostate/internal/types"
)

// HelloReply holds the hello fields topology needs.
type HelloReply struct {
	SetName  string
	Primary  string
	Me       string
	Writable bool
	Hosts    []string
	Passives []string
	Arbiters []string
}

// Inspector reads topology through an open session.
type Inspector struct {
	log *debug.Logger
}

// NewInspector creates an inspector.
func NewInspector(log *debug.Logger) *Inspector {
	return &Inspector{log: log}
}

// Hello runs hello, falling back to the legacy isMaster on servers that do
// not know hello.
func Hello(ctx context.Context, sess connection.Session) (HelloReply, error) {
	res := sess.RunCommand(ctx, "admin", connection.Command("hello"))
	if !res.OK() && connection.IsCommandNotFound(res.Err) {
		res = sess.RunCommand(ctx, "admin", connection.Command("isMaster"))
	}
	if !res.OK() {
		return HelloReply{}, res.Err
	}

	d := res.Doc
	writable := bsonutil.ToBool(d["isWritablePrimary"])
	if _, ok := d["isWritablePrimary"]; !ok {
		writable = bsonutil.ToBool(d["ismaster"])
	}
	return HelloReply{
		SetName:  bsonutil.ToString(d["setName"]),
		Primary:  bsonutil.ToString(d["primary"]),
		Me:       bsonutil.ToString(d["me"]),
		Writable: writable,
		Hosts:    bsonutil.ToStringSlice(d["hosts"]),
		Passives: bsonutil.ToStringSlice(d["passives"]),
		Arbiters: bsonutil.ToStringSlice(d["arbiters"]),
	}, nil
}

// IsWritablePrimary reports whether the node behind sess says it is primary.
func IsWritablePrimary(ctx context.Context, sess connection.Session) (bool, error) {
	h, err := Hello(ctx, sess)
	if err != nil {
		return false, err
	}
	return h.Writable, nil
}

// Inspect builds the topology report. With basicOnly, or when
// replSetGetStatus is refused, members come from hello alone.
// A non-nil error is always KindSoftUnavailable; the report is then empty.
func (i *Inspector) Inspect(ctx context.Context, sess connection.Session, selfHost string, selfPort int, basicOnly bool) (types.TopologyReport, error) {
	report := types.TopologyReport{Members: []types.ReplicaMember{}}

	h, err := Hello(ctx, sess)
	if err != nil {
		i.log.Warn(debug.CategoryTopology, "could not check replication status", map[string]interface{}{
			"error": err.Error(),
		})
		return report, core.NewError(core.KindSoftUnavailable, types.StageTopologyResolved, "could not check replication status", err)
	}

	if h.SetName == "" {
		report.PrimaryHost = selfHost
		report.PrimaryPort = selfPort
		report.IsPrimary = true
		i.log.LogTopology("standalone deployment", nil)
		return report, nil
	}

	report.ReplicationEnabled = true
	report.SetName = h.SetName
	report.IsPrimary = h.Writable
	if h.Primary != "" {
		report.PrimaryHost, report.PrimaryPort = SplitHostPort(h.Primary, selfPort)
	}

	if !basicOnly {
		status := sess.RunCommand(ctx, "admin", connection.Command("replSetGetStatus"))
		if status.OK() {
			var cfg map[string]memberConfig
			if conf := sess.RunCommand(ctx, "admin", connection.Command("replSetGetConfig")); conf.OK() {
				cfg = configByHost(conf.Doc)
			} else {
				i.log.LogTopology("replica set config unavailable", map[string]interface{}{
					"error": conf.Err.Error(),
				})
			}
			report.Members = detailedMembers(status.Doc, cfg)
			report.Detailed = true
			reducePrimaries(report.Members, h.Primary)
			i.logReport(report)
			return report, nil
		}
		i.log.Warn(debug.CategoryTopology, "could not get detailed replica set status", map[string]interface{}{
			"error":        status.Err.Error(),
			"unauthorized": status.Unauthorized(),
		})
	}

	report.Members = basicMembers(h)
	i.logReport(report)
	return report, nil
}

func (i *Inspector) logReport(r types.TopologyReport) {
	i.log.LogTopology("replica set inspected", map[string]interface{}{
		"set":      r.SetName,
		"primary":  r.PrimaryHost,
		"members":  r.MemberCount(),
		"healthy":  r.HealthyMemberCount(),
		"detailed": r.Detailed,
	})
}
