package topology

import (
	"net"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/peternagy/mongostate/internal/bsonutil"
	"github.com/peternagy/mongostate/internal/types"
)

// DefaultPort is assumed for member names without a port.
const DefaultPort = 27017

// SplitHostPort splits "host:port", returning defPort when no port is given.
func SplitHostPort(name string, defPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(name)
	if err != nil {
		return strings.Trim(name, "[]"), defPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return host, defPort
	}
	return host, port
}

// memberConfig holds replSetGetConfig fields for one member.
type memberConfig struct {
	priority    float64
	votes       int
	hidden      bool
	arbiterOnly bool
}

// configByHost indexes replSetGetConfig members by host.
func configByHost(reply bson.M) map[string]memberConfig {
	out := make(map[string]memberConfig)
	for _, raw := range bsonutil.ToSlice(bsonutil.Lookup(reply, "config", "members")) {
		m := bsonutil.ToDoc(raw)
		if m == nil {
			continue
		}
		cfg := memberConfig{priority: 1, votes: 1}
		if v, ok := m["priority"]; ok && bsonutil.IsNumber(v) {
			cfg.priority = bsonutil.ToFloat64(v)
		}
		if v, ok := m["votes"]; ok && bsonutil.IsNumber(v) {
			cfg.votes = bsonutil.ToInt(v)
		}
		cfg.hidden = bsonutil.ToBool(m["hidden"])
		cfg.arbiterOnly = bsonutil.ToBool(m["arbiterOnly"])
		out[bsonutil.ToString(m["host"])] = cfg
	}
	return out
}

// optimeOf returns the member's last applied optime: optimeDate, or the
// optime.ts timestamp when the date is absent.
func optimeOf(m bson.M) (time.Time, bool) {
	if t, ok := bsonutil.ToTime(m["optimeDate"]); ok {
		return t, true
	}
	return bsonutil.ToTime(bsonutil.Lookup(m, "optime", "ts"))
}

// lagSeconds is max(0, ref-own) in whole seconds, 0 when either is unknown.
func lagSeconds(ref time.Time, hasRef bool, own time.Time, hasOwn bool) int64 {
	if !hasRef || !hasOwn {
		return 0
	}
	lag := int64(ref.Sub(own) / time.Second)
	if lag < 0 {
		return 0
	}
	return lag
}

func formatTime(v interface{}) string {
	if t, ok := bsonutil.ToTime(v); ok {
		return t.Format(time.RFC3339)
	}
	return ""
}

// detailedMembers builds members from replSetGetStatus, merged with
// replSetGetConfig when config is non-nil.
func detailedMembers(status bson.M, config map[string]memberConfig) []types.ReplicaMember {
	raw := bsonutil.ToSlice(status["members"])
	docs := make([]bson.M, 0, len(raw))
	for _, r := range raw {
		if m := bsonutil.ToDoc(r); m != nil {
			docs = append(docs, m)
		}
	}

	var ref time.Time
	var hasRef bool
	for _, m := range docs {
		if types.MemberStateFromString(bsonutil.ToString(m["stateStr"])) == types.MemberPrimary {
			ref, hasRef = optimeOf(m)
			break
		}
	}

	members := make([]types.ReplicaMember, 0, len(docs))
	for _, m := range docs {
		name := bsonutil.ToString(m["name"])
		host, port := SplitHostPort(name, DefaultPort)
		stateStr := bsonutil.ToString(m["stateStr"])
		if stateStr == "" {
			stateStr = "UNKNOWN"
		}
		state := types.MemberStateFromString(stateStr)

		health := bsonutil.ToBool(m["health"])
		uptime := bsonutil.ToInt64(m["uptime"])
		own, hasOwn := optimeOf(m)
		lag := lagSeconds(ref, hasRef, own, hasOwn)
		if state == types.MemberPrimary {
			lag = 0
		}

		member := types.ReplicaMember{
			Name:          name,
			Host:          host,
			Port:          port,
			State:         state,
			StateStr:      stateStr,
			Health:        &health,
			UptimeSeconds: &uptime,
			LagSeconds:    &lag,
			Optime:        formatTime(m["optimeDate"]),
			IsSelf:        bsonutil.ToBool(m["self"]),
		}

		if v, ok := m["lastHeartbeat"]; ok {
			member.LastHeartbeat = formatTime(v)
		}
		if v, ok := m["lastHeartbeatRecv"]; ok {
			member.LastHeartbeatRecv = formatTime(v)
		}
		if v, ok := m["pingMs"]; ok && bsonutil.IsNumber(v) {
			ping := bsonutil.ToInt64(v)
			member.PingMs = &ping
		}
		member.SyncSource = bsonutil.ToString(m["syncSourceHost"])
		if member.SyncSource == "" {
			member.SyncSource = bsonutil.ToString(m["syncingTo"])
		}

		if cfg, ok := config[name]; ok {
			priority, votes, hidden := cfg.priority, cfg.votes, cfg.hidden
			member.Priority = &priority
			member.Votes = &votes
			member.Hidden = &hidden
			if cfg.arbiterOnly {
				member.State = types.MemberArbiter
			}
		}

		setRoleFlags(&member)
		members = append(members, member)
	}
	return members
}

// basicMembers builds members from hello alone. Health, uptime and lag stay nil.
func basicMembers(h HelloReply) []types.ReplicaMember {
	members := make([]types.ReplicaMember, 0, len(h.Hosts)+len(h.Passives)+len(h.Arbiters))
	add := func(name string, state types.MemberState, stateStr string) {
		host, port := SplitHostPort(name, DefaultPort)
		m := types.ReplicaMember{
			Name:     name,
			Host:     host,
			Port:     port,
			State:    state,
			StateStr: stateStr,
			IsSelf:   h.Me != "" && name == h.Me,
		}
		setRoleFlags(&m)
		members = append(members, m)
	}

	for _, name := range h.Hosts {
		if h.Primary != "" && name == h.Primary {
			add(name, types.MemberPrimary, "PRIMARY")
		} else {
			add(name, types.MemberSecondary, "SECONDARY")
		}
	}
	for _, name := range h.Passives {
		add(name, types.MemberSecondary, "SECONDARY")
		var zero float64
		members[len(members)-1].Priority = &zero
	}
	for _, name := range h.Arbiters {
		add(name, types.MemberArbiter, "ARBITER")
	}
	return members
}

func setRoleFlags(m *types.ReplicaMember) {
	m.IsPrimary = m.State == types.MemberPrimary
	m.IsSecondary = m.State == types.MemberSecondary
	m.IsArbiter = m.State == types.MemberArbiter
}

// reducePrimaries keeps at most one healthy primary: the one hello names, or
// the first when hello names none. Others are marked unknown.
func reducePrimaries(members []types.ReplicaMember, helloPrimary string) {
	keep := -1
	count := 0
	for i, m := range members {
		if !m.IsPrimary || !m.Healthy() {
			continue
		}
		count++
		if keep == -1 || (helloPrimary != "" && m.Name == helloPrimary) {
			keep = i
		}
	}
	if count <= 1 {
		return
	}
	for i := range members {
		if i == keep || !members[i].IsPrimary || !members[i].Healthy() {
			continue
		}
		members[i].State = types.MemberUnknown
		setRoleFlags(&members[i])
	}
}
