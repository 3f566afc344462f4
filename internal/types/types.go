// Package types contains shared type definitions used across the mongostate detector.
package types

import "strings"

// =============================================================================
// Host Probing Types
// =============================================================================

// CandidateSource records where a host candidate came from.
type CandidateSource string

const (
	SourceConfigured CandidateSource = "configured"
	SourceLoopback   CandidateSource = "loopback"
	SourceBindConfig CandidateSource = "bind-config"
)

// HostCandidate is an address the resolver will probe.
type HostCandidate struct {
	Address string          `json:"address"`
	Source  CandidateSource `json:"source"`
}

// ProbeResult is the outcome of a single TCP reachability probe.
type ProbeResult struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	PortOpen bool   `json:"portOpen"`
}

// =============================================================================
// Service, TLS and Auth Types
// =============================================================================

// ServiceStateUnknown is reported when the service manager could not be queried.
const ServiceStateUnknown = "unknown"

// ServiceStatus is the service manager's view of the database service.
type ServiceStatus struct {
	Checked bool   `json:"checked"`
	Running bool   `json:"running"`
	Enabled bool   `json:"enabled"`
	State   string `json:"state"` // is-active output, e.g. "active", "inactive", "failed"
}

// TLSMode is the normalized transport encryption requirement.
type TLSMode string

const (
	TLSModeDisabled TLSMode = "disabled"
	TLSModeAllow    TLSMode = "allow"
	TLSModePrefer   TLSMode = "prefer"
	TLSModeRequire  TLSMode = "require"
)

// NormalizeTLSMode maps mongod keywords (requireTLS, preferSSL, disabled, ...)
// onto the four TLSMode values. Unrecognised keywords map to "".
func NormalizeTLSMode(keyword string) TLSMode {
	k := strings.ToLower(strings.TrimSpace(keyword))
	k = strings.Trim(k, `"'`)
	k = strings.TrimSuffix(strings.TrimSuffix(k, "tls"), "ssl")
	switch k {
	case "disabled":
		return TLSModeDisabled
	case "allow":
		return TLSModeAllow
	case "prefer":
		return TLSModePrefer
	case "require":
		return TLSModeRequire
	default:
		return ""
	}
}

// Enabled reports whether the mode accepts encrypted client connections.
func (m TLSMode) Enabled() bool {
	return m == TLSModeAllow || m == TLSModePrefer || m == TLSModeRequire
}

// TLS setting sources.
const (
	TLSSourceConfigFile = "config-file"
	TLSSourceServer     = "server"
	TLSSourceHandshake  = "handshake"
)

// TLSConfig describes transport encryption as detected from the config file
// and, when obtainable, the live server.
type TLSConfig struct {
	Enabled            bool    `json:"enabled"`
	Mode               TLSMode `json:"mode"`
	CertificateKeyFile string  `json:"certificateKeyFile,omitempty"`
	CAFile             string  `json:"caFile,omitempty"`
	Source             string  `json:"source,omitempty"` // which source set the values last
}

// AuthState describes authorization on the target deployment.
// Validated only means something when credentials were supplied and Enabled is true.
type AuthState struct {
	Enabled   bool `json:"enabled"`
	Validated bool `json:"validated"`
}

// =============================================================================
// Topology Types
// =============================================================================

// MemberState is the normalized role of a replica set member.
type MemberState string

const (
	MemberPrimary   MemberState = "primary"
	MemberSecondary MemberState = "secondary"
	MemberArbiter   MemberState = "arbiter"
	MemberUnknown   MemberState = "unknown"
)

// MemberStateFromString maps a replSetGetStatus stateStr onto a MemberState.
func MemberStateFromString(stateStr string) MemberState {
	switch strings.ToUpper(strings.TrimSpace(stateStr)) {
	case "PRIMARY":
		return MemberPrimary
	case "SECONDARY":
		return MemberSecondary
	case "ARBITER":
		return MemberArbiter
	default:
		return MemberUnknown
	}
}

// ReplicaMember describes one member of a replica set.
// Health, uptime and lag are nil when only basic (hello-derived) information was available.
type ReplicaMember struct {
	Name              string      `json:"name"`
	Host              string      `json:"host"`
	Port              int         `json:"port"`
	State             MemberState `json:"state"`
	StateStr          string      `json:"state_str"`
	Health            *bool       `json:"health,omitempty"`
	UptimeSeconds     *int64      `json:"uptime,omitempty"`
	LagSeconds        *int64      `json:"replication_lag,omitempty"`
	Optime            string      `json:"optime,omitempty"`
	IsSelf            bool        `json:"is_self"`
	IsPrimary         bool        `json:"is_primary"`
	IsSecondary       bool        `json:"is_secondary"`
	IsArbiter         bool        `json:"is_arbiter"`
	Priority          *float64    `json:"priority,omitempty"`
	Votes             *int        `json:"votes,omitempty"`
	Hidden            *bool       `json:"hidden,omitempty"`
	LastHeartbeat     string      `json:"last_heartbeat,omitempty"`
	LastHeartbeatRecv string      `json:"last_heartbeat_recv,omitempty"`
	PingMs            *int64      `json:"ping_ms,omitempty"`
	SyncSource        string      `json:"sync_source,omitempty"`
}

// Healthy reports whether the member is known to be healthy.
func (m ReplicaMember) Healthy() bool {
	return m.Health != nil && *m.Health
}

// TopologyReport describes the replication layout seen from the connected node.
type TopologyReport struct {
	ReplicationEnabled bool            `json:"replicationEnabled"`
	SetName            string          `json:"setName"`
	PrimaryHost        string          `json:"primaryHost"`
	PrimaryPort        int             `json:"primaryPort"`
	IsPrimary          bool            `json:"isPrimary"`
	Detailed           bool            `json:"detailed"` // members came from replSetGetStatus
	Members            []ReplicaMember `json:"members"`
}

// MemberCount returns the number of members.
func (t TopologyReport) MemberCount() int {
	return len(t.Members)
}

// HealthyMemberCount returns the number of members known to be healthy.
func (t TopologyReport) HealthyMemberCount() int {
	n := 0
	for _, m := range t.Members {
		if m.Healthy() {
			n++
		}
	}
	return n
}

// =============================================================================
// Detection Result
// =============================================================================

// Stage is a step of the detection pipeline.
type Stage string

const (
	StageInit             Stage = "INIT"
	StageServiceChecked   Stage = "SERVICE_CHECKED"
	StageHostResolved     Stage = "HOST_RESOLVED"
	StageRunningConfirmed Stage = "RUNNING_CONFIRMED"
	StageAuthResolved     Stage = "AUTH_RESOLVED"
	StageTopologyResolved Stage = "TOPOLOGY_RESOLVED"
	StageDone             Stage = "DONE"
	StageFailed           Stage = "FAILED"
)

// DetectionResult is the aggregate produced by one detection run.
type DetectionResult struct {
	RunID         string         `json:"runId"`
	Stage         Stage          `json:"stage"`
	Running       bool           `json:"running"`
	PortOpen      bool           `json:"portOpen"`
	ReachableHost string         `json:"reachableHost"`
	Port          int            `json:"port"`
	BindIP        string         `json:"bindIp"`
	Probes        []ProbeResult  `json:"probes,omitempty"`
	Service       ServiceStatus  `json:"service"`
	Auth          AuthState      `json:"auth"`
	TLS           TLSConfig      `json:"tls"`
	Topology      TopologyReport `json:"topology"`
	Version       string         `json:"version"`
	ConnectionOK  bool           `json:"connectionOk"`
	Error         string         `json:"error,omitempty"`
}

// Clone returns a deep copy so the caller cannot alias pipeline-owned slices.
func (r DetectionResult) Clone() DetectionResult {
	out := r
	if r.Probes != nil {
		out.Probes = append([]ProbeResult(nil), r.Probes...)
	}
	if r.Topology.Members != nil {
		out.Topology.Members = append([]ReplicaMember(nil), r.Topology.Members...)
	}
	return out
}
