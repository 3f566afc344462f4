package types

import "encoding/json"

// Report is the flat, externally visible form of a DetectionResult.
type Report struct {
	Running               bool            `json:"running"`
	PortOpen              bool            `json:"port_open"`
	ConnectionHost        string          `json:"connection_host"`
	BindIP                string          `json:"bind_ip"`
	ServiceRunning        bool            `json:"service_running"`
	ServiceEnabled        bool            `json:"service_enabled"`
	ServiceState          string          `json:"service_state"`
	AuthEnabled           bool            `json:"auth_enabled"`
	AuthValid             bool            `json:"auth_valid"`
	TLSEnabled            bool            `json:"tls_enabled"`
	TLSMode               string          `json:"tls_mode"`
	TLSCertificateKeyFile string          `json:"tls_certificate_key_file,omitempty"`
	TLSCAFile             string          `json:"tls_ca_file,omitempty"`
	ReplicationEnabled    bool            `json:"replication_enabled"`
	ReplicaSetName        string          `json:"replica_set_name"`
	PrimaryHost           string          `json:"primary_host"`
	PrimaryPort           int             `json:"primary_port"`
	IsPrimary             bool            `json:"is_primary"`
	Version               string          `json:"version"`
	Members               []ReplicaMember `json:"members"`
	MemberCount           int             `json:"member_count"`
	HealthyMembers        int             `json:"healthy_members"`
	ConnectionSuccessful  bool            `json:"connection_successful"`
	Error                 string          `json:"error"`
}

// Report flattens the result into the external report shape.
// TLS file paths are only reported while TLS is enabled.
func (r DetectionResult) Report() Report {
	members := r.Topology.Members
	if members == nil {
		members = []ReplicaMember{}
	}
	rep := Report{
		Running:              r.Running,
		PortOpen:             r.PortOpen,
		ConnectionHost:       r.ReachableHost,
		BindIP:               r.BindIP,
		ServiceRunning:       r.Service.Running,
		ServiceEnabled:       r.Service.Enabled,
		ServiceState:         r.Service.State,
		AuthEnabled:          r.Auth.Enabled,
		AuthValid:            r.Auth.Validated,
		TLSEnabled:           r.TLS.Enabled,
		TLSMode:              string(r.TLS.Mode),
		ReplicationEnabled:   r.Topology.ReplicationEnabled,
		ReplicaSetName:       r.Topology.SetName,
		PrimaryHost:          r.Topology.PrimaryHost,
		PrimaryPort:          r.Topology.PrimaryPort,
		IsPrimary:            r.Topology.IsPrimary,
		Version:              r.Version,
		Members:              members,
		MemberCount:          r.Topology.MemberCount(),
		HealthyMembers:       r.Topology.HealthyMemberCount(),
		ConnectionSuccessful: r.ConnectionOK,
		Error:                r.Error,
	}
	if r.TLS.Enabled {
		rep.TLSCertificateKeyFile = r.TLS.CertificateKeyFile
		rep.TLSCAFile = r.TLS.CAFile
	}
	return rep
}

// MarshalIndent renders the report as indented JSON.
func (rep Report) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(rep, "", "  ")
}
