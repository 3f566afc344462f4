// Package config holds the invocation options of a detection run.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/mongoconf"
)

// TLS certificate requirement levels.
const (
	CertNone     = "none"
	CertOptional = "optional"
	CertRequired = "required"
)

// Environment variables read by FromEnv.
const (
	EnvHost          = "MONGOSTATE_HOST"
	EnvPort          = "MONGOSTATE_PORT"
	EnvAdminUser     = "MONGOSTATE_ADMIN_USER"
	EnvAdminPassword = "MONGOSTATE_ADMIN_PASSWORD"
	EnvLoginDatabase = "MONGOSTATE_LOGIN_DATABASE"
	EnvServiceName   = "MONGOSTATE_SERVICE_NAME"
	EnvLogLevel      = "MONGOSTATE_LOG_LEVEL"
)

// Options are the inputs of one detection run.
type Options struct {
	Host               string   `json:"host"`
	Port               int      `json:"port"`
	AdminUser          string   `json:"adminUser,omitempty"`
	AdminPassword      string   `json:"-"`
	LoginDatabase      string   `json:"loginDatabase"`
	ConnectTimeoutMS   int      `json:"connectTimeoutMs"`
	UseTLS             bool     `json:"useTls"`
	TLSCertRequirement string   `json:"tlsCertRequirement"`
	Hosts              []string `json:"hosts,omitempty"`
	ServiceName        string   `json:"serviceName"`
	CheckService       bool     `json:"checkService"`
	FailIfNotRunning   bool     `json:"failIfNotRunning"`
	CheckLocal         bool     `json:"checkLocal"`
	ConfigPaths        []string `json:"configPaths"`
	LogLevel           string   `json:"logLevel"`
}

// Default returns options with every default applied.
func Default() Options {
	return Options{
		Host:               "localhost",
		Port:               27017,
		LoginDatabase:      "admin",
		ConnectTimeoutMS:   int(core.DefaultConnectTimeout / time.Millisecond),
		TLSCertRequirement: CertRequired,
		ServiceName:        "mongod",
		CheckService:       true,
		CheckLocal:         true,
		ConfigPaths:        append([]string(nil), mongoconf.DefaultPaths...),
		LogLevel:           "info",
	}
}

// FromEnv overlays MONGOSTATE_* environment variables onto o. An unparsable
// port is returned as an InvalidOptionError.
func FromEnv(o Options) (Options, error) {
	if v, ok := os.LookupEnv(EnvHost); ok && v != "" {
		o.Host = v
	}
	if v, ok := os.LookupEnv(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return o, &core.InvalidOptionError{Option: EnvPort, Reason: "not a number: " + v}
		}
		o.Port = port
	}
	if v, ok := os.LookupEnv(EnvAdminUser); ok {
		o.AdminUser = v
	}
	if v, ok := os.LookupEnv(EnvAdminPassword); ok {
		o.AdminPassword = v
	}
	if v, ok := os.LookupEnv(EnvLoginDatabase); ok && v != "" {
		o.LoginDatabase = v
	}
	if v, ok := os.LookupEnv(EnvServiceName); ok && v != "" {
		o.ServiceName = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		o.LogLevel = v
	}
	return o, nil
}

// Validate checks option values.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Host) == "" {
		return &core.InvalidOptionError{Option: "host", Reason: "must not be empty"}
	}
	if o.Port < 1 || o.Port > 65535 {
		return &core.InvalidOptionError{Option: "port", Reason: "must be between 1 and 65535, got " + strconv.Itoa(o.Port)}
	}
	if o.ConnectTimeoutMS <= 0 {
		return &core.InvalidOptionError{Option: "connect_timeout_ms", Reason: "must be positive"}
	}
	switch o.TLSCertRequirement {
	case CertNone, CertOptional, CertRequired:
	default:
		return &core.InvalidOptionError{Option: "tls_cert_requirement", Reason: "must be one of none, optional, required"}
	}
	if o.AdminUser != "" && o.AdminPassword == "" {
		return &core.InvalidOptionError{Option: "admin_password", Reason: "required when admin_user is set"}
	}
	if o.AdminUser == "" && o.AdminPassword != "" {
		return &core.InvalidOptionError{Option: "admin_user", Reason: "required when admin_password is set"}
	}
	return nil
}

// HasCredentials reports whether admin credentials were supplied.
func (o Options) HasCredentials() bool {
	return o.AdminUser != "" && o.AdminPassword != ""
}

// ConnectTimeout returns the connect timeout as a duration.
func (o Options) ConnectTimeout() time.Duration {
	return time.Duration(o.ConnectTimeoutMS) * time.Millisecond
}
