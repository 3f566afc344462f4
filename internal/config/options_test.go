package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/mongoconf"
)

func TestDefault(t *testing.T) {
	o := Default()
	assert.Equal(t, "localhost", o.Host)
	assert.Equal(t, 27017, o.Port)
	assert.Equal(t, "admin", o.LoginDatabase)
	assert.Equal(t, 5000, o.ConnectTimeoutMS)
	assert.Equal(t, 5*time.Second, o.ConnectTimeout())
	assert.Equal(t, CertRequired, o.TLSCertRequirement)
	assert.Equal(t, "mongod", o.ServiceName)
	assert.True(t, o.CheckService)
	assert.True(t, o.CheckLocal)
	assert.False(t, o.FailIfNotRunning)
	assert.False(t, o.UseTLS)
	assert.Equal(t, mongoconf.DefaultPaths, o.ConfigPaths)
	assert.NoError(t, o.Validate())

	o.ConfigPaths[0] = "/tmp/changed"
	assert.NotEqual(t, "/tmp/changed", mongoconf.DefaultPaths[0], "defaults are copied")
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvHost, "db1.internal")
	t.Setenv(EnvPort, "27018")
	t.Setenv(EnvAdminUser, "root")
	t.Setenv(EnvAdminPassword, "pw")
	t.Setenv(EnvLoginDatabase, "ops")
	t.Setenv(EnvServiceName, "mongodb")
	t.Setenv(EnvLogLevel, "debug")

	o, err := FromEnv(Default())
	require.NoError(t, err)

	assert.Equal(t, "db1.internal", o.Host)
	assert.Equal(t, 27018, o.Port)
	assert.Equal(t, "root", o.AdminUser)
	assert.Equal(t, "pw", o.AdminPassword)
	assert.Equal(t, "ops", o.LoginDatabase)
	assert.Equal(t, "mongodb", o.ServiceName)
	assert.Equal(t, "debug", o.LogLevel)
	assert.True(t, o.HasCredentials())
}

func TestFromEnv_BadPort(t *testing.T) {
	t.Setenv(EnvPort, "twenty")

	_, err := FromEnv(Default())
	var invalid *core.InvalidOptionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, EnvPort, invalid.Option)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
		option string
	}{
		{"empty host", func(o *Options) { o.Host = "  " }, "host"},
		{"port zero", func(o *Options) { o.Port = 0 }, "port"},
		{"port too large", func(o *Options) { o.Port = 70000 }, "port"},
		{"timeout", func(o *Options) { o.ConnectTimeoutMS = 0 }, "connect_timeout_ms"},
		{"cert requirement", func(o *Options) { o.TLSCertRequirement = "strict" }, "tls_cert_requirement"},
		{"user without password", func(o *Options) { o.AdminUser = "root" }, "admin_password"},
		{"password without user", func(o *Options) { o.AdminPassword = "pw" }, "admin_user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Default()
			tt.modify(&o)

			var invalid *core.InvalidOptionError
			require.ErrorAs(t, o.Validate(), &invalid)
			assert.Equal(t, tt.option, invalid.Option)
		})
	}
}
