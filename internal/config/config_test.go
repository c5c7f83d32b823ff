package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"IOI_HOST", "IOI_PORT", "IOI_TRANSPORT", "IOI_REQUEST_SERVICE", "IOI_SUBSCRIPTION_SERVICE",
		"IOI_AUTH_SERVICE", "IOI_AUTH_REQUIRED", "IOI_AUTH_IP", "IOI_REQUEST_TIMEOUT", "PORT_GRPC", "PORT_HTTP", "DATA_DIR"} {
		t.Setenv(key, "")
	}
	cfg := LoadConfig("ioi-bridge")
	assert.Equal(t, "ioi-bridge", cfg.ServiceName)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 8194, cfg.Port)
	assert.Equal(t, TransportGRPC, cfg.Transport)
	assert.Equal(t, "//blp/ioiapi-beta-request", cfg.RequestService)
	assert.Equal(t, "//blp-test/ioisub-beta", cfg.SubscriptionService)
	assert.Equal(t, "//blp/apiauth", cfg.AuthService)
	assert.False(t, cfg.AuthRequired)
	assert.Equal(t, "0.0.0.0", cfg.AuthIP)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr())
	assert.Equal(t, ":8194", cfg.GRPCAddr())
	assert.Equal(t, "./.data/ioi-bridge.db", cfg.JournalPath())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("IOI_HOST", "gateway")
	t.Setenv("IOI_PORT", "9000")
	t.Setenv("IOI_TRANSPORT", "SIM")
	t.Setenv("IOI_AUTH_REQUIRED", "true")
	t.Setenv("IOI_AUTH_USER", "emrs-user")
	t.Setenv("IOI_REQUEST_TIMEOUT", "5s")
	t.Setenv("SIM_AUTHORIZED_USERS", "alice, bob,")
	t.Setenv("PORT_GRPC", "not-a-number")
	t.Setenv("DATA_DIR", "/var/lib/ioi/")

	cfg := LoadConfig("ioi-request")
	assert.Equal(t, "gateway", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, TransportSim, cfg.Transport)
	assert.True(t, cfg.AuthRequired)
	assert.Equal(t, "emrs-user", cfg.AuthUser)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, []string{"alice", "bob"}, cfg.SimAuthorizedUsers)
	assert.Equal(t, 8194, cfg.GRPCPort, "unparsable values fall back to the default")
	assert.Equal(t, "/var/lib/ioi/ioi-request.db", cfg.JournalPath())
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"transport", func(c *Config) { c.Transport = "tcp" }},
		{"port", func(c *Config) { c.Port = 0 }},
		{"auth user", func(c *Config) { c.AuthRequired = true; c.AuthUser = "" }},
		{"timeout", func(c *Config) { c.RequestTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig("test")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
