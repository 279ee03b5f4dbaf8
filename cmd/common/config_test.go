package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoadConfigMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  username: someone
  password: secret
uploads:
  maxSlots: 4
`)
	config := LoadConfig(path)

	assert.Equal(t, "someone", config.Server.Username)
	assert.Equal(t, 4, config.Uploads.MaxSlots)
	// defaults fill the rest
	assert.Equal(t, "server.slsknet.org", config.Server.Address)
	assert.Equal(t, 2271, config.Server.Port)
	assert.Equal(t, "info", config.LogLevel)
	assert.NotEmpty(t, config.DataDir)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	config := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Equal(t, 10, config.Uploads.MaxSlots)
	assert.Equal(t, "127.0.0.1:5030", config.API.Addr)
}

func TestValidateConfigSoftFallbacks(t *testing.T) {
	config := createDefaultConfig()
	config.LogLevel = "noisy"
	config.Uploads.MaxSlots = -3

	require.NoError(t, validateConfig(&config))
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, 10, config.Uploads.MaxSlots)
}

func TestValidateConfigRejectsBadStrategy(t *testing.T) {
	config := createDefaultConfig()
	config.Uploads.Groups = []GroupConfig{
		{Name: "friends", Slots: 1, Strategy: "LIFO"},
	}
	assert.Error(t, validateConfig(&config))
}

func TestValidateConfigRejectsDuplicateGroups(t *testing.T) {
	config := createDefaultConfig()
	config.Uploads.Groups = []GroupConfig{
		{Name: "friends", Slots: 1, Strategy: "FirstInFirstOut"},
		{Name: "friends", Slots: 2, Strategy: "RoundRobin"},
	}
	assert.Error(t, validateConfig(&config))
}

func TestValidateConfigRequiresHelperURLWhenVPNEnabled(t *testing.T) {
	config := createDefaultConfig()
	config.VPN.Enabled = true
	assert.Error(t, validateConfig(&config))

	config.VPN.HelperURL = "http://127.0.0.1:8000"
	assert.NoError(t, validateConfig(&config))
}

func TestToOptionsCarriesEverythingOver(t *testing.T) {
	config := createDefaultConfig()
	config.Server.Username = "me"
	config.ListenPort = 2234
	config.VPN.PollIntervalMs = 1000
	config.Uploads.Groups = []GroupConfig{
		{Name: "friends", Slots: 2, Priority: 1, Strategy: "RoundRobin",
			SpeedLimitKiB: 100, Members: []string{"alice"}},
	}
	config.Shares = []string{"/srv/music"}

	opts := config.ToOptions()
	assert.Equal(t, "me", opts.Server.Username)
	assert.Equal(t, 2234, opts.ListenPort)
	assert.Equal(t, time.Second, opts.VPN.PollInterval)
	require.Len(t, opts.Uploads.Groups, 1)
	assert.Equal(t, "friends", opts.Uploads.Groups[0].Name)
	assert.Equal(t, []string{"alice"}, opts.Uploads.Groups[0].Members)
	assert.Equal(t, []string{"/srv/music"}, opts.Shares)
}

func TestWriteConfigRoundTrips(t *testing.T) {
	config := createDefaultConfig()
	config.Server.Username = "roundtrip"

	path := filepath.Join(t.TempDir(), "sub", "config.yml")
	require.NoError(t, config.WriteConfig(path))

	loaded := LoadConfig(path)
	assert.Equal(t, "roundtrip", loaded.Server.Username)
}
