package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, fs afero.Fs, body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, "/etc/nexdigi/config.json", []byte(body), 0o644))
}

func TestLoadMinimalConfigFillsDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, `{"localCallsign":"NA4WX-1"}`)

	cfg, err := LoadFS(fs, "/etc/nexdigi/config.json")
	require.NoError(t, err)

	require.Equal(t, "NA4WX-1", cfg.LocalCallsign)
	require.Equal(t, DefaultInternetPort, cfg.Transports.Internet.Port)
	require.Equal(t, DefaultMaxWideN, cfg.Transports.RF.MaxWideN)
	require.Equal(t, "fill-in", cfg.Transports.RF.Role)
	require.Equal(t, "dijkstra", cfg.Routing.Algorithm)
	require.Equal(t, DefaultHeartbeatInterval, cfg.Operational.HeartbeatInterval)
	require.Equal(t, DefaultAckTimeout, cfg.Operational.AckTimeout)
	require.Equal(t, DefaultMaxRetries, cfg.Operational.MaxRetries)
}

func TestLoadMissingCallsignFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, `{"enabled":true}`)

	_, err := LoadFS(fs, "/etc/nexdigi/config.json")
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLoadUnknownTopLevelKeyFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, `{"localCallsign":"NA4WX-1","bogusField":true}`)

	_, err := LoadFS(fs, "/etc/nexdigi/config.json")
	require.Error(t, err)
}

func TestLoadUnknownKeyUnderExtrasSucceeds(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, `{"localCallsign":"NA4WX-1","extras":{"experimentalFeature":true}}`)

	cfg, err := LoadFS(fs, "/etc/nexdigi/config.json")
	require.NoError(t, err)
	require.Equal(t, true, cfg.Extras["experimentalFeature"])
}

func TestLoadClientModeWithoutHubFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, `{
		"localCallsign": "NA4WX-1",
		"transports": {"internet": {"enabled": true, "mode": "client"}}
	}`)

	_, err := LoadFS(fs, "/etc/nexdigi/config.json")
	require.Error(t, err)
}

func TestLoadClientModeWithHubServersSucceeds(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, `{
		"localCallsign": "NA4WX-1",
		"transports": {"internet": {"enabled": true, "mode": "client", "hubServers": {"servers": ["hub1.example.org:14240"]}}}
	}`)

	cfg, err := LoadFS(fs, "/etc/nexdigi/config.json")
	require.NoError(t, err)
	require.Equal(t, []string{"hub1.example.org:14240"}, cfg.Transports.Internet.HubServers.Servers)
}

func TestLoadOverridesOperationalDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, `{
		"localCallsign": "NA4WX-1",
		"operational": {"ackTimeout": "2500ms", "maxRetries": 3}
	}`)

	cfg, err := LoadFS(fs, "/etc/nexdigi/config.json")
	require.NoError(t, err)
	require.Equal(t, 2500*time.Millisecond, cfg.Operational.AckTimeout)
	require.Equal(t, 3, cfg.Operational.MaxRetries)
}
