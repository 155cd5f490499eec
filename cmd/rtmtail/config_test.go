package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonirico/librtm"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_TOML(t *testing.T) {
	t.Setenv(tokenEnv, "")
	path := writeConfig(t, "rtmtail.toml", `
api_url = "https://api.test/api"
token = "xoxb-file"
channel = "C1"
send_timeout = "2s"
write_timeout = "4s"
ping_interval = "15s"
max_backoff = "1m"
min_uptime = "45s"
max_pending = 0
log_level = "debug"
log_format = "json"
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.test/api", cfg.Client.APIURL)
	assert.Equal(t, "xoxb-file", cfg.Client.Token)
	assert.Equal(t, "C1", cfg.Channel)
	assert.Equal(t, 2*time.Second, cfg.Client.SendTimeout)
	assert.Equal(t, 4*time.Second, cfg.Client.WriteTimeout)
	assert.Equal(t, 45*time.Second, cfg.Client.MinUptime)
	assert.Equal(t, 15*time.Second, cfg.Client.PingInterval)
	assert.Equal(t, time.Minute, cfg.Client.MaxBackoff)
	assert.Equal(t, 0, cfg.Client.MaxPending)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.True(t, cfg.JSONLogs)
	assert.Equal(t, librtm.DefaultHandshakeTimeout, cfg.Client.HandshakeTimeout)
}

func TestLoadConfig_YAML(t *testing.T) {
	t.Setenv(tokenEnv, "")
	path := writeConfig(t, "rtmtail.yml", `
token: xoxb-yaml
channel: C9
bootstrap_timeout: 3s
write_timeout: 750ms
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "xoxb-yaml", cfg.Client.Token)
	assert.Equal(t, "C9", cfg.Channel)
	assert.Equal(t, 3*time.Second, cfg.Client.BootstrapTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.Client.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Client.MinUptime)
	assert.Equal(t, librtm.DefaultMaxPending, cfg.Client.MaxPending)
	assert.Equal(t, 30*time.Second, cfg.Client.PingInterval)
	assert.False(t, cfg.JSONLogs)
}

func TestLoadConfig_EnvTokenWins(t *testing.T) {
	t.Setenv(tokenEnv, "xoxb-env")
	path := writeConfig(t, "rtmtail.toml", `token = "xoxb-file"`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-env", cfg.Client.Token)

	cfg, err = loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-env", cfg.Client.Token)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{name: "bad duration", file: "c.toml", body: `ping_interval = "often"`, want: "parse ping_interval"},
		{name: "bad write timeout", file: "c.yaml", body: "write_timeout: soon\n", want: "parse write_timeout"},
		{name: "bad level", file: "c.yaml", body: "log_level: loud\n", want: "parse log_level"},
		{name: "bad format", file: "c.toml", body: `log_format = "xml"`, want: "log_format"},
		{name: "bad toml", file: "c.toml", body: `token = `, want: "load toml config"},
		{name: "bad yaml", file: "c.yaml", body: ":::not valid yaml", want: "load yaml config"},
		{name: "bad extension", file: "c.ini", body: "", want: "unsupported config extension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPrintEvent(t *testing.T) {
	var out bytes.Buffer
	handle := printEvent(&out, zerolog.Nop())

	handle(&librtm.MessageEvent{Channel: "C1", User: "U1", Text: "hi", TS: "1.0"})
	handle(&librtm.UnrecognizedEvent{Type: "emoji_changed", Raw: []byte(`{"type":"emoji_changed"}`)})

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var first struct {
		Type  string         `json:"type"`
		Event map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "message", first.Type)
	assert.Equal(t, "hi", first.Event["text"])

	assert.JSONEq(t, `{"type":"emoji_changed","event":{"type":"emoji_changed"}}`, lines[1])
}
