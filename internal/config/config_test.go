package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jakopako/livemon/internal/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
username: someone
duration: 2m
collect_interval: 5s
browser:
  window_width: 1280
recovery:
  max_page_error_retries: 5
output:
  type: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "someone", cfg.Username)
	assert.Equal(t, 2*time.Minute, cfg.Duration)
	assert.Equal(t, 5*time.Second, cfg.CollectInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 1280, cfg.Browser.WindowWidth)
	assert.Equal(t, 1080, cfg.Browser.WindowHeight)
	assert.Equal(t, 5, cfg.Recovery.MaxPageErrorRetries)
	assert.Equal(t, 5*time.Minute, cfg.Recovery.ChallengeTimeout)
	assert.Equal(t, 3*time.Second, cfg.Recovery.ChallengeSettleDelay)
	assert.Equal(t, 3, cfg.Navigation.Retries)
	assert.Equal(t, output.JSON_WRITER_TYPE, cfg.Output.Type)
	assert.Equal(t, ":5001", cfg.Panel.Addr)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("COLLECT_INTERVAL", "7s")
	t.Setenv("MAX_PAGE_ERROR_RETRIES", "1")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.CollectInterval)
	assert.Equal(t, 1, cfg.Recovery.MaxPageErrorRetries)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("LIVEMON_USERNAME", "envuser")
	t.Setenv("MONITOR_DURATION", "0s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "envuser", cfg.Username)
	assert.Equal(t, time.Duration(0), cfg.Duration)
	assert.Equal(t, output.TEXT_WRITER_TYPE, cfg.Output.Type)
}

func TestLoadDotEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("LIVEMON_DOTENV_TEST=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("LIVEMON_DOTENV_TEST") })

	require.NoError(t, LoadDotEnv(p, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("LIVEMON_DOTENV_TEST"))
}

func TestWithTarget(t *testing.T) {
	base, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	tests := []struct {
		name     string
		liveURL  string
		username string
		wantUser string
		wantURL  string
	}{
		{"config username", "", "", "someone", "https://www.tiktok.com/@someone/live"},
		{"override username", "", "@other", "other", "https://www.tiktok.com/@other/live"},
		{"explicit url kept", "https://example.com/room", "", "someone", "https://example.com/room"},
		{"new username drops url", "https://example.com/room", "third", "third", "https://www.tiktok.com/@third/live"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			c.LiveURL = tt.liveURL
			got, err := c.WithTarget(tt.username)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, got.Username)
			assert.Equal(t, tt.wantURL, got.LiveURL)
			assert.Equal(t, tt.liveURL, c.LiveURL, "receiver must not change")
		})
	}
}

func TestValidate(t *testing.T) {
	base, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *MonitorConfig)
	}{
		{"no username", func(c *MonitorConfig) { c.Username = "" }},
		{"negative duration", func(c *MonitorConfig) { c.Duration = -time.Second }},
		{"zero interval", func(c *MonitorConfig) { c.CollectInterval = 0 }},
		{"relative url", func(c *MonitorConfig) { c.LiveURL = "/live" }},
		{"unknown output", func(c *MonitorConfig) { c.Output.Type = "xml" }},
		{"no navigation attempts", func(c *MonitorConfig) { c.Navigation.Retries = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, base.Validate())
}

func TestDetectContainer(t *testing.T) {
	dir := t.TempDir()
	dockerEnv := filepath.Join(dir, ".dockerenv")
	cgroupDocker := filepath.Join(dir, "cgroup-docker")
	cgroupHost := filepath.Join(dir, "cgroup-host")
	missing := filepath.Join(dir, "missing")
	require.NoError(t, os.WriteFile(dockerEnv, nil, 0o644))
	require.NoError(t, os.WriteFile(cgroupDocker, []byte("12:cpu:/docker/abc\n"), 0o644))
	require.NoError(t, os.WriteFile(cgroupHost, []byte("0::/init.scope\n"), 0o644))

	noEnv := func(string) string { return "" }
	tests := []struct {
		name      string
		dockerEnv string
		cgroup    string
		getenv    func(string) string
		expected  bool
	}{
		{"dockerenv file", dockerEnv, missing, noEnv, true},
		{"cgroup", missing, cgroupDocker, noEnv, true},
		{"host", missing, cgroupHost, noEnv, false},
		{"env flag", missing, missing, func(k string) string {
			if k == "DOCKER_CONTAINER" {
				return "TRUE"
			}
			return ""
		}, true},
		{"xvfb flag", missing, missing, func(k string) string {
			if k == "USE_XVFB" {
				return "true"
			}
			return ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectContainer(tt.dockerEnv, tt.cgroup, tt.getenv))
		})
	}
}
