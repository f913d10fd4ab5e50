// Package config resolves the monitor configuration from a yaml file,
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jakopako/livemon/internal/browser"
	"github.com/jakopako/livemon/internal/output"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const liveURLTemplate = "https://www.tiktok.com/@%s/live"

// NavigationConfig controls how the live room is opened.
type NavigationConfig struct {
	PageLoadTimeout time.Duration `yaml:"page_load_timeout" env:"PAGE_LOAD_TIMEOUT" env-default:"30s"`
	Retries         int           `yaml:"retries" env:"NAVIGATION_RETRIES" env-default:"3"`
	RetryDelay      time.Duration `yaml:"retry_delay" env:"NAVIGATION_RETRY_DELAY" env-default:"2s"`
}

// RecoveryConfig controls the reaction to error pages and verification challenges.
type RecoveryConfig struct {
	MaxPageErrorRetries  int           `yaml:"max_page_error_retries" env:"MAX_PAGE_ERROR_RETRIES" env-default:"3"`
	RefreshSettleDelay   time.Duration `yaml:"refresh_settle_delay" env:"REFRESH_SETTLE_DELAY" env-default:"5s"`
	ChallengeTimeout     time.Duration `yaml:"challenge_timeout" env:"CHALLENGE_TIMEOUT" env-default:"5m"`
	ChallengeSettleDelay time.Duration `yaml:"challenge_settle_delay" env:"CHALLENGE_SETTLE_DELAY" env-default:"3s"`
}

// PanelConfig configures the HTTP control panel.
type PanelConfig struct {
	Addr string `yaml:"addr" env:"PANEL_ADDR" env-default:":5001"`
	// CollectInterval replaces the monitor collect interval for sessions
	// started from the panel.
	CollectInterval time.Duration `yaml:"collect_interval" env:"PANEL_COLLECT_INTERVAL" env-default:"60s"`
}

// MonitorConfig defines the overall structure of the monitor configuration.
// Values will be taken from a config yml file or environment variables
// or both.
type MonitorConfig struct {
	Username string `yaml:"username" env:"LIVEMON_USERNAME"`
	LiveURL  string `yaml:"live_url" env:"LIVEMON_LIVE_URL"`
	// Duration of a run. Zero means run until stopped.
	Duration        time.Duration       `yaml:"duration" env:"MONITOR_DURATION" env-default:"60s"`
	CollectInterval time.Duration       `yaml:"collect_interval" env:"COLLECT_INTERVAL" env-default:"10s"`
	PollInterval    time.Duration       `yaml:"poll_interval" env:"POLL_INTERVAL" env-default:"200ms"`
	Debug           bool                `yaml:"debug" env:"DEBUG"`
	Browser         browser.Config      `yaml:"browser"`
	Navigation      NavigationConfig    `yaml:"navigation"`
	Recovery        RecoveryConfig      `yaml:"recovery"`
	Output          output.WriterConfig `yaml:"output"`
	Panel           PanelConfig         `yaml:"panel"`
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration from path, if given, and from the
// environment. Container detection is applied unless the config already
// asks for container mode.
func Load(path string) (*MonitorConfig, error) {
	var cfg MonitorConfig
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if !cfg.Browser.InContainer {
		cfg.Browser.InContainer = DetectContainer()
	}
	if cfg.Browser.InContainer {
		cfg.Browser.Headless = true
	}
	return &cfg, nil
}

// WithTarget returns a copy of c that monitors username. The live url is
// derived from the username unless it is set explicitly. The copy is validated.
func (c MonitorConfig) WithTarget(username string) (MonitorConfig, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username != "" {
		if c.Username != username {
			c.LiveURL = ""
		}
		c.Username = username
	}
	if c.LiveURL == "" && c.Username != "" {
		c.LiveURL = fmt.Sprintf(liveURLTemplate, url.PathEscape(c.Username))
	}
	if err := c.Validate(); err != nil {
		return MonitorConfig{}, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c *MonitorConfig) Validate() error {
	var errs []error
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.LiveURL != "" {
		if u, err := url.Parse(c.LiveURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("live_url %q is not an absolute url", c.LiveURL))
		}
	}
	if c.Duration < 0 {
		errs = append(errs, errors.New("duration must not be negative"))
	}
	if c.CollectInterval <= 0 {
		errs = append(errs, errors.New("collect_interval must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.Navigation.Retries < 1 {
		errs = append(errs, errors.New("navigation.retries must be at least 1"))
	}
	if c.Recovery.MaxPageErrorRetries < 0 {
		errs = append(errs, errors.New("recovery.max_page_error_retries must not be negative"))
	}
	if c.Recovery.ChallengeTimeout <= 0 {
		errs = append(errs, errors.New("recovery.challenge_timeout must be positive"))
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		errs = append(errs, errors.New("browser window size must be positive"))
	}
	switch c.Output.Type {
	case output.TEXT_WRITER_TYPE, output.JSON_WRITER_TYPE:
	default:
		errs = append(errs, fmt.Errorf("output.type %q is not supported", c.Output.Type))
	}
	return errors.Join(errs...)
}

// YAML renders the configuration as a yaml document.
func (c *MonitorConfig) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// DetectContainer reports whether the process runs inside a docker container.
func DetectContainer() bool {
	return detectContainer("/.dockerenv", "/proc/1/cgroup", os.Getenv)
}

func detectContainer(dockerEnvFile, cgroupFile string, getenv func(string) string) bool {
	if _, err := os.Stat(dockerEnvFile); err == nil {
		return true
	}
	if b, err := os.ReadFile(cgroupFile); err == nil && strings.Contains(string(b), "docker") {
		return true
	}
	return strings.EqualFold(getenv("DOCKER_CONTAINER"), "true") || strings.EqualFold(getenv("USE_XVFB"), "true")
}
