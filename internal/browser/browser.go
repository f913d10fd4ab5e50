// Package browser wraps the remote-controlled Chrome instance used to observe
// the live room page.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Config holds the parameters needed to launch a browser.
type Config struct {
	Headless     bool          `yaml:"headless" env:"HEADLESS" env-default:"false"`
	ExecPath     string        `yaml:"chrome_binary_path" env:"CHROME_BINARY_PATH"`
	UserDataDir  string        `yaml:"user_data_dir" env:"CHROME_USER_DATA_DIR"`
	UserAgent    string        `yaml:"user_agent" env:"USER_AGENT"`
	Language     string        `yaml:"language" env:"BROWSER_LANGUAGE" env-default:"zh-CN"`
	WindowWidth  int           `yaml:"window_width" env:"WINDOW_WIDTH" env-default:"1920"`
	WindowHeight int           `yaml:"window_height" env:"WINDOW_HEIGHT" env-default:"1080"`
	CallTimeout  time.Duration `yaml:"call_timeout" env:"BROWSER_CALL_TIMEOUT" env-default:"30s"`
	// InContainer enables the sandbox-less flags required inside docker.
	InContainer bool `yaml:"in_container" env:"IN_CONTAINER"`
}

// A Browser is a navigable page session. Implementations are not safe for
// concurrent use; a single goroutine owns the session.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// Evaluate runs script in the page and decodes its JSON result into out.
	// out may be nil if the result is not needed.
	Evaluate(ctx context.Context, script string, out any) error
	OuterHTML(ctx context.Context) (string, error)
	// Screenshot returns a PNG of the current viewport.
	Screenshot(ctx context.Context) ([]byte, error)
	// Click dispatches a mouse click at the given viewport coordinates.
	Click(ctx context.Context, x, y float64) error
	Close() error
}

// A Launcher starts a new browser session.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context) (Browser, error)

func (f LauncherFunc) Launch(ctx context.Context) (Browser, error) {
	return f(ctx)
}

// CallScript renders a call of the javascript function expression fn with
// the JSON encoded args.
func CallScript(fn string, args ...any) (string, error) {
	encoded := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encode script argument: %w", err)
		}
		encoded = append(encoded, string(b))
	}
	return fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ", ")), nil
}
