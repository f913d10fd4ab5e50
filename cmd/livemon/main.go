/*
livemon watches a TikTok live room in a real browser, records snapshots of
the page state and streams the viewer interactions.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jakopako/livemon/internal/browser"
	"github.com/jakopako/livemon/internal/collector"
	"github.com/jakopako/livemon/internal/config"
	"github.com/jakopako/livemon/internal/log"
	"github.com/jakopako/livemon/internal/metrics"
	"github.com/jakopako/livemon/internal/output"
	"github.com/jakopako/livemon/internal/server"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

type VersionFlag string

func (v VersionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                       { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

// Globals are shared by all commands.
type Globals struct {
	Debug   bool   `short:"D" help:"Set log level to 'debug'."`
	Config  string `short:"c" help:"Optional yaml configuration file. Environment variables override its values." type:"path"`
	EnvFile string `default:".env" help:"Optional .env file loaded before the configuration." type:"path"`
}

type cli struct {
	Globals
	Version VersionFlag `short:"v" long:"version" help:"Print the version and exit."`

	Run         RunCmd         `cmd:"" help:"Monitor the live room of a user."`
	Serve       ServeCmd       `cmd:"" help:"Start the web control panel."`
	PrintConfig PrintConfigCmd `cmd:"" help:"Print the resolved configuration."`
}

type RunCmd struct {
	Username string        `arg:"" optional:"" help:"The user whose live room is monitored. Defaults to the configured username."`
	Duration time.Duration `short:"d" help:"How long to monitor, e.g. 5m. Defaults to the configured duration."`
	Interval time.Duration `short:"i" help:"Time between two snapshots. Defaults to the configured interval."`
	Forever  bool          `short:"f" help:"Monitor until interrupted, ignoring the duration." xor:"length"`
	Single   bool          `short:"s" help:"Take a single snapshot and exit." xor:"length"`
	Headless bool          `help:"Run the browser without a window."`
	Format   string        `help:"Output format, one of text or json. Defaults to the configured format."`
	Panel    string        `help:"Also serve the control panel on this address, e.g. :5001."`
}

func (rc *RunCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if rc.Duration > 0 {
		cfg.Duration = rc.Duration
	}
	if rc.Forever {
		cfg.Duration = 0
	}
	if rc.Interval > 0 {
		cfg.CollectInterval = rc.Interval
	}
	if rc.Headless {
		cfg.Browser.Headless = true
	}
	if rc.Format != "" {
		cfg.Output.Type = output.WriterType(rc.Format)
	}
	target, err := cfg.WithTarget(rc.Username)
	if err != nil {
		return err
	}

	logger := initLogger(g, &target)
	m := metrics.New()
	c, err := newCollector(target, m, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rc.Single {
		return c.RunSingle(ctx)
	}
	if rc.Panel == "" {
		return c.Run(ctx)
	}

	eg, ctx := errgroup.WithContext(ctx)
	panelCtx, stopPanel := context.WithCancel(ctx)
	defer stopPanel()
	srv := server.New(rc.Panel, server.WithMetrics(m), server.WithLogger(logger))
	srv.Attach(c)
	eg.Go(func() error {
		defer stopPanel()
		return c.Run(ctx)
	})
	eg.Go(func() error {
		return srv.Serve(panelCtx)
	})
	return eg.Wait()
}

type ServeCmd struct {
	Addr string `short:"a" help:"The address to listen on. Defaults to the configured panel address."`
}

func (sc *ServeCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if sc.Addr != "" {
		cfg.Panel.Addr = sc.Addr
	}
	logger := initLogger(g, cfg)
	m := metrics.New()

	factory := func(username string) (server.Runner, error) {
		target, err := cfg.WithTarget(username)
		if err != nil {
			return nil, err
		}
		// panel sessions run until they are stopped
		target.Duration = 0
		target.CollectInterval = target.Panel.CollectInterval
		return newCollector(target, m, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv := server.New(cfg.Panel.Addr, server.WithFactory(factory), server.WithMetrics(m), server.WithLogger(logger))
	return srv.Serve(ctx)
}

type PrintConfigCmd struct {
	Username string `arg:"" optional:"" help:"Resolve the configuration for this user."`
}

func (pc *PrintConfigCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if pc.Username != "" || cfg.Username != "" {
		target, err := cfg.WithTarget(pc.Username)
		if err != nil {
			return err
		}
		cfg = &target
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func loadConfig(g *Globals) (*config.MonitorConfig, error) {
	if err := config.LoadDotEnv(g.EnvFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Debug {
		cfg.Debug = true
	}
	return cfg, nil
}

// initLogger installs the default logger. Logs go to stderr when stdout
// carries json records.
func initLogger(g *Globals, cfg *config.MonitorConfig) *slog.Logger {
	debug := g.Debug || cfg.Debug
	if cfg.Output.Type == output.JSON_WRITER_TYPE {
		logger := log.New(os.Stderr, debug)
		slog.SetDefault(logger)
		return logger
	}
	return log.InitializeDefaultLogger(debug)
}

func newCollector(cfg config.MonitorConfig, m *metrics.Metrics, logger *slog.Logger) (*collector.Collector, error) {
	writer, err := output.NewWriter(&cfg.Output, os.Stdout, logger)
	if err != nil {
		return nil, err
	}
	launcher := &browser.ChromeLauncher{Config: &cfg.Browser, Logger: logger}
	return collector.New(cfg, launcher,
		collector.WithWriter(writer),
		collector.WithMetrics(m),
		collector.WithLogger(logger),
	), nil
}

func getVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if ok {
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			return buildInfo.Main.Version
		}
	}
	return version
}

func main() {
	cli := cli{
		Version: VersionFlag(getVersion()),
	}
	ctx := kong.Parse(&cli,
		kong.Name("livemon"),
		kong.UsageOnError(),
		kong.Vars{
			"version": string(cli.Version),
		})
	err := ctx.Run(&cli.Globals)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	ctx.FatalIfErrorf(err)
}
