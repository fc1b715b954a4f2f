// Package cli wires the animator components into the localanimator command.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"LocalAnimator/internal/config"
	lnet "LocalAnimator/internal/net"
)

// RootOptions holds global flags and the loaded configuration.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	URL        string
	Discover   bool
	Timeout    time.Duration

	Config config.Config
	Log    *slog.Logger
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "localanimator",
		Short: "Shared frame-by-frame animation state over the LAN",
		Long: `localanimator runs the relay that holds a shared animation session,
headless editor replicas that stay in sync with it, and automation commands
that place shapes, text and animations through it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	pf.StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")
	pf.StringVar(&opts.URL, "url", "", "relay websocket URL")
	pf.BoolVar(&opts.Discover, "discover", false, "find the relay over mDNS instead of --url")
	pf.DurationVar(&opts.Timeout, "timeout", 0, "request timeout")

	cmd.AddCommand(NewRelayCommand(opts))
	cmd.AddCommand(NewReplicaCommand(opts))
	cmd.AddCommand(NewShapeCommand(opts))
	cmd.AddCommand(NewTextCommand(opts))
	cmd.AddCommand(NewAnimateCommand(opts))
	cmd.AddCommand(NewLayerCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

// load reads the config file, applies flag overrides and installs the logger.
func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.LogFormat
	}
	if flags.Changed("url") {
		cfg.Client.URL = o.URL
	}
	if flags.Changed("timeout") {
		cfg.Client.Timeout = o.Timeout
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	o.Config = cfg
	o.Log, err = newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return WrapExitError(ExitCommandError, "configure logging", err)
	}
	slog.SetDefault(o.Log)
	return nil
}

func newLogger(w io.Writer, c config.Log) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch c.Format {
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	case "text":
		h = slog.NewTextHandler(w, hopts)
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return slog.New(h), nil
}

// connect dials the configured relay, or the first one found over mDNS, and
// waits for its state.
func (o *RootOptions) connect(ctx context.Context) (*lnet.Client, error) {
	url := o.Config.Client.URL
	if o.Discover {
		found, err := lnet.Discover(ctx, 3*time.Second)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "discover relay", err)
		}
		o.Log.Info("relay discovered", "url", found)
		url = found
		o.Config.Client.URL = found
	}
	rc := o.Config.Client.Reconnect
	c, err := lnet.Dial(ctx, url,
		lnet.WithTimeout(o.Config.Client.Timeout),
		lnet.WithReconnect(rc.Attempts, rc.Delay, rc.MaxDelay),
		lnet.WithClientLogger(o.Log),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "connect to relay", err)
	}
	if _, err := c.RequestState(ctx); err != nil {
		c.Close()
		return nil, WrapExitError(ExitCommandError, "fetch relay state", err)
	}
	return c, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
