package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"LocalAnimator/internal/playback"
	"LocalAnimator/internal/replica"
	"LocalAnimator/internal/state"
)

type ReplicaOptions struct {
	*RootOptions
	Play     bool
	Loop     bool
	Debounce time.Duration
	Site     string
}

func NewReplicaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplicaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Run a headless editor replica synced with the relay",
		Long: `Run an editor replica without a canvas: it mirrors the relay's session,
pushes its own changes back with a debounce and can drive playback.

Example:
  localanimator replica --url ws://192.168.1.20:3003/ws --play
  localanimator replica --discover --loop=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("loop") {
				opts.Config.Playback.Loop = opts.Loop
			}
			if flags.Changed("debounce") {
				opts.Config.Sync.Debounce = opts.Debounce
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runReplica(ctx, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Play, "play", false, "start playback once synced")
	cmd.Flags().BoolVar(&opts.Loop, "loop", true, "loop playback at the last frame")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 0, "delay before local changes are pushed")
	cmd.Flags().StringVar(&opts.Site, "site", "", "site id used to tag pushed state (default random)")

	return cmd
}

func runReplica(ctx context.Context, opts *ReplicaOptions) error {
	log := opts.Log
	c, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	site := opts.Site
	if site == "" {
		site = "replica-" + uuid.NewString()
	}
	session := state.NewSession(state.WithLogger(log))
	unsubscribe := session.Subscribe(func(ch state.Change) {
		log.Debug("session changed", "op", ch.Op, "source", ch.Source)
	})
	defer unsubscribe()

	adapter := replica.New(session, c,
		replica.WithDebounce(opts.Config.Sync.Debounce),
		replica.WithClock(state.NewClock(site)),
		replica.WithLogger(log),
	)
	defer adapter.Close()
	// The adapter subscribed after the first state arrived; fetch it again.
	if _, err := c.RequestState(ctx); err != nil {
		return WrapExitError(ExitCommandError, "fetch relay state", err)
	}
	p, _ := session.Project()
	log.Info("replica synced", "site", site, "project", p.Name, "frame", session.CurrentFrame())

	player := playback.New(session, playback.WithLoop(opts.Config.Playback.Loop), playback.WithLogger(log))
	if opts.Play {
		player.Play(ctx)
		log.Info("playback started", "interval", player.Interval(), "loop", opts.Config.Playback.Loop)
	}

	<-ctx.Done()
	player.Pause()
	if err := adapter.Flush(); err != nil {
		log.Warn("final push failed", "err", err)
	}
	log.Info("replica stopped")
	return nil
}
