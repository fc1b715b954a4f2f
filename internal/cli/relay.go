package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	lnet "LocalAnimator/internal/net"
	"LocalAnimator/internal/state"
)

type RelayOptions struct {
	*RootOptions
	Addr      string
	Path      string
	Advertise bool
	Name      string
	QRPath    string

	// Listening, when set, receives the bound address once the relay accepts
	// connections.
	Listening chan<- string
}

func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay hub holding the shared session",
		Long: `Run the relay: it owns the authoritative animation session, answers
automation commands and broadcasts every state change to connected replicas.

Example:
  localanimator relay --addr :3003 --advertise
  localanimator relay --name "Walk cycle" --qr share.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &opts.Config.Relay
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = opts.Addr
			}
			if flags.Changed("path") {
				cfg.Path = opts.Path
			}
			if flags.Changed("advertise") {
				cfg.Advertise = opts.Advertise
			}
			if flags.Changed("name") {
				opts.Config.Project.Name = opts.Name
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRelay(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config, :3003)")
	cmd.Flags().StringVar(&opts.Path, "path", "", "websocket path (default /ws)")
	cmd.Flags().BoolVar(&opts.Advertise, "advertise", false, "announce the relay over mDNS")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name of the project the relay starts with")
	cmd.Flags().StringVar(&opts.QRPath, "qr", "", "write a QR code PNG of the share URL to this path")

	return cmd
}

func runRelay(ctx context.Context, opts *RelayOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	log := opts.Log

	session := state.NewSession(state.WithLogger(log))
	p := session.CreateProject(cfg.Project.Name, cfg.Project.Settings())
	hub := lnet.NewHub(session, lnet.WithHubLogger(log))

	mux := http.NewServeMux()
	mux.Handle(cfg.Relay.Path, hub)
	ln, err := net.Listen("tcp", cfg.Relay.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "listen", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	share, err := lnet.ShareURL(ln.Addr().String(), cfg.Relay.Path)
	if err != nil {
		ln.Close()
		return WrapExitError(ExitCommandError, "share url", err)
	}
	log.Info("relay listening", "addr", ln.Addr().String(), "share", share, "project", p.Name)
	fmt.Fprintf(cmd.OutOrStdout(), "Relay ready. Connect replicas to %s\nShare link: %s\n", share, ShareLink(share))

	if opts.QRPath != "" {
		if err := qrcode.WriteFile(ShareLink(share), qrcode.Medium, 256, opts.QRPath); err != nil {
			log.Warn("could not write share QR code", "path", opts.QRPath, "err", err)
		}
	}
	if cfg.Relay.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		mdnsServer, err := lnet.Advertise(port, cfg.Relay.Path)
		if err != nil {
			log.Warn("mDNS advertisement failed", "err", err)
		} else {
			log.Info("advertising relay", "service", lnet.ServiceType, "port", port)
			defer mdnsServer.Shutdown()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("relay shutting down", "peers", hub.Peers())
		hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if opts.Listening != nil {
		opts.Listening <- ln.Addr().String()
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "relay stopped", err)
	}
	log.Info("relay stopped")
	return nil
}
