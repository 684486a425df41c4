// Package cli implements the wabridge command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lightforgemedia/go-wabridge/internal/config"
	"github.com/lightforgemedia/go-wabridge/pkg/client"
	"github.com/lightforgemedia/go-wabridge/pkg/native/wsengine"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	ConfigPath string
	Engine     string

	// Config is filled by the root command before any subcommand runs.
	Config config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the root command for the wabridge CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "wabridge",
		Short: "Bridge to a native messaging engine",
		Long: `wabridge drives a messaging engine over WebSocket: it pairs a device,
sends messages, answers group queries and relays events to NATS.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Engine, "engine", "", "engine WebSocket URL (overrides the config file)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSendTextCommand(opts))
	cmd.AddCommand(NewGroupInfoCommand(opts))
	cmd.AddCommand(NewInviteLinkCommand(opts))
	cmd.AddCommand(NewDevHostCommand(opts))
	cmd.AddCommand(NewInitConfigCommand(opts))

	return cmd
}

func (o *RootOptions) load(stderr io.Writer) error {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	o.Config = config.Default()
	if o.ConfigPath != "" {
		cfg, err := config.Load(o.ConfigPath)
		if err != nil {
			return err
		}
		o.Config = cfg
	}
	if o.Engine != "" {
		o.Config.Engine = o.Engine
	}
	return o.Config.Validate()
}

// session is a connected client and the remote engine under it.
type session struct {
	client *client.Client
	engine *wsengine.Engine
}

func (o *RootOptions) open(ctx context.Context, extra ...client.Option) (*session, error) {
	engine, err := wsengine.Dial(ctx, o.Config.Engine, wsengine.WithLogger(o.Logger))
	if err != nil {
		return nil, err
	}
	opts := append(o.Config.ClientOptions(), client.WithLogger(o.Logger))
	c, err := client.New(engine, append(opts, extra...)...)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	if err := c.Connect(); err != nil {
		_ = c.Disconnect()
		_ = engine.Close()
		return nil, err
	}
	return &session{client: c, engine: engine}, nil
}

func (s *session) close(logger *slog.Logger) {
	if err := s.client.Disconnect(); err != nil && !errors.Is(err, client.ErrDisconnected) {
		logger.Warn("disconnect failed", "error", err)
	}
	if err := s.engine.Close(); err != nil {
		logger.Debug("engine close", "error", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
