package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lightforgemedia/go-wabridge/internal/config"
	"github.com/lightforgemedia/go-wabridge/pkg/client"
	"github.com/lightforgemedia/go-wabridge/pkg/event"
	"github.com/lightforgemedia/go-wabridge/pkg/relay"
	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	PrintEvents bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect and stay online until interrupted",
		Long: `Connect to the engine, present pairing codes and keep the session online.

When the config has a nats section, events are published to NATS and
send_text, group_info and invite_link commands are served from it.

Example:
  wabridge run --config wabridge.yaml
  wabridge run --engine ws://127.0.0.1:8765/engine --print-events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.PrintEvents, "print-events", false, "write every event to stdout as a JSON line")
	return cmd
}

func runBridge(opts *RunOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	logger := opts.Logger
	handler := func(ev event.Event) error {
		logger.Debug("event", "type", event.Type(ev), "kind", string(ev.Kind()))
		if opts.PrintEvents {
			_, err := fmt.Fprintf(out, "%s\n", ev.Raw())
			return err
		}
		return nil
	}

	s, err := opts.open(ctx,
		client.WithEventHandler(handler),
		client.WithDisconnectHandler(func() { logger.Warn("engine reported a disconnect") }))
	if err != nil {
		return err
	}
	defer s.close(logger)

	if ro, ok := opts.Config.RelayOptions(); ok {
		ro.Logger = logger
		r, err := relay.New(s.client, ro)
		if err != nil {
			return err
		}
		defer func() {
			if err := r.Close(); err != nil {
				logger.Warn("relay close", "error", err)
			}
		}()
	}

	logger.Info("bridge online", "engine", opts.Config.Engine)
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-s.engine.Done():
		return fmt.Errorf("connection to engine %s lost", opts.Config.Engine)
	case <-s.client.Done():
		return fmt.Errorf("engine %s closed the session", opts.Config.Engine)
	}
	return nil
}

// NewSendTextCommand creates the send-text command.
func NewSendTextCommand(rootOpts *RootOptions) *cobra.Command {
	var group bool
	cmd := &cobra.Command{
		Use:   "send-text <to> <text>",
		Short: "Send a text message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close(rootOpts.Logger)

			to := client.Phone(args[0])
			if group {
				to = client.GroupJID(args[0])
			}
			ok, err := s.client.SendText(to, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]bool{"ok": ok})
		},
	}
	cmd.Flags().BoolVarP(&group, "group", "g", false, "address <to> as a group")
	return cmd
}

// NewGroupInfoCommand creates the group-info command.
func NewGroupInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "group-info <group>",
		Short: "Print the description of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close(rootOpts.Logger)

			info, err := s.client.GetGroupInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

// NewInviteLinkCommand creates the invite-link command.
func NewInviteLinkCommand(rootOpts *RootOptions) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "invite-link <group>",
		Short: "Print the invite link of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close(rootOpts.Logger)

			link, err := s.client.GetGroupInviteLink(cmd.Context(), args[0], reset)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), link)
			return err
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "revoke the current link and print a new one")
	return cmd
}

// NewInitConfigCommand creates the init-config command.
func NewInitConfigCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a config file with default values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Write(path, rootOpts.Config); err != nil {
				return err
			}
			rootOpts.Logger.Info("config written", "path", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
