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

	"github.com/lightforgemedia/go-wabridge/pkg/native"
	"github.com/lightforgemedia/go-wabridge/pkg/native/nativetest"
	"github.com/lightforgemedia/go-wabridge/pkg/native/wsengine"
	"github.com/spf13/cobra"
)

// NewDevHostCommand creates the devhost command, which serves an in-memory
// engine for trying the other commands without a real account.
func NewDevHostCommand(rootOpts *RootOptions) *cobra.Command {
	var addr, path string
	cmd := &cobra.Command{
		Use:   "devhost",
		Short: "Serve an in-memory engine for development",
		Long: `Serve an in-memory engine over WebSocket. Group queries are answered
with canned data and every send succeeds.

Example:
  wabridge devhost --addr 127.0.0.1:8765 &
  wabridge group-info 123@g.us --engine ws://127.0.0.1:8765/engine`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveDevHost(ctx, ln, path, rootOpts)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8765", "listen address")
	cmd.Flags().StringVar(&path, "path", "/engine", "WebSocket endpoint path")
	return cmd
}

// DevEngine returns the in-memory engine served by devhost.
func DevEngine() *nativetest.Engine {
	e := nativetest.New()
	e.Respond(native.CallGetGroupInfo, func(q nativetest.Query) (any, string, bool) {
		return map[string]any{
			"jid":          q.Group,
			"subject":      "Development group",
			"announce":     false,
			"locked":       false,
			"participants": []string{"15550001111@s.whatsapp.net"},
		}, "", true
	})
	e.Respond(native.CallGetGroupInviteLink, func(q nativetest.Query) (any, string, bool) {
		suffix := "current"
		if q.Reset {
			suffix = fmt.Sprintf("reset-%d", time.Now().Unix())
		}
		return "https://chat.whatsapp.com/dev-" + suffix, "", true
	})
	return e
}

func serveDevHost(ctx context.Context, ln net.Listener, path string, opts *RootOptions) error {
	mux := http.NewServeMux()
	mux.Handle(path, wsengine.NewHandler(DevEngine(), wsengine.WithLogger(opts.Logger)))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	opts.Logger.Info("devhost listening", "url", "ws://"+ln.Addr().String()+path)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
