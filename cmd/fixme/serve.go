package main

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

	"fixme/internal/logging"
	"fixme/internal/rpc"
	"fixme/internal/sidecar"

	"github.com/spf13/cobra"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON-RPC sidecar",
	Long: `Serves the sidecar protocol as line-delimited JSON-RPC on stdin/stdout.
The ready line is printed to stderr once requests are accepted.

With --listen, the same methods are served over WebSocket at the given
loopback address instead.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Serve WebSocket on this address (e.g. 127.0.0.1:8765) instead of stdio")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := sidecar.Build(ctx, cfg)
	if err != nil {
		logging.BootError("sidecar build failed: %v", err)
		return fmt.Errorf("failed to start sidecar: %w", err)
	}
	defer rt.Close()

	if listenAddr != "" {
		return serveWebSocket(ctx, rt.Dispatcher, listenAddr)
	}

	// The line reader blocks on stdin; closing it unblocks shutdown on signal.
	go func() {
		<-ctx.Done()
		_ = os.Stdin.Close()
	}()
	return rpc.ServeStdio(ctx, rt.Dispatcher, os.Stdin, os.Stdout, os.Stderr)
}

func serveWebSocket(ctx context.Context, d *rpc.Dispatcher, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           rpc.NewWebSocketHandler(ctx, d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logging.RPC("websocket transport listening on %s", ln.Addr())
	fmt.Fprintf(os.Stderr, "%s ws://%s\n", rpc.ReadyLine, ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.RPCWarn("websocket shutdown: %v", err)
	}
	logging.RPC("websocket transport stopped")
	return nil
}
