// Command wordplay-http serves the wordplay tools over the MCP streamable
// HTTP transport on /mcp.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/wordplay-mcp/config"
	"github.com/ggoodman/wordplay-mcp/internal/app"
	"github.com/ggoodman/wordplay-mcp/sessions"
	"github.com/ggoodman/wordplay-mcp/sessions/memorystore"
	"github.com/ggoodman/wordplay-mcp/streaminghttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "wordplay-http:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	lex, err := app.OpenLexicon(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer lex.Close()

	server, err := app.NewServer(lex)
	if err != nil {
		return err
	}

	store := memorystore.New(
		memorystore.WithCapacity(cfg.SessionCapacity),
		memorystore.WithTTL(cfg.SessionTTL),
		memorystore.WithLogger(log),
	)
	h, err := streaminghttp.New(store, server, streaminghttp.WithLogger(log))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           streaminghttp.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http.listen", slog.String("addr", srv.Addr), slog.String("endpoint", streaminghttp.DefaultEndpoint))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("http.shutdown.start")
	// Closing sessions ends open GET streams so Shutdown can drain.
	store.CloseAll(sessions.CloseReasonShutdown)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("http.shutdown.ok")
	return nil
}
