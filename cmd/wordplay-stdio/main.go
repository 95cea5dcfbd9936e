// Command wordplay-stdio serves the wordplay tools over stdin/stdout for MCP
// clients that launch servers as subprocesses. Logs go to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/wordplay-mcp/config"
	"github.com/ggoodman/wordplay-mcp/internal/app"
	"github.com/ggoodman/wordplay-mcp/stdio"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "wordplay-stdio:", err)
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

	h := stdio.NewHandler(server, stdio.WithLogger(log))
	if err := h.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
