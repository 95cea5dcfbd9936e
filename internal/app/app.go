// Package app wires the lexicon, tool registry and server capabilities shared
// by the wordplay binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/wordplay-mcp/config"
	"github.com/ggoodman/wordplay-mcp/lexicon"
	"github.com/ggoodman/wordplay-mcp/lexicon/redislexicon"
	"github.com/ggoodman/wordplay-mcp/mcp"
	"github.com/ggoodman/wordplay-mcp/mcpservice"
	"github.com/ggoodman/wordplay-mcp/wordtools"
	"github.com/redis/go-redis/v9"
)

const (
	ServerName    = "wordplay-mcp"
	ServerVersion = "1.0.0"
)

const instructions = "Text tools: first-letter returns the first character of a word; " +
	"emojify and emojify-words decorate known words with emoji."

// Lexicon is the table the tools read plus whatever must be released on
// shutdown.
type Lexicon struct {
	lexicon.Table
	closers []func() error
}

// Close releases watchers and clients in reverse order of creation.
func (l *Lexicon) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenLexicon builds the table described by cfg: the embedded dictionary or
// LEXICON_FILE (hot reloaded when LEXICON_WATCH is set), optionally fronted by
// a Redis hash seeded with that dictionary. Reloading stops when ctx is done.
func OpenLexicon(ctx context.Context, cfg config.Config, log *slog.Logger) (*Lexicon, error) {
	lex := &Lexicon{}

	var base lexicon.Map
	switch {
	case cfg.LexiconFile == "":
		base = lexicon.Default()
		lex.Table = base
	case cfg.LexiconWatch:
		r, err := lexicon.NewReloading(cfg.LexiconFile, lexicon.WithReloadLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open lexicon: %w", err)
		}
		lex.closers = append(lex.closers, r.Close)
		go func() {
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("lexicon.watch.stop", slog.String("err", err.Error()))
			}
		}()
		base = r.Snapshot()
		lex.Table = r
	default:
		m, err := lexicon.LoadFile(cfg.LexiconFile)
		if err != nil {
			return nil, fmt.Errorf("open lexicon: %w", err)
		}
		base = m
		lex.Table = m
	}

	if cfg.RedisAddr == "" {
		log.Info("lexicon.open.ok", slog.String("source", sourceName(cfg)), slog.Int("symbols", len(base)))
		return lex, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = lex.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	rt, err := redislexicon.New(redislexicon.Config{Client: client, Key: cfg.RedisLexiconKey, Fallback: lex.Table})
	if err != nil {
		_ = client.Close()
		_ = lex.Close()
		return nil, err
	}
	lex.closers = append(lex.closers, rt.Close)

	added, err := rt.Seed(ctx, base)
	if err != nil {
		_ = lex.Close()
		return nil, fmt.Errorf("seed redis lexicon: %w", err)
	}
	lex.Table = rt
	log.Info("lexicon.open.ok",
		slog.String("source", sourceName(cfg)),
		slog.String("redis_key", cfg.RedisLexiconKey),
		slog.Int("seeded", added),
	)
	return lex, nil
}

func sourceName(cfg config.Config) string {
	if cfg.LexiconFile == "" {
		return "embedded"
	}
	return cfg.LexiconFile
}

// NewServer registers the word tools over table and returns the server
// capabilities both transports serve.
func NewServer(table lexicon.Table) (mcpservice.ServerCapabilities, error) {
	reg := mcpservice.NewRegistry()
	if err := wordtools.Register(reg, table); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: ServerName, Version: ServerVersion}),
		mcpservice.WithInstructions(instructions),
		mcpservice.WithToolsCapability(reg),
	), nil
}
