// Package redislexicon provides a lexicon.Table that reads symbols from a
// Redis hash, so the vocabulary can be extended at runtime with HSET.
package redislexicon

import (
	"context"
	"fmt"

	"github.com/ggoodman/wordplay-mcp/lexicon"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the hash used when Config.Key is empty.
const DefaultKey = "wordplay:lexicon"

// Config contains configuration options for the Redis table
type Config struct {
	// Client is the Redis client instance
	Client *redis.Client

	// Key is the hash holding word -> symbol fields.
	// Default: "wordplay:lexicon"
	Key string

	// Fallback answers words the hash does not define. Optional.
	Fallback lexicon.Table
}

// Table implements lexicon.Table against a Redis hash.
type Table struct {
	client   *redis.Client
	key      string
	fallback lexicon.Table
}

var _ lexicon.Table = (*Table)(nil)

// New creates a Redis-backed table.
func New(config Config) (*Table, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.Key == "" {
		config.Key = DefaultKey
	}
	return &Table{
		client:   config.Client,
		key:      config.Key,
		fallback: config.Fallback,
	}, nil
}

// Lookup resolves all words with a single HMGET, consulting the fallback for
// the ones Redis does not know.
func (t *Table) Lookup(ctx context.Context, words []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(words) == 0 {
		return out, nil
	}

	vals, err := t.client.HMGet(ctx, t.key, words...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon hash %s: %w", t.key, err)
	}

	var missing []string
	for i, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			out[words[i]] = s
			continue
		}
		missing = append(missing, words[i])
	}

	if len(missing) > 0 && t.fallback != nil {
		fb, err := t.fallback.Lookup(ctx, missing)
		if err != nil {
			return nil, err
		}
		for w, s := range fb {
			out[w] = s
		}
	}
	return out, nil
}

// Seed writes entries that are not yet present in the hash and reports how
// many were added. Existing fields are left untouched.
func (t *Table) Seed(ctx context.Context, entries lexicon.Map) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	pipe := t.client.Pipeline()
	cmds := make([]*redis.BoolCmd, 0, len(entries))
	for word, symbol := range entries {
		cmds = append(cmds, pipe.HSetNX(ctx, t.key, word, symbol))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to seed lexicon hash %s: %w", t.key, err)
	}
	added := 0
	for _, c := range cmds {
		if c.Val() {
			added++
		}
	}
	return added, nil
}

// Close closes the underlying client.
func (t *Table) Close() error {
	return t.client.Close()
}
