// Package sharetoken implements the opaque, short-TTL, single-use handle
// that carries a chat-initiated request's context into the webapp flow.
// Minting stores a JSON blob under a random key with a TTL; consuming is a
// single atomic GET-then-DEL so a replayed token never succeeds twice.
package sharetoken

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/windowmeet/core/internal/config"
)

// Context is the chat context a share token carries: enough to route the
// webapp's eventual POST /api/share back to the originating chat.
type Context struct {
	ChatID               string `json:"chat_id"`
	ThreadID             string `json:"thread_id,omitempty"`
	UserID               string `json:"user_id"`
	EventID              string `json:"event_id,omitempty"`
	OriginatingMessageID string `json:"originating_message_id,omitempty"`
}

// consumeScript performs GET+DEL atomically so two concurrent consumes of
// the same token cannot both succeed.
var consumeScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
  redis.call("DEL", KEYS[1])
end
return v
`)

// Store mints and consumes share tokens against Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// Open connects to Redis per cfg. It does not ping eagerly; Close is always
// safe to call even if the connection was never used.
func Open(cfg config.ShareTokenConfig) (*Store, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("sharetoken: redis_addr must not be empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	ttl := time.Duration(cfg.TTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store{rdb: rdb, ttl: ttl}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Mint generates a new opaque token, stores ctx under it with the
// configured TTL, and returns the token.
func (s *Store) Mint(ctx context.Context, c Context) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("sharetoken: generate token: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("sharetoken: marshal context: %w", err)
	}
	if err := s.rdb.Set(ctx, key(token), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("sharetoken: store token: %w", err)
	}
	return token, nil
}

// Consume atomically returns and deletes the Context stored under token.
// ok is false if the token was never minted, already consumed, or expired.
func (s *Store) Consume(ctx context.Context, token string) (c Context, ok bool, err error) {
	res, err := consumeScript.Run(ctx, s.rdb, []string{key(token)}).Result()
	if err == redis.Nil {
		return Context{}, false, nil
	}
	if err != nil {
		return Context{}, false, fmt.Errorf("sharetoken: consume: %w", err)
	}
	raw, ok := res.(string)
	if !ok || raw == "" {
		return Context{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Context{}, false, fmt.Errorf("sharetoken: unmarshal context: %w", err)
	}
	return c, true, nil
}

func key(token string) string { return "sharetoken:" + token }

func randomToken() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
