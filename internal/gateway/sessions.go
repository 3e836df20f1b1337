package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
)

// sessionKeyPrefix namespaces session bindings in Redis.
const sessionKeyPrefix = "subpack:session:"

// defaultSessionTTL bounds how long an idle session binding survives. The
// bridge workflow itself lives until end_chat; the binding only needs to
// outlast the frontend session.
const defaultSessionTTL = 24 * time.Hour

// SessionRegistry maps caller session keys to bridge workflow IDs. Bindings
// live in Redis so multiple gateway replicas agree on them; when Redis is
// unavailable the registry degrades to process-local memory.
type SessionRegistry struct {
	rdb *redis.Client
	ttl time.Duration

	mu  sync.RWMutex
	mem map[string]string
}

// NewSessionRegistry builds a registry. rdb may be nil for memory-only mode.
func NewSessionRegistry(rdb *redis.Client, ttl time.Duration) *SessionRegistry {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionRegistry{rdb: rdb, ttl: ttl, mem: make(map[string]string)}
}

// Bind associates a session key with a bridge workflow ID, overwriting any
// previous binding.
func (r *SessionRegistry) Bind(ctx context.Context, sessionKey, workflowID string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key is required")
	}
	r.mu.Lock()
	r.mem[sessionKey] = workflowID
	r.mu.Unlock()

	if r.rdb == nil {
		return nil
	}
	if err := r.rdb.Set(ctx, sessionKeyPrefix+sessionKey, workflowID, r.ttl).Err(); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "session binding not persisted to redis"},
			log.KV{K: "session", V: sessionKey}, log.KV{K: "err", V: err.Error()})
		return nil
	}
	return nil
}

// Lookup resolves a session key to its bound workflow ID.
func (r *SessionRegistry) Lookup(ctx context.Context, sessionKey string) (string, bool) {
	if r.rdb != nil {
		id, err := r.rdb.Get(ctx, sessionKeyPrefix+sessionKey).Result()
		if err == nil && id != "" {
			return id, true
		}
		if err != nil && err != redis.Nil {
			log.Warn(ctx, log.KV{K: "msg", V: "session lookup fell back to memory"},
				log.KV{K: "err", V: err.Error()})
		}
	}
	r.mu.RLock()
	id, ok := r.mem[sessionKey]
	r.mu.RUnlock()
	return id, ok
}
