package invocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DecisionCache memoizes a policy decision for an (agent, tool, trust-state)
// triple so repeated identical calls in a busy conversation don't re-run the
// same policy lookups. Decisions carrying a Refusal are cached
// alongside clean ones — both are equally valid outcomes of the same
// deterministic inputs.
//
// A nil *Refusal cached as "clean" is distinguished from "not cached" via the
// ok return, not via a sentinel Refusal value.
type DecisionCache interface {
	Get(ctx context.Context, key string) (refusal *Refusal, ok bool)
	Set(ctx context.Context, key string, refusal *Refusal)
}

// decisionKey derives the cache key for one proposed call under a given
// trust state. Call arguments are deliberately excluded: two calls to the
// same tool by the same agent under the same trust state always resolve the
// same policy decision, regardless of argument shape (argument validation
// itself runs every time, uncached, since it is cheap and per-call).
func decisionKey(agentID, toolName string, contextIsTrusted bool) string {
	return fmt.Sprintf("archestra:invocation-decision:%s:%s:%t", agentID, toolName, contextIsTrusted)
}

// noopCache is used when no Redis connection is configured — every call
// falls through to a fresh policy evaluation, which is always still
// correct, only slower under load.
type noopCache struct{}

func (noopCache) Get(context.Context, string) (*Refusal, bool) { return nil, false }
func (noopCache) Set(context.Context, string, *Refusal)        {}

// cachedRefusal is the value shape stored in Redis: Refusal plus a Clean
// flag so an empty struct can still mean "decision was: allowed".
type cachedRefusal struct {
	Clean    bool   `json:"clean"`
	Type     string `json:"type,omitempty"`
	ToolName string `json:"toolName,omitempty"`
	PolicyID string `json:"policyId,omitempty"`
	Message  string `json:"message,omitempty"`
}

// redisDecisionCache is the distributed decision cache backing the
// Tool-Invocation Policy Evaluator, so memoized decisions are shared across
// every replica of a multi-worker deployment instead of living in each
// process's own memory.
type redisDecisionCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisDecisionCache builds a DecisionCache backed by rdb. rdb may be nil,
// in which case decisions are never memoized — every evaluation runs fresh.
func NewRedisDecisionCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) DecisionCache {
	if rdb == nil {
		return noopCache{}
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &redisDecisionCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *redisDecisionCache) Get(ctx context.Context, key string) (*Refusal, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("invocation: decision cache read failed, evaluating fresh", "error", err)
		return nil, false
	}

	var cached cachedRefusal
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Warn("invocation: decision cache entry unreadable, evaluating fresh", "error", err)
		return nil, false
	}
	if cached.Clean {
		return nil, true
	}
	return &Refusal{
		Type:        cached.Type,
		ToolName:    cached.ToolName,
		PolicyID:    cached.PolicyID,
		UserMessage: cached.Message,
	}, true
}

func (c *redisDecisionCache) Set(ctx context.Context, key string, refusal *Refusal) {
	cached := cachedRefusal{Clean: refusal == nil}
	if refusal != nil {
		cached.Type = refusal.Type
		cached.ToolName = refusal.ToolName
		cached.PolicyID = refusal.PolicyID
		cached.Message = refusal.UserMessage
	}

	raw, err := json.Marshal(&cached)
	if err != nil {
		c.logger.Warn("invocation: failed to encode decision for cache", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("invocation: decision cache write failed", "error", err)
	}
}
