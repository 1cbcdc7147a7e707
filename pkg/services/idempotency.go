package services

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// idempotencyWindow bounds how long a dedup key claims a question text
// (spec §9: "(question_text, recent_window) as deduplication key").
const idempotencyWindow = 5 * time.Minute

// IdempotencyGuard de-duplicates concurrent POST /api/sessions/run calls for
// the same question text before any Session row exists to de-dupe against
// (store.FindRecentSessionByQuestion only catches a second request once the
// first has already committed a row). A single Redis SETNX-with-TTL acquire
// per question text; there is only one resource to guard (a question's
// in-flight run), so no general lock factory is needed.
type IdempotencyGuard struct {
	client *redis.Client
}

// NewIdempotencyGuard wraps an existing redis client. A nil client makes
// every TryAcquire call succeed unconditionally, so the guard degrades to a
// no-op when no Redis instance is configured rather than blocking startup.
func NewIdempotencyGuard(client *redis.Client) *IdempotencyGuard {
	return &IdempotencyGuard{client: client}
}

func dedupKey(questionText string) string {
	return "forecastmarket:dedup:" + normalizeForDedup(questionText)
}

// normalizeForDedup collapses whitespace/case differences in a question_text
// so "Will X happen?" and "will x happen? " share a dedup key.
func normalizeForDedup(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// TryAcquire claims the dedup key for questionText, returning true if this
// call is the first within idempotencyWindow. A subsequent caller within
// the window gets false and should look up the existing session instead of
// starting a new one.
func (g *IdempotencyGuard) TryAcquire(ctx context.Context, questionText string) (bool, error) {
	if g.client == nil {
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, dedupKey(questionText), "1", idempotencyWindow).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release clears questionText's dedup key early, e.g. when session creation
// fails after the guard was acquired and the caller wants an immediate retry
// window rather than waiting out idempotencyWindow.
func (g *IdempotencyGuard) Release(ctx context.Context, questionText string) error {
	if g.client == nil {
		return nil
	}
	return g.client.Del(ctx, dedupKey(questionText)).Err()
}
