/**
 * @description
 * Redis-backed duplicate-webhook cache. Completed payment ids are remembered
 * for a configurable TTL so redelivered notifications can be answered without
 * touching Postgres. The cache is advisory only: a nil or unreachable Redis
 * degrades to always-miss and the conditional UPDATE in the store remains
 * the source of truth.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type WebhookDedupe struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewWebhookDedupe wraps a Redis client for webhook deduplication. A nil
// client is allowed and yields a no-op cache. The concrete pointer type
// matters here: callers hand over whatever came out of bootstrap, and a nil
// *redis.Client must keep satisfying the nil guards below.
func NewWebhookDedupe(client *redis.Client, keyPrefix string, ttl time.Duration) *WebhookDedupe {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &WebhookDedupe{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (d *WebhookDedupe) key(paymentID string) string {
	return d.keyPrefix + ":webhook:applied:" + paymentID
}

// SeenRecently reports whether the payment id was applied within the TTL
// window. Errors count as a miss.
func (d *WebhookDedupe) SeenRecently(ctx context.Context, paymentID string) bool {
	if d == nil || d.client == nil {
		return false
	}
	n, err := d.client.Exists(ctx, d.key(paymentID)).Result()
	if err != nil {
		log.Printf("level=warn component=dedupe msg=\"redis lookup failed\" payment_id=%s err=%v", paymentID, err)
		return false
	}
	return n > 0
}

// Mark records a payment id as applied. Best effort.
func (d *WebhookDedupe) Mark(ctx context.Context, paymentID string) {
	if d == nil || d.client == nil {
		return
	}
	if err := d.client.Set(ctx, d.key(paymentID), "1", d.ttl).Err(); err != nil {
		log.Printf("level=warn component=dedupe msg=\"redis mark failed\" payment_id=%s err=%v", paymentID, err)
	}
}
