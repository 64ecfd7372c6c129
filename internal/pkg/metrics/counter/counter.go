// Package counter keeps lightweight webhook processing counters in Redis.
// Counts are advisory: they feed the operator stats endpoint and are never
// part of request handling decisions.
package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mhertel/voxgate/internal/pkg/cache"
)

const (
	webhookCountersKey = "webhooks:counters"
	dailyKeyFormat     = "webhooks:counters:daily:%s" // YYYY-MM-DD
	dailyTTL           = 14 * 24 * time.Hour
)

// Outcomes tracked per webhook delivery.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// AddWebhookResult increments the counter for one delivery outcome, both
// the running total and today's bucket.
func AddWebhookResult(kind string, outcome string) error {
	ctx := context.Background()
	rdb := cache.GetClient()
	field := kind + ":" + outcome

	if err := rdb.HIncrBy(ctx, webhookCountersKey, field, 1).Err(); err != nil {
		return err
	}

	dailyKey := fmt.Sprintf(dailyKeyFormat, time.Now().UTC().Format("2006-01-02"))
	if err := rdb.HIncrBy(ctx, dailyKey, field, 1).Err(); err != nil {
		return err
	}
	return rdb.Expire(ctx, dailyKey, dailyTTL).Err()
}

// Snapshot returns the running totals keyed by "<kind>:<outcome>".
func Snapshot() (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, webhookCountersKey).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(data))
	for field, raw := range data {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
