package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/openpredict/marketd/internal/domain"
)

// probabilityTTL bounds staleness if an invalidation is ever missed. Trades
// rewrite the entry, so in steady state the TTL never fires.
const probabilityTTL = 5 * time.Minute

// ProbabilityCache implements domain.ProbabilityCache using Redis hashes.
// Each market's probabilities are stored at "probs:{marketID}" with field
// "probs" holding a JSON object of outcome -> decimal string and field "ts"
// holding the Unix nanosecond timestamp they were computed at. Probabilities
// never pass through floats.
type ProbabilityCache struct {
	rdb *redis.Client
}

// NewProbabilityCache creates a ProbabilityCache backed by the given Client.
func NewProbabilityCache(c *Client) *ProbabilityCache {
	return &ProbabilityCache{rdb: c.Underlying()}
}

func probabilityKey(marketID uuid.UUID) string {
	return "probs:" + marketID.String()
}

// SetProbabilities stores the latest implied probabilities for a market.
func (pc *ProbabilityCache) SetProbabilities(ctx context.Context, marketID uuid.UUID, probs map[string]decimal.Decimal, ts time.Time) error {
	strs := make(map[string]string, len(probs))
	for outcome, p := range probs {
		strs[outcome] = p.String()
	}
	data, err := json.Marshal(strs)
	if err != nil {
		return fmt.Errorf("redis: encode probabilities for market %s: %w", marketID, err)
	}

	key := probabilityKey(marketID)
	fields := map[string]interface{}{
		"probs": data,
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, probabilityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set probabilities for market %s: %w", marketID, err)
	}
	return nil
}

// GetProbabilities retrieves the cached probabilities and the timestamp they
// were computed at. It returns domain.ErrNotFound when the entry is missing
// or expired.
func (pc *ProbabilityCache) GetProbabilities(ctx context.Context, marketID uuid.UUID) (map[string]decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, probabilityKey(marketID)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get probabilities for market %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	probsJSON, ok := vals["probs"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	var strs map[string]string
	if err := json.Unmarshal([]byte(probsJSON), &strs); err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: decode probabilities for market %s: %w", marketID, err)
	}
	probs := make(map[string]decimal.Decimal, len(strs))
	for outcome, s := range strs {
		p, err := decimal.NewFromString(s)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("redis: parse probability %q=%q for market %s: %w", outcome, s, marketID, err)
		}
		probs[outcome] = p
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts for market %s: %w", marketID, err)
	}

	return probs, time.Unix(0, tsNano), nil
}

// Invalidate drops the cached entry for a market.
func (pc *ProbabilityCache) Invalidate(ctx context.Context, marketID uuid.UUID) error {
	if err := pc.rdb.Del(ctx, probabilityKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate probabilities for market %s: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ProbabilityCache = (*ProbabilityCache)(nil)
