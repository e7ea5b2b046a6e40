// Package reject records mutual "do not rematch" pairs. A single decline
// writes both directions (A rejected B, B rejected-by A) so either side's
// filter is satisfied without a join. Redis layout:
//
//	Key: rej:out:<user_id> -> Set of user IDs this user rejected
//	Key: rej:in:<user_id>  -> Set of user IDs who rejected this user
package reject

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const (
	outPrefix = "rej:out:"
	inPrefix  = "rej:in:"
)

// Ledger manages rejection edges in Redis.
type Ledger struct {
	client *redis.Client
}

// NewLedger creates a rejection ledger using the provided Redis client.
func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

// Record writes both edges for a decline in one pipeline. Repeated
// rejections of the same pair are no-ops (set semantics).
func (l *Ledger) Record(ctx context.Context, a, b string) error {
	pipe := l.client.Pipeline()
	pipe.SAdd(ctx, outPrefix+a, b)
	pipe.SAdd(ctx, inPrefix+b, a)
	pipe.SAdd(ctx, outPrefix+b, a)
	pipe.SAdd(ctx, inPrefix+a, b)
	_, err := pipe.Exec(ctx)
	return err
}

// BlockedSet returns everyone this user rejected plus everyone who rejected
// them, as a membership map.
func (l *Ledger) BlockedSet(ctx context.Context, userID string) (map[string]bool, error) {
	ids, err := l.client.SUnion(ctx, outPrefix+userID, inPrefix+userID).Result()
	if err != nil {
		return nil, err
	}

	blocked := make(map[string]bool, len(ids))
	for _, id := range ids {
		blocked[id] = true
	}
	return blocked, nil
}

// IsBlocked reports whether either direction of the pair exists.
func (l *Ledger) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	pipe := l.client.Pipeline()
	out := pipe.SIsMember(ctx, outPrefix+a, b)
	in := pipe.SIsMember(ctx, inPrefix+a, b)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return out.Val() || in.Val(), nil
}

// Clear removes all of the user's edges in both directions, including the
// mirror entries on other users' sets. Clearing only the outgoing side
// would leave stale unilateral blocks, so both are removed.
func (l *Ledger) Clear(ctx context.Context, userID string) error {
	outgoing, err := l.client.SMembers(ctx, outPrefix+userID).Result()
	if err != nil {
		return err
	}
	incoming, err := l.client.SMembers(ctx, inPrefix+userID).Result()
	if err != nil {
		return err
	}

	pipe := l.client.Pipeline()
	for _, other := range outgoing {
		pipe.SRem(ctx, inPrefix+other, userID)
		pipe.SRem(ctx, outPrefix+other, userID)
		pipe.SRem(ctx, inPrefix+userID, other)
	}
	for _, other := range incoming {
		pipe.SRem(ctx, outPrefix+other, userID)
		pipe.SRem(ctx, inPrefix+other, userID)
		pipe.SRem(ctx, outPrefix+userID, other)
	}
	pipe.Del(ctx, outPrefix+userID)
	pipe.Del(ctx, inPrefix+userID)
	_, err = pipe.Exec(ctx)
	return err
}
