package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// GlobalChannel is the presence channel of visitors that are not in a room.
const GlobalChannel = "global"

// PresenceRepository keeps one sorted set per channel, scored by the unix
// millisecond of each member's last heartbeat.
type PresenceRepository interface {
	Touch(ctx context.Context, channel, member string, at, since time.Time) (bool, error)
	Remove(ctx context.Context, channel, member string) error
	Live(ctx context.Context, channel string, since time.Time) (map[string]time.Time, error)
	Prune(ctx context.Context, channel string, before time.Time) ([]string, error)
	Count(ctx context.Context, channel string, since time.Time) (int64, error)
}

type dbPresence struct {
	client *redis.Client
	keyTTL time.Duration
}

func NewPresenceRepository(client *redis.Client, keyTTL time.Duration) PresenceRepository {
	return &dbPresence{
		client: client,
		keyTTL: keyTTL,
	}
}

func presenceKey(channel string) string {
	return "presence:" + channel
}

func score(at time.Time) string {
	return strconv.FormatInt(at.UnixMilli(), 10)
}

// Touch records a heartbeat of member at the given time. It reports true when
// the member was not present since the given cutoff, which means it just came online.
func (that *dbPresence) Touch(ctx context.Context, channel, member string, at, since time.Time) (bool, error) {
	key := presenceKey(channel)

	var previous *redis.FloatCmd

	_, err := that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		previous = pipe.ZScore(ctx, key, member)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
		pipe.Expire(ctx, key, that.keyTTL)

		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to touch presence: %w", err)
	}

	last, err := previous.Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to read previous presence: %w", err)
	}

	return int64(last) < since.UnixMilli(), nil
}

func (that *dbPresence) Remove(ctx context.Context, channel, member string) error {
	if err := that.client.ZRem(ctx, presenceKey(channel), member).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}

	return nil
}

// Live returns the members seen at or after since with their last heartbeat.
func (that *dbPresence) Live(ctx context.Context, channel string, since time.Time) (map[string]time.Time, error) {
	members, err := that.client.ZRangeByScoreWithScores(ctx, presenceKey(channel), &redis.ZRangeBy{
		Min: score(since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get live presence: %w", err)
	}

	live := make(map[string]time.Time, len(members))
	for _, member := range members {
		name, ok := member.Member.(string)
		if !ok {
			continue
		}

		live[name] = time.UnixMilli(int64(member.Score))
	}

	return live, nil
}

// Prune removes members whose last heartbeat is older than before and returns them.
func (that *dbPresence) Prune(ctx context.Context, channel string, before time.Time) ([]string, error) {
	key := presenceKey(channel)
	upper := "(" + score(before)

	var expired *redis.StringSliceCmd

	_, err := that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		expired = pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: upper})
		pipe.ZRemRangeByScore(ctx, key, "-inf", upper)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prune presence: %w", err)
	}

	return expired.Val(), nil
}

func (that *dbPresence) Count(ctx context.Context, channel string, since time.Time) (int64, error) {
	count, err := that.client.ZCount(ctx, presenceKey(channel), score(since), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count presence: %w", err)
	}

	return count, nil
}
