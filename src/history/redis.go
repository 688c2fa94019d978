package history

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps history in one sorted set per user.
type RedisStore struct {
	client redis.UniversalClient
	opts   Options
}

// NewRedisStore creates a store over an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts.withDefaults()}
}

func (s *RedisStore) key(uid string) string {
	return s.opts.KeyPrefix + uid
}

// Append adds the entry, resets the expiry and trims in one MULTI block.
func (s *RedisStore) Append(ctx context.Context, uid string, payload []byte, ts int64) error {
	key := s.key(uid)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(ts), Member: string(payload)})
		pipe.Expire(ctx, key, s.opts.TTL)
		// Ranks 0..-(Len+1) are everything except the Len highest scores.
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-(s.opts.Len + 1)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("history append %s: %w", uid, err)
	}
	return nil
}

// Replay returns up to ReplayWindow of the most recent entries, oldest first.
func (s *RedisStore) Replay(ctx context.Context, uid string) ([][]byte, error) {
	vals, err := s.client.ZRevRange(ctx, s.key(uid), 0, int64(s.opts.ReplayWindow-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("history replay %s: %w", uid, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[len(vals)-1-i] = []byte(v)
	}
	return out, nil
}
