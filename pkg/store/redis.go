package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// RedisStore implements Store on Redis (strings, sorted sets, lists, streams, pub/sub).
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and fails if the server does not answer a ping.
func NewRedisStore(opts ...RedisOption) (*RedisStore, error) {
	cfg := &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		MinIdleConns: 5,
		PingTimeout:  5 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, prefix: cfg.Prefix}, nil
}

// NewRedisStoreFromClient wraps an existing client without pinging it.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Client returns underlying redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := s.client.Get(ctx, s.wrapKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return decode(data, dest)
}

func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.client.Set(ctx, s.wrapKey(key), data, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := encode(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	return s.client.SetNX(ctx, s.wrapKey(key), data, ttl).Result()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Unlink(ctx, s.wrapKeys(keys...)...).Err()
}

func (s *RedisStore) ZAddCapped(ctx context.Context, key string, score float64, member string, max int64) error {
	key = s.wrapKey(key)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	if max > 0 {
		pipe.ZRemRangeByRank(ctx, key, 0, -(max + 1))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]ZMember, error) {
	res, err := s.client.ZRangeByScoreWithScores(ctx, s.wrapKey(key), &redis.ZRangeBy{
		Min:   formatScore(min),
		Max:   formatScore(max),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ZMember, 0, len(res))
	for _, z := range res {
		m, ok := z.Member.(string)
		if !ok {
			m = fmt.Sprint(z.Member)
		}
		out = append(out, ZMember{Member: m, Score: z.Score})
	}
	return out, nil
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.ZRem(ctx, s.wrapKey(key), args...).Err()
}

func (s *RedisStore) PushCapped(ctx context.Context, key string, value interface{}, max int64) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	key = s.wrapKey(key)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if max > 0 {
		pipe.LTrim(ctx, key, -max, -1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, s.wrapKey(key), start, stop).Result()
}

func (s *RedisStore) Append(ctx context.Context, stream string, maxLen int64, payload []byte) (string, error) {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.wrapKey(stream),
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: payload},
	}).Result()
}

func (s *RedisStore) ReadLog(ctx context.Context, stream, afterID string, count int64, block time.Duration) ([]LogEntry, error) {
	if block <= 0 {
		block = -1
	}
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.wrapKey(stream), afterID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out []LogEntry
	for _, st := range res {
		for _, msg := range st.Messages {
			out = append(out, LogEntry{ID: msg.ID, Payload: payloadOf(msg.Values)})
		}
	}
	return out, nil
}

func (s *RedisStore) LastID(ctx context.Context, stream string) (string, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.wrapKey(stream), "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, s.wrapKey(channel), payload).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error) {
	ps := s.client.Subscribe(ctx, s.wrapKeys(channels...)...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		for m := range ps.Channel() {
			select {
			case out <- Message{Channel: s.unwrapKey(m.Channel), Payload: []byte(m.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, ps.Close, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) wrapKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *RedisStore) unwrapKey(key string) string {
	if s.prefix == "" {
		return key
	}
	if len(key) > len(s.prefix)+1 && key[:len(s.prefix)+1] == s.prefix+":" {
		return key[len(s.prefix)+1:]
	}
	return key
}

func (s *RedisStore) wrapKeys(keys ...string) []string {
	wrapped := make([]string, len(keys))
	for i, key := range keys {
		wrapped[i] = s.wrapKey(key)
	}
	return wrapped
}

func payloadOf(values map[string]interface{}) []byte {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
