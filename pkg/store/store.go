package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("store: key not found")
	ErrClosed   = errors.New("store: closed")
)

// LogEntry is one record read from an append-only log.
type LogEntry struct {
	ID      string
	Payload []byte
}

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// ZMember is a sorted-set member with its score.
type ZMember struct {
	Member string
	Score  float64
}

// Store is the shared state used by every pipeline component.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error

	// ZAddCapped adds member and keeps only the max highest-scored members (max <= 0 keeps all).
	ZAddCapped(ctx context.Context, key string, score float64, member string, max int64) error
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]ZMember, error)
	ZRem(ctx context.Context, key string, members ...string) error

	// PushCapped appends to a list and trims it to the newest max entries in one step.
	PushCapped(ctx context.Context, key string, value interface{}, max int64) error
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Append adds a record to a log, trimming it to roughly maxLen entries.
	Append(ctx context.Context, stream string, maxLen int64, payload []byte) (string, error)
	// ReadLog returns entries strictly after afterID, waiting up to block. A timeout yields no entries.
	ReadLog(ctx context.Context, stream, afterID string, count int64, block time.Duration) ([]LogEntry, error)
	// LastID returns the id of the newest entry, or "0-0" for an empty log.
	LastID(ctx context.Context, stream string) (string, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error)

	Ping(ctx context.Context) error
	Close() error
}

// Key joins a prefix and parts with ':'.
func Key(prefix string, parts ...interface{}) string {
	key := prefix
	for _, p := range parts {
		key = fmt.Sprintf("%s:%v", key, p)
	}
	return key
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	default:
		return json.Unmarshal(data, dest)
	}
}

// GetOrDefault loads key into dest and reports whether it existed.
func GetOrDefault(ctx context.Context, s Store, key string, dest interface{}) (bool, error) {
	err := s.Get(ctx, key, dest)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RangeTyped decodes a list range into T, skipping entries that fail to decode.
func RangeTyped[T any](ctx context.Context, s Store, key string, start, stop int64) ([]T, error) {
	raw, err := s.Range(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
