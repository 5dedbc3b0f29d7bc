package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
}

func (m memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && now.After(m.expireAt)
}

// MemoryStore implements Store in process memory. It backs tests and the local dev mode.
type MemoryStore struct {
	mu      sync.Mutex
	kv      map[string]memoryItem
	zsets   map[string]map[string]float64
	lists   map[string][][]byte
	streams map[string][]LogEntry
	subs    map[string][]chan Message
	notify  chan struct{}
	seq     uint64
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:      make(map[string]memoryItem),
		zsets:   make(map[string]map[string]float64),
		lists:   make(map[string][][]byte),
		streams: make(map[string][]LogEntry),
		subs:    make(map[string][]chan Message),
		notify:  make(chan struct{}),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	item, ok := m.kv[key]
	if ok && item.expired(time.Now()) {
		delete(m.kv, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return decode(item.data, dest)
}

func (m *MemoryStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = newItem(data, ttl)
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := encode(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.kv[key]; ok && !item.expired(time.Now()) {
		return false, nil
	}
	m.kv[key] = newItem(data, ttl)
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.kv, k)
		delete(m.zsets, k)
		delete(m.lists, k)
		delete(m.streams, k)
	}
	return nil
}

func (m *MemoryStore) ZAddCapped(_ context.Context, key string, score float64, member string, max int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	if max > 0 && int64(len(z)) > max {
		sorted := sortedMembers(z)
		for _, zm := range sorted[:int64(len(sorted))-max] {
			delete(z, zm.Member)
		}
	}
	return nil
}

func (m *MemoryStore) ZRangeByScore(_ context.Context, key string, min, max float64, limit int64) ([]ZMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ZMember
	for _, zm := range sortedMembers(m.zsets[key]) {
		if zm.Score < min || zm.Score > max {
			continue
		}
		out = append(out, zm)
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if z, ok := m.zsets[key]; ok {
		for _, mem := range members {
			delete(z, mem)
		}
	}
	return nil
}

func (m *MemoryStore) PushCapped(_ context.Context, key string, value interface{}, max int64) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l := append(m.lists[key], data)
	if max > 0 && int64(len(l)) > max {
		l = append([][]byte(nil), l[int64(len(l))-max:]...)
	}
	m.lists[key] = l
	return nil
}

func (m *MemoryStore) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return []string{}, nil
	}
	out := make([]string, 0, stop-start+1)
	for _, b := range l[start : stop+1] {
		out = append(out, string(b))
	}
	return out, nil
}

func (m *MemoryStore) Append(_ context.Context, stream string, maxLen int64, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.seq++
	id := fmt.Sprintf("%d-0", m.seq)
	entries := append(m.streams[stream], LogEntry{ID: id, Payload: append([]byte(nil), payload...)})
	if maxLen > 0 && int64(len(entries)) > maxLen {
		entries = append([]LogEntry(nil), entries[int64(len(entries))-maxLen:]...)
	}
	m.streams[stream] = entries

	close(m.notify)
	m.notify = make(chan struct{})
	return id, nil
}

func (m *MemoryStore) ReadLog(ctx context.Context, stream, afterID string, count int64, block time.Duration) ([]LogEntry, error) {
	var deadline <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		var out []LogEntry
		for _, e := range m.streams[stream] {
			if compareID(e.ID, afterID) > 0 {
				out = append(out, e)
				if count > 0 && int64(len(out)) >= count {
					break
				}
			}
		}
		wait := m.notify
		m.mu.Unlock()

		if len(out) > 0 || deadline == nil {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-wait:
		}
	}
}

func (m *MemoryStore) LastID(_ context.Context, stream string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.streams[stream]
	if len(entries) == 0 {
		return "0-0", nil
	}
	return entries[len(entries)-1].ID, nil
}

// StreamLen returns the number of retained entries in stream.
func (m *MemoryStore) StreamLen(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[stream])
}

func (m *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[channel] {
		select {
		case ch <- Message{Channel: channel, Payload: append([]byte(nil), payload...)}:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context, channels ...string) (<-chan Message, func() error, error) {
	ch := make(chan Message, 64)
	m.mu.Lock()
	for _, c := range channels {
		m.subs[c] = append(m.subs[c], ch)
	}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() error {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, c := range channels {
				subs := m.subs[c]
				for i, s := range subs {
					if s == ch {
						m.subs[c] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
		return nil
	}
	return ch, cancel, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.notify)
	m.notify = make(chan struct{})
	return nil
}

func newItem(data []byte, ttl time.Duration) memoryItem {
	item := memoryItem{data: data}
	if ttl > 0 {
		item.expireAt = time.Now().Add(ttl)
	}
	return item
}

func sortedMembers(z map[string]float64) []ZMember {
	out := make([]ZMember, 0, len(z))
	for k, v := range z {
		out = append(out, ZMember{Member: k, Score: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Member < out[j].Member
		}
		return out[i].Score < out[j].Score
	})
	return out
}

// compareID orders "<ms>-<seq>" stream ids.
func compareID(a, b string) int {
	am, as := splitID(a)
	bm, bs := splitID(b)
	switch {
	case am != bm:
		if am < bm {
			return -1
		}
		return 1
	case as != bs:
		if as < bs {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func splitID(id string) (uint64, uint64) {
	ms, seq, _ := strings.Cut(id, "-")
	a, _ := strconv.ParseUint(ms, 10, 64)
	b, _ := strconv.ParseUint(seq, 10, 64)
	return a, b
}
