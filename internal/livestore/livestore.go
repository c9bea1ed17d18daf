// Package livestore implements the real-time data store primitives the
// collaboration core is built on: opaque paths holding JSON documents or
// append-only lists, with a live subscription per path. Values live in
// Redis; change fan-out rides Redis pub/sub, one channel per path.
package livestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tempora/api/internal/util"
)

// Store is a Redis-backed live document store.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{client: client, prefix: "ls:"}, nil
}

// NewWithClient creates a store from an existing Redis client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, prefix: "ls:"}
}

func (s *Store) key(path string) string {
	return s.prefix + path
}

func (s *Store) channel(path string) string {
	return s.prefix + "ch:" + path
}

// Get returns the document at path, or nil if nothing was ever written.
// For list paths (written via Push) it returns the serialized array.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	isList, err := s.client.Exists(ctx, s.key(path)+":list").Result()
	if err != nil {
		return nil, fmt.Errorf("check list %s: %w", path, err)
	}
	if isList > 0 {
		return s.serializeList(ctx, path)
	}

	value, err := s.client.Get(ctx, s.key(path)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return value, nil
}

// Set writes the document at path and publishes the new value to all
// subscribers of that path.
func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	if err := s.client.Set(ctx, s.key(path), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if err := s.client.Publish(ctx, s.channel(path), value).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// Update shallow-merges partial into the JSON object at path, writes the
// result back, and publishes it. A missing document starts empty.
// Concurrent updates are last-write-wins, matching the store contract.
func (s *Store) Update(ctx context.Context, path string, partial map[string]any) error {
	current, err := s.client.Get(ctx, s.key(path)).Bytes()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("read %s for update: %w", path, err)
	}

	merged := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &merged); err != nil {
			return fmt.Errorf("decode %s for update: %w", path, err)
		}
	}
	for field, value := range partial {
		merged[field] = value
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode %s update: %w", path, err)
	}
	return s.Set(ctx, path, encoded)
}

// Push appends an item to the list at path and publishes the full
// serialized list. The item's embedded "id" field is used when present
// (optimistic writers assign ids locally before the durable write);
// otherwise a new id is generated. The item id is returned either way.
func (s *Store) Push(ctx context.Context, path string, item []byte) (string, error) {
	id := itemID(item)
	if id == "" {
		id = util.NewID("itm")
	}

	if err := s.client.RPush(ctx, s.key(path)+":list", item).Err(); err != nil {
		return "", fmt.Errorf("push %s: %w", path, err)
	}

	list, err := s.serializeList(ctx, path)
	if err != nil {
		return "", err
	}
	if err := s.client.Publish(ctx, s.channel(path), list).Err(); err != nil {
		return "", fmt.Errorf("publish %s: %w", path, err)
	}
	return id, nil
}

// List returns the items pushed to path in insertion order.
func (s *Store) List(ctx context.Context, path string) ([]json.RawMessage, error) {
	rows, err := s.client.LRange(ctx, s.key(path)+":list", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	items := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, json.RawMessage(row))
	}
	return items, nil
}

func (s *Store) serializeList(ctx context.Context, path string) ([]byte, error) {
	items, err := s.List(ctx, path)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode list %s: %w", path, err)
	}
	return encoded, nil
}

// Subscribe attaches onChange to path. The current snapshot (if any) is
// delivered first, then every published update in the store's emission
// order. The returned unsubscribe detaches deterministically: once it
// returns, onChange will not be invoked again.
func (s *Store) Subscribe(ctx context.Context, path string, onChange func([]byte)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, s.channel(path))
	// Confirm the subscription before reading the snapshot so no update
	// can slip between the two.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	snapshot, err := s.Get(ctx, path)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	var mu sync.Mutex
	closed := false
	deliver := func(value []byte) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		onChange(value)
	}

	if snapshot != nil {
		deliver(snapshot)
	}

	go func() {
		for msg := range pubsub.Channel() {
			deliver([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mu.Lock()
			closed = true
			mu.Unlock()
			_ = pubsub.Close()
		})
	}
	return unsubscribe, nil
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func itemID(item []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item, &probe); err != nil {
		return ""
	}
	return probe.ID
}
