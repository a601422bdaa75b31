// Package session tracks what a chat user is in the middle of doing.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Kind string

const (
	Idle                    Kind = "idle"
	AwaitingNewTask         Kind = "awaiting_new_task"
	AwaitingEditDescription Kind = "awaiting_edit_description"
)

// State is a user's conversation state. TaskID is only set for AwaitingEditDescription.
type State struct {
	Kind      Kind      `json:"kind"`
	TaskID    uint      `json:"task_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTaskState() State {
	return State{Kind: AwaitingNewTask}
}

func EditState(taskID uint) State {
	return State{Kind: AwaitingEditDescription, TaskID: taskID}
}

func (s State) IsIdle() bool {
	return s.Kind == "" || s.Kind == Idle
}

type Store interface {
	Get(ctx context.Context, userID int64) (State, error)
	Set(ctx context.Context, userID int64, state State) error
	Clear(ctx context.Context, userID int64) error
}

type memoryEntry struct {
	state   State
	expires time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]memoryEntry
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[int64]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, userID int64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[userID]
	if !ok {
		return State{Kind: Idle}, nil
	}
	if m.ttl > 0 && m.now().After(e.expires) {
		delete(m.entries, userID)
		return State{Kind: Idle}, nil
	}
	return e.state, nil
}

func (m *MemoryStore) Set(ctx context.Context, userID int64, state State) error {
	if state.IsIdle() {
		return m.Clear(ctx, userID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	state.UpdatedAt = now
	m.entries[userID] = memoryEntry{state: state, expires: now.Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(userID int64) string {
	return fmt.Sprintf("%s%d", r.prefix, userID)
}

func (r *RedisStore) Get(ctx context.Context, userID int64) (State, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{Kind: Idle}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load session: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode session: %w", err)
	}
	return state, nil
}

func (r *RedisStore) Set(ctx context.Context, userID int64, state State) error {
	if state.IsIdle() {
		return r.Clear(ctx, userID)
	}

	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(userID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
