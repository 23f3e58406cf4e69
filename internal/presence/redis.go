package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix   = "presence:room:"
	editorKeyPrefix = "presence:editor:"

	maxTxRetries = 16
)

// ErrContention is returned when a mutation kept losing its optimistic
// transaction to concurrent writers.
var ErrContention = errors.New("presence: too much contention")

// RedisRegistry shares presence between server instances.
// Each room and each editor is one JSON list under its own key; mutations
// read and rewrite that key inside WATCH/MULTI so concurrent instances never
// assign cursors from a stale view.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry connects to redisURL and checks the connection
func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
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

	return NewRedisRegistryWithClient(client), nil
}

// NewRedisRegistryWithClient creates a registry from an existing Redis client
func NewRedisRegistryWithClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// Client exposes the underlying connection so the broadcast relay can share it
func (r *RedisRegistry) Client() *redis.Client {
	return r.client
}

func (r *RedisRegistry) JoinRoom(ctx context.Context, roomID, userID string, role Role) ([]RoomUser, error) {
	return mutate(ctx, r.client, roomKeyPrefix+roomID, func(users []RoomUser) []RoomUser {
		return joinRoom(users, userID, role)
	})
}

func (r *RedisRegistry) LeaveRoom(ctx context.Context, roomID, userID string) ([]RoomUser, error) {
	return mutate(ctx, r.client, roomKeyPrefix+roomID, func(users []RoomUser) []RoomUser {
		return leaveRoom(users, userID)
	})
}

func (r *RedisRegistry) JoinEditor(ctx context.Context, fileID, userID string) ([]EditorUser, error) {
	return mutate(ctx, r.client, editorKeyPrefix+fileID, func(users []EditorUser) []EditorUser {
		return joinEditor(users, userID)
	})
}

func (r *RedisRegistry) LeaveEditor(ctx context.Context, fileID, userID string) ([]EditorUser, error) {
	return mutate(ctx, r.client, editorKeyPrefix+fileID, func(users []EditorUser) []EditorUser {
		return leaveEditor(users, userID)
	})
}

func (r *RedisRegistry) RoomUsers(ctx context.Context, roomID string) ([]RoomUser, error) {
	return load[RoomUser](ctx, r.client, roomKeyPrefix+roomID)
}

func (r *RedisRegistry) EditorUsers(ctx context.Context, fileID string) ([]EditorUser, error) {
	return load[EditorUser](ctx, r.client, editorKeyPrefix+fileID)
}

func (r *RedisRegistry) Stats(ctx context.Context) (Stats, error) {
	rooms, err := r.count(ctx, roomKeyPrefix+"*")
	if err != nil {
		return Stats{}, err
	}
	editors, err := r.count(ctx, editorKeyPrefix+"*")
	if err != nil {
		return Stats{}, err
	}
	return Stats{Rooms: rooms, Editors: editors}, nil
}

func (r *RedisRegistry) count(ctx context.Context, pattern string) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan presence keys: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load[T any](ctx context.Context, c getter, key string) ([]T, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load presence %s: %w", key, err)
	}

	var users []T
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode presence %s: %w", key, err)
	}
	if users == nil {
		users = []T{}
	}
	return users, nil
}

// mutate runs apply against the list at key in one optimistic transaction.
// An empty result deletes the key.
func mutate[T any](ctx context.Context, client *redis.Client, key string, apply func([]T) []T) ([]T, error) {
	var result []T

	txf := func(tx *redis.Tx) error {
		users, err := load[T](ctx, tx, key)
		if err != nil {
			return err
		}

		next := apply(users)
		var payload []byte
		if len(next) > 0 {
			if payload, err = json.Marshal(next); err != nil {
				return fmt.Errorf("encode presence %s: %w", key, err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(next) == 0 {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, payload, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = make([]T, len(next))
		copy(result, next)
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("update presence %s: %w", key, ErrContention)
}
