package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis.
// Suitable when the REST API and the session layer run as separate
// processes against shared state.
type RedisStore struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all store keys (default: "codehive:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "codehive:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "codehive:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Key helpers
func (s *RedisStore) userKey(id string) string {
	return s.prefix + "user:" + id
}

func (s *RedisStore) emailKey(email string) string {
	return s.prefix + "user-email:" + strings.ToLower(email)
}

func (s *RedisStore) usersKey() string {
	return s.prefix + "users"
}

func (s *RedisStore) projectKey(id string) string {
	return s.prefix + "project:" + id
}

func (s *RedisStore) userProjectsKey(userID string) string {
	return s.prefix + "user-projects:" + userID
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// CreateUser persists a new user.
func (s *RedisStore) CreateUser(ctx context.Context, u *User) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	// Claim the email key first; SetNX makes registration race-safe.
	claimed, err := s.client.SetNX(ctx, s.emailKey(u.Email), u.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("claim email: %w", err)
	}
	if !claimed {
		return ErrUserExists
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.userKey(u.ID), data, 0)
	pipe.SAdd(ctx, s.usersKey(), u.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	return nil
}

// UserByID retrieves a user by id.
func (s *RedisStore) UserByID(ctx context.Context, id string) (*User, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// UserByEmail retrieves a user by email.
func (s *RedisStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	id, err := s.client.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get email index: %w", err)
	}

	return s.UserByID(ctx, id)
}

// ListUsers returns all registered users.
func (s *RedisStore) ListUsers(ctx context.Context) ([]*User, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	// Redis sets are unordered; sort for deterministic listings.
	sort.Strings(ids)

	users := make([]*User, 0, len(ids))
	for _, id := range ids {
		u, err := s.UserByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				// User was deleted, clean up index.
				s.client.SRem(ctx, s.usersKey(), id)
				continue
			}
			return nil, err
		}
		users = append(users, u)
	}

	return users, nil
}

// CreateProject persists a new project.
func (s *RedisStore) CreateProject(ctx context.Context, p *Project) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.projectKey(p.ID), data, 0)
	for _, userID := range p.MemberIDs {
		pipe.SAdd(ctx, s.userProjectsKey(userID), p.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save project: %w", err)
	}

	return nil
}

// Project retrieves a project by id.
func (s *RedisStore) Project(ctx context.Context, id string) (*Project, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.projectKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}

	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}
	return &p, nil
}

// ProjectsForUser returns all projects the user is a member of.
func (s *RedisStore) ProjectsForUser(ctx context.Context, userID string) ([]*Project, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.userProjectsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list user projects: %w", err)
	}

	sort.Strings(ids)

	projects := make([]*Project, 0, len(ids))
	for _, id := range ids {
		p, err := s.Project(ctx, id)
		if err != nil {
			if errors.Is(err, ErrProjectNotFound) {
				s.client.SRem(ctx, s.userProjectsKey(userID), id)
				continue
			}
			return nil, err
		}
		projects = append(projects, p)
	}

	return projects, nil
}

// AddMembers appends users to a project's member list.
func (s *RedisStore) AddMembers(ctx context.Context, projectID string, userIDs []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	p, err := s.Project(ctx, projectID)
	if err != nil {
		return err
	}

	added := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" || p.HasMember(id) {
			continue
		}
		p.MemberIDs = append(p.MemberIDs, id)
		added = append(added, id)
	}
	if len(added) == 0 {
		return nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.projectKey(p.ID), data, 0)
	for _, userID := range added {
		pipe.SAdd(ctx, s.userProjectsKey(userID), p.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save project members: %w", err)
	}

	return nil
}

// Close releases resources held by the store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}
