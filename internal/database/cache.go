package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{rdb: rdb}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}

	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// CachedRepository serves session loads from the cache and falls through to
// the wrapped repository on a miss. Writes go to the repository and refresh
// the cached copy. Cache failures are logged and never fail a request.
type CachedRepository struct {
	Repository
	cache Cache
	ttl   time.Duration
	log   *log.Logger
}

func NewCachedRepository(repo Repository, cache Cache, ttl time.Duration, logger *log.Logger) *CachedRepository {
	return &CachedRepository{
		Repository: repo,
		cache:      cache,
		ttl:        ttl,
		log:        logger,
	}
}

func sessionKey(sessionId string) string {
	return "session:" + sessionId
}

func (cr *CachedRepository) GetSession(ctx context.Context, sessionId string) (Session, error) {
	raw, err := cr.cache.Get(ctx, sessionKey(sessionId))
	if err == nil {
		var s Session
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, nil
		}
		cr.log.Printf("cache: decode session %q: %v", sessionId, err)
	} else if !errors.Is(err, ErrCacheMiss) {
		cr.log.Printf("cache: get session %q: %v", sessionId, err)
	}

	s, err := cr.Repository.GetSession(ctx, sessionId)
	if err != nil {
		return Session{}, err
	}

	cr.store(ctx, s)
	return s, nil
}

func (cr *CachedRepository) CreateSession(ctx context.Context, params CreateSessionParams) (Session, error) {
	s, err := cr.Repository.CreateSession(ctx, params)
	if err != nil {
		return Session{}, err
	}

	cr.store(ctx, s)
	return s, nil
}

func (cr *CachedRepository) UpdateSession(ctx context.Context, params UpdateSessionParams) (Session, error) {
	s, err := cr.Repository.UpdateSession(ctx, params)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			cr.invalidate(ctx, params.SessionId)
		}
		return Session{}, err
	}

	cr.store(ctx, s)
	return s, nil
}

func (cr *CachedRepository) Close() error {
	return errors.Join(cr.Repository.Close(), cr.cache.Close())
}

func (cr *CachedRepository) store(ctx context.Context, s Session) {
	raw, err := json.Marshal(s)
	if err != nil {
		cr.log.Printf("cache: encode session %q: %v", s.SessionId, err)
		return
	}

	if err := cr.cache.Set(ctx, sessionKey(s.SessionId), raw, cr.ttl); err != nil {
		cr.log.Printf("cache: set session %q: %v", s.SessionId, err)
	}
}

func (cr *CachedRepository) invalidate(ctx context.Context, sessionId string) {
	if err := cr.cache.Delete(ctx, sessionKey(sessionId)); err != nil {
		cr.log.Printf("cache: delete session %q: %v", sessionId, err)
	}
}
