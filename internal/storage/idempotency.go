package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrRequestInFlight is returned by Begin when another request holds the key.
var ErrRequestInFlight = errors.New("request with this idempotency key is in progress")

// IdempotencyStore remembers the first successful response for a request key.
type IdempotencyStore interface {
	// Get returns a stored response, if any.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Begin claims the key for the duration of one request.
	Begin(ctx context.Context, key string, ttl time.Duration) error
	// Complete stores the response and releases the claim.
	Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Abort releases the claim without storing anything.
	Abort(ctx context.Context, key string) error
}

const idempotencyPrefix = "signdesk:idem:"

// RedisIdempotencyStore keeps responses in redis with a TTL.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
}

var _ IdempotencyStore = (*RedisIdempotencyStore)(nil)

// NewRedisIdempotencyStore constructs a redis backed idempotency store.
func NewRedisIdempotencyStore(client redis.UniversalClient) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, idempotencyPrefix+key+":result").Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to load idempotent response")
	}
	return data, true, nil
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, idempotencyPrefix+key+":lock", "1", ttl).Result()
	if err != nil {
		return errors.Wrap(err, "failed to acquire idempotency lock")
	}
	if !ok {
		return ErrRequestInFlight
	}
	return nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, idempotencyPrefix+key+":result", response, ttl)
		pipe.Del(ctx, idempotencyPrefix+key+":lock")
		return nil
	})
	return errors.Wrap(err, "failed to store idempotent response")
}

func (s *RedisIdempotencyStore) Abort(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idempotencyPrefix+key+":lock").Err(); err != nil && err != redis.Nil {
		return errors.Wrap(err, "failed to release idempotency lock")
	}
	return nil
}

type idempotencyEntry struct {
	response  []byte
	expiresAt time.Time
}

// MemoryIdempotencyStore is the single-instance fallback used when redis is not configured.
type MemoryIdempotencyStore struct {
	mu       sync.Mutex
	results  map[string]idempotencyEntry
	inFlight map[string]time.Time
	now      func() time.Time
}

var _ IdempotencyStore = (*MemoryIdempotencyStore)(nil)

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		results:  make(map[string]idempotencyEntry),
		inFlight: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.results[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.results, key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.response...), true, nil
}

func (s *MemoryIdempotencyStore) Begin(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.inFlight[key]; ok && s.now().Before(until) {
		return ErrRequestInFlight
	}
	s.inFlight[key] = s.now().Add(ttl)
	return nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[key] = idempotencyEntry{
		response:  append([]byte(nil), response...),
		expiresAt: s.now().Add(ttl),
	}
	delete(s.inFlight, key)
	return nil
}

func (s *MemoryIdempotencyStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
	return nil
}
