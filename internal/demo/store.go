package demo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Gamble options
const (
	OptionZero  = "0"
	OptionOne   = "1"
	OptionReset = "reset"
)

var ErrUnknownOption = errors.New("unknown gamble option")

// Tally counts the ones and zeros played so far.
type Tally struct {
	Ones  int64 `json:"ones"`
	Zeros int64 `json:"zeros"`
}

// ValidOption reports whether option is a known gamble option.
func ValidOption(option string) bool {
	switch option {
	case OptionZero, OptionOne, OptionReset:
		return true
	}
	return false
}

// Store keeps the gamble tally. Apply changes it according to option and
// returns the tally as it was before the change.
type Store interface {
	Apply(ctx context.Context, option string) (Tally, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	tally Tally
}

// NewMemoryStore creates an empty in-memory tally.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Apply(_ context.Context, option string) (Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.tally
	switch option {
	case OptionZero:
		s.tally.Zeros++
	case OptionOne:
		s.tally.Ones++
	case OptionReset:
		s.tally = Tally{}
	default:
		return Tally{}, fmt.Errorf("%w: %q", ErrUnknownOption, option)
	}
	return old, nil
}

// RedisStore keeps the tally in a Redis hash so several servers can share it.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore stores the tally in the hash at key.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = "mini-server:gamble"
	}
	return &RedisStore{client: client, key: key}
}

// Apply reads and updates the hash in one MULTI/EXEC transaction.
func (s *RedisStore) Apply(ctx context.Context, option string) (Tally, error) {
	if !ValidOption(option) {
		return Tally{}, fmt.Errorf("%w: %q", ErrUnknownOption, option)
	}

	pipe := s.client.TxPipeline()
	current := pipe.HGetAll(ctx, s.key)
	switch option {
	case OptionZero:
		pipe.HIncrBy(ctx, s.key, "zeros", 1)
	case OptionOne:
		pipe.HIncrBy(ctx, s.key, "ones", 1)
	case OptionReset:
		pipe.Del(ctx, s.key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Tally{}, fmt.Errorf("redis gamble %s: %w", option, err)
	}

	return parseTally(current.Val())
}

func parseTally(fields map[string]string) (Tally, error) {
	var t Tally
	for name, dst := range map[string]*int64{"ones": &t.Ones, "zeros": &t.Zeros} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Tally{}, fmt.Errorf("corrupt tally field %s=%q: %w", name, raw, err)
		}
		*dst = n
	}
	return t, nil
}
