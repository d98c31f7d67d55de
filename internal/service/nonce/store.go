package nonce

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// Store 保存每个地址的下一个 nonce
type Store interface {
	Get(ctx context.Context, addr common.Address) (uint64, bool, error)
	Set(ctx context.Context, addr common.Address, next uint64) error
	Delete(ctx context.Context, addr common.Address) error
}

type MemoryStore struct {
	mu   sync.Mutex
	next map[common.Address]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{next: make(map[common.Address]uint64)}
}

func (s *MemoryStore) Get(_ context.Context, addr common.Address) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.next[addr]
	return n, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, addr common.Address, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[addr] = next
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, addr common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.next, addr)
	return nil
}

// RedisStore 多实例共享的计数，配合 WithDistributedLock 使用
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "wallet:nonce:"}
}

func (s *RedisStore) key(addr common.Address) string {
	return s.prefix + addr.Hex()
}

func (s *RedisStore) Get(ctx context.Context, addr common.Address) (uint64, bool, error) {
	v, err := s.client.Get(ctx, s.key(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (s *RedisStore) Set(ctx context.Context, addr common.Address, next uint64) error {
	return s.client.Set(ctx, s.key(addr), strconv.FormatUint(next, 10), 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, addr common.Address) error {
	return s.client.Del(ctx, s.key(addr)).Err()
}
