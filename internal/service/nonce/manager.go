package nonce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wallet-relay/pkg/logger"
	"wallet-relay/pkg/monitor"
	"wallet-relay/pkg/utils/lock"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Source 链上 pending nonce，只在首次使用或计数失效时查询
type Source interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Manager 按地址串行化 nonce 分配
// Acquire 持有该地址的锁直到 Commit 或 Release，因此同一地址不会出现重复 nonce；
// 流动性账户被所有请求共享，同样走这把锁
type Manager struct {
	source Source
	store  Store

	// locker 非空时额外加 Redis 锁，跨进程串行化
	locker  lock.DistributedLock
	lockTTL time.Duration

	mu    sync.Mutex
	slots map[common.Address]chan struct{}
	// stale 计数写入和删除都失败的地址，下次分配绕过 store 直接查链
	stale map[common.Address]bool

	shared map[common.Address]bool
}

type Option func(*Manager)

// WithDistributedLock 多实例部署时使用
func WithDistributedLock(l lock.DistributedLock, ttl time.Duration) Option {
	return func(m *Manager) {
		m.locker = l
		m.lockTTL = ttl
	}
}

// WithSharedAccount 标记共享账户 (流动性账户)，只影响监控标签
func WithSharedAccount(addr common.Address) Option {
	return func(m *Manager) {
		m.shared[addr] = true
	}
}

func NewManager(source Source, store Store, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		source:  source,
		store:   store,
		lockTTL: 2 * time.Minute,
		slots:   make(map[common.Address]chan struct{}),
		stale:   make(map[common.Address]bool),
		shared:  make(map[common.Address]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) slot(addr common.Address) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[addr]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[addr] = s
	}
	return s
}

// Acquire 获取 addr 的下一个 nonce 并持有该地址的独占权
func (m *Manager) Acquire(ctx context.Context, addr common.Address) (*Lease, error) {
	s := m.slot(addr)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	release := func() { <-s }
	lockKey := "nonce:" + addr.Hex()
	if m.locker != nil {
		if err := lock.AcquireWait(ctx, m.locker, lockKey, m.lockTTL, 50*time.Millisecond); err != nil {
			release()
			return nil, fmt.Errorf("nonce lock %s: %w", addr.Hex(), err)
		}
		local := release
		release = func() {
			if err := m.locker.Release(context.Background(), lockKey); err != nil {
				logger.Warn("release nonce lock failed", zap.String("address", addr.Hex()), zap.Error(err))
			}
			local()
		}
	}

	var (
		next uint64
		ok   bool
		err  error
	)
	if !m.isStale(addr) {
		next, ok, err = m.store.Get(ctx, addr)
		if err != nil {
			release()
			return nil, fmt.Errorf("nonce store: %w", err)
		}
	}
	if !ok {
		next, err = m.source.PendingNonceAt(ctx, addr)
		if err != nil {
			release()
			return nil, fmt.Errorf("pending nonce %s: %w", addr.Hex(), err)
		}
		logger.Debug("nonce seeded from chain", zap.String("address", addr.Hex()), zap.Uint64("nonce", next))
		m.setStale(addr, false)
	}

	return &Lease{m: m, addr: addr, nonce: next, release: release}, nil
}

func (m *Manager) isStale(addr common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale[addr]
}

func (m *Manager) setStale(addr common.Address, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v {
		m.stale[addr] = true
	} else {
		delete(m.stale, addr)
	}
}

// Peek 返回下一个将被分配的 nonce，不加锁，仅供查询
func (m *Manager) Peek(ctx context.Context, addr common.Address) (uint64, error) {
	if m.isStale(addr) {
		return m.source.PendingNonceAt(ctx, addr)
	}
	next, ok, err := m.store.Get(ctx, addr)
	if err != nil {
		return 0, err
	}
	if ok {
		return next, nil
	}
	return m.source.PendingNonceAt(ctx, addr)
}

// Lease 一次 nonce 分配。交易成功广播后 Commit，否则 Release
type Lease struct {
	m       *Manager
	addr    common.Address
	nonce   uint64
	release func()
	once    sync.Once
}

func (l *Lease) Nonce() uint64 {
	return l.nonce
}

// Commit 广播成功：计数前移并释放地址
// 计数写不进去时 store 里还是刚用掉的 nonce，必须在释放前让它失效
func (l *Lease) Commit(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		defer l.release()
		err = l.m.store.Set(ctx, l.addr, l.nonce+1)
		if err != nil {
			l.invalidate(err)
			return
		}
		role := "user"
		if l.m.shared[l.addr] {
			role = "liquidity"
		}
		monitor.Business.NonceAllocatedTotal.WithLabelValues(role).Inc()
	})
	return err
}

// invalidate 丢弃缓存计数，删除也失败时在本进程标记为 stale
func (l *Lease) invalidate(cause error) {
	log := logger.With(zap.String("address", l.addr.Hex()), zap.Uint64("nonce", l.nonce))
	if err := l.m.store.Delete(context.Background(), l.addr); err != nil {
		log.Error("nonce counter stuck, falling back to chain", zap.Error(err), zap.NamedError("cause", cause))
		l.m.setStale(l.addr, true)
		return
	}
	log.Warn("advance nonce failed, cached counter dropped", zap.Error(cause))
}

// Release 未广播 (或广播失败)：不前移计数，并丢弃缓存让下次重新从链上取
// 广播报错但实际被节点接受的交易会反映在 pending nonce 里，不会被同一 nonce 覆盖成两笔
func (l *Lease) Release() {
	l.once.Do(func() {
		defer l.release()
		if err := l.m.store.Delete(context.Background(), l.addr); err != nil {
			logger.Warn("drop cached nonce failed", zap.String("address", l.addr.Hex()), zap.Error(err))
		}
	})
}
