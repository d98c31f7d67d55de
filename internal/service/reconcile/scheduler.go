package reconcile

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"wallet-relay/pkg/logger"
	"wallet-relay/pkg/utils/lock"
)

const lockKey = "cron:lock:reconcile"

// Scheduler 定时跑对账，多实例部署时靠分布式锁保证同一时刻只有一个在跑
type Scheduler struct {
	cron     *cron.Cron
	resolver *Resolver
	locker   lock.DistributedLock
	spec     string
	lockTTL  time.Duration
}

func NewScheduler(resolver *Resolver, locker lock.DistributedLock, spec string) *Scheduler {
	if spec == "" {
		spec = "@every 1m"
	}
	return &Scheduler{
		cron:     cron.New(),
		resolver: resolver,
		locker:   locker,
		spec:     spec,
		lockTTL:  5 * time.Minute,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("Reconcile scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop 等待正在执行的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Reconcile scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
	defer cancel()
	_, _ = s.RunOnce(ctx)
}

// RunOnce 拿不到锁时跳过本轮
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	if s.locker != nil {
		locked, err := s.locker.Acquire(ctx, lockKey, s.lockTTL)
		if err != nil || !locked {
			logger.Debug("reconcile: lock busy, skipping round", zap.Error(err))
			return Result{}, err
		}
		defer func() {
			if err := s.locker.Release(context.Background(), lockKey); err != nil {
				logger.Warn("reconcile: release lock failed", zap.Error(err))
			}
		}()
	}

	res, err := s.resolver.Run(ctx)
	if err != nil {
		logger.Error("reconcile round failed", zap.Error(err))
	}
	return res, err
}
