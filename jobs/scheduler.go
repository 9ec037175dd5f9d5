package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrLockBusy means another instance is running the job.
var ErrLockBusy = errors.New("job lock held elsewhere")

// Job is one scheduled unit of work. Run reports how many records it handled.
type Job interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Locker keeps a job from running on two instances at once.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RedisLocker implements Locker with a single-try redsync mutex.
type RedisLocker struct {
	rs *redsync.Redsync
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rs: redsync.New(goredis.NewPool(rdb))}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, ErrLockBusy
		}
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return func() {
		_, _ = mutex.Unlock()
	}, nil
}

// Scheduler runs jobs on cron specs. Each run gets its own timeout and,
// when a Locker is set, a lock named after the job.
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	timeout time.Duration
	logger  *zap.Logger
}

func NewScheduler(locker Locker, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		cron:    cron.New(),
		locker:  locker,
		timeout: timeout,
		logger:  logger,
	}
}

// Register schedules job on spec (standard five-field cron or a descriptor
// such as "@hourly" or "@every 15m").
func (s *Scheduler) Register(spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.RunNow(ctx, job)
	}); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name(), spec, err)
	}
	s.logger.Info("Job scheduled", zap.String("job", job.Name()), zap.String("spec", spec))
	return nil
}

// RunNow runs job once under the job lock. A busy lock is not an error.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	log := s.logger.With(zap.String("job", job.Name()))

	if s.locker != nil {
		unlock, err := s.locker.TryLock(ctx, "jobs:"+job.Name(), s.timeout)
		if errors.Is(err, ErrLockBusy) {
			log.Info("Job already running elsewhere, skipping")
			return nil
		}
		if err != nil {
			log.Error("Job lock unavailable", zap.Error(err))
			return err
		}
		defer unlock()
	}

	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		log.Error("Job failed", zap.Int("processed", n), zap.Duration("duration", time.Since(start)), zap.Error(err))
		return err
	}
	log.Info("Job finished", zap.Int("processed", n), zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
