package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/sirupsen/logrus"
)

const sweeperLockKey = "lock:voucher:reservation-sweeper"

// maxBatchesPerSweep bounds one pass so a huge backlog cannot pin the leader.
const maxBatchesPerSweep = 50

type ExpiredReleaser func(ctx context.Context, cutoff time.Time, limit int) (int, error)

// ReservationSweeper returns reservations older than TTL to the available pool.
// The Redis lock only keeps instances from doing duplicate work; SKIP LOCKED keeps
// overlapping sweeps correct when the lock is unavailable.
type ReservationSweeper struct {
	Release   ExpiredReleaser
	Locker    *redislock.Client
	Logger    *logrus.Logger
	TTL       time.Duration
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

func NewReservationSweeper(logger *logrus.Logger) *ReservationSweeper {
	return &ReservationSweeper{
		Release:   models.ReleaseExpiredReservations,
		Locker:    config.GetRedisLock(),
		Logger:    logger,
		TTL:       config.ReservationTTL(),
		Interval:  config.SweeperInterval(),
		BatchSize: config.SweeperBatchSize(),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReservationSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && s.Logger != nil {
			config.LogError(s.Logger, "workflow", "ReservationSweeper.Run", "sweep", nil, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce releases every reservation that expired before now-TTL, one batch at a time.
func (s *ReservationSweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.Locker != nil {
		lock, err := s.Locker.Obtain(ctx, sweeperLockKey, s.Interval, nil)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			sweeperRuns.WithLabelValues("skipped").Inc()
			return 0, nil
		case err != nil:
			// best effort: sweep without the lock
			if s.Logger != nil {
				s.Logger.WithFields(logrus.Fields{"field": "ReservationSweeper"}).
					Warn("could not obtain sweeper lock; sweeping without it: " + err.Error())
			}
		default:
			defer func() { _ = lock.Release(context.Background()) }()
		}
	}

	cutoff := s.Now().Add(-s.TTL)
	total := 0
	for i := 0; i < maxBatchesPerSweep; i++ {
		n, err := s.Release(ctx, cutoff, s.BatchSize)
		total += n
		if err != nil {
			sweeperRuns.WithLabelValues("error").Inc()
			return total, err
		}
		if n < s.BatchSize {
			break
		}
	}
	sweeperRuns.WithLabelValues("ok").Inc()
	if total > 0 && s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":    "ReservationSweeper",
			"released": total,
			"cutoff":   cutoff.Format(time.RFC3339),
		}).Info("expired voucher reservations released")
	}
	return total, nil
}
