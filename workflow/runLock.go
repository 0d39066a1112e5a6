package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"

	"github.com/mmdatafocus/txsummary/config"
)

const summaryRunLockKey = "lock:summary-materialize"

var ErrRunInProgress = errors.New("another summary materialization run holds the lock")

// AcquireRunLock keeps two batch runs from overlapping across instances.
// Without redis there is nothing to coordinate on and the lock is a no-op.
func AcquireRunLock(ctx context.Context, locker *redislock.Client, ttl time.Duration) (release func(), err error) {
	if locker == nil {
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, summaryRunLockKey, ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// the run may outlive ctx; release on a fresh one
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && err != redislock.ErrLockNotHeld {
			config.LogError(config.GetLogger(), "workflow", "AcquireRunLock", "release", summaryRunLockKey, err)
		}
	}, nil
}
