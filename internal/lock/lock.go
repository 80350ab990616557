package lock

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/0xsysr3ll/electledger/config"
)

// Lock is a distributed lock used to elect a single bootstrap leader when
// several instances start at once. Correctness of voting never depends on it;
// reconciliation is idempotent and the store's constraints absorb races. The
// lock only keeps concurrent bootstraps from hammering the store with
// duplicate-key inserts.
type Lock interface {
	// AcquireLock tries to take the named lock. The bool reports whether the
	// lock was obtained; false without error means another holder won.
	AcquireLock(lockName string, timeout time.Duration) (bool, error)

	// RefreshLock extends a held lock's expiry.
	RefreshLock(lockName string, timeout time.Duration) (bool, error)

	// ReleaseLock releases one held lock.
	ReleaseLock(lockName string) error

	// ReleaseAllLocks releases everything this instance holds.
	ReleaseAllLocks()

	Close() error
}

// New selects the lock backend from configuration.
func New(cfg *config.Config, log *logrus.Logger) (Lock, error) {
	switch cfg.Lock.Backend {
	case "etcd":
		return NewETCDLock(&cfg.ETCD)
	case "redis":
		return NewRedLock(&cfg.Redis, &cfg.Lock, log)
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}
