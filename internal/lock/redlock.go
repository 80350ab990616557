package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/0xsysr3ll/electledger/config"
)

// RedLock implements Lock with the redlock algorithm over several
// independent Redis nodes: a lock is held only while a majority of nodes
// agree.
type RedLock struct {
	clients     []*redis.Client
	addresses   []string
	ctx         context.Context
	mu          sync.Mutex
	locks       map[string]string // lock name -> fencing token
	retries     int
	clusterSize int
	log         *logrus.Logger
}

func NewRedLock(redisCfg *config.RedisConfig, lockCfg *config.LockConfig, log *logrus.Logger) (*RedLock, error) {
	ctx := context.Background()

	var clients []*redis.Client
	for _, addr := range redisCfg.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     redisCfg.Password,
			DB:           redisCfg.DB,
			PoolSize:     redisCfg.PoolSize,
			MaxRetries:   redisCfg.MaxRetries,
			DialTimeout:  redisCfg.Timeout,
			ReadTimeout:  redisCfg.Timeout,
			WriteTimeout: redisCfg.Timeout,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("ping redis lock node %s: %w", addr, err)
		}

		clients = append(clients, client)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no redis lock nodes configured")
	}

	retries := lockCfg.RetryCount
	if retries <= 0 {
		retries = 1
	}

	return &RedLock{
		clients:     clients,
		addresses:   redisCfg.LockAddresses,
		ctx:         ctx,
		locks:       make(map[string]string),
		retries:     retries,
		clusterSize: len(clients),
		log:         log,
	}, nil
}

func (r *RedLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Unix())

	for attempt := 0; attempt < r.retries; attempt++ {
		success := 0
		start := time.Now()

		for i, client := range r.clients {
			ok, err := client.SetNX(r.ctx, lockName, token, timeout).Result()
			if err != nil {
				r.log.WithError(err).WithField("node", r.addresses[i]).Warn("failed to set lock")
				continue
			}
			if ok {
				success++
			}
		}

		// The lock is only valid while a majority holds it and time remains
		// on the clock.
		validity := timeout - time.Since(start)
		if success >= r.clusterSize/2+1 && validity > 0 {
			r.locks[lockName] = token
			return true, nil
		}

		r.unlockAll(lockName, token)
		time.Sleep(100 * time.Millisecond)
	}

	return false, nil
}

func (r *RedLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.locks[lockName]
	if !ok {
		return false, fmt.Errorf("lock %s is not held", lockName)
	}

	// Refresh only the keys this instance owns.
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	success := 0
	for i, client := range r.clients {
		result, err := client.Eval(r.ctx, script, []string{lockName}, token, int(timeout/time.Millisecond)).Result()
		if err != nil {
			r.log.WithError(err).WithField("node", r.addresses[i]).Warn("failed to refresh lock")
			continue
		}
		if n, ok := result.(int64); ok && n == 1 {
			success++
		}
	}

	if success >= r.clusterSize/2+1 {
		return true, nil
	}

	delete(r.locks, lockName)
	return false, nil
}

func (r *RedLock) ReleaseLock(lockName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.locks[lockName]
	if !ok {
		return fmt.Errorf("lock %s is not held", lockName)
	}

	r.unlockAll(lockName, token)
	delete(r.locks, lockName)
	return nil
}

func (r *RedLock) unlockAll(lockName, token string) {
	// Delete only the keys this instance owns.
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`

	for i, client := range r.clients {
		if _, err := client.Eval(r.ctx, script, []string{lockName}, token).Result(); err != nil {
			r.log.WithError(err).WithField("node", r.addresses[i]).Warn("failed to release lock")
		}
	}
}

func (r *RedLock) ReleaseAllLocks() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, token := range r.locks {
		r.unlockAll(name, token)
	}
	r.locks = make(map[string]string)
}

func (r *RedLock) Close() error {
	r.ReleaseAllLocks()

	for _, client := range r.clients {
		if err := client.Close(); err != nil {
			r.log.WithError(err).Warn("failed to close redis lock client")
		}
	}

	return nil
}
