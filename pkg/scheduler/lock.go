package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lockTTL is how long a lease is held before it must be renewed. It must be
// comfortably larger than the renewal interval so a missed renewal tick
// doesn't let another process steal the lock mid-run.
const lockTTL = 45 * time.Second

// lockRenewInterval is how often the holder refreshes its lease.
const lockRenewInterval = 15 * time.Second

// ErrLockHeld is returned when another process currently holds the lease.
var ErrLockHeld = errors.New("scheduler: lock held by another process")

// compareAndDeleteScript deletes key only if its value still matches the
// caller's token, so a process never releases a lease another process has
// since acquired after this one's TTL lapsed.
var compareAndDeleteScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Lease is a held distributed lock on the scheduler resource name. Call
// Release when the scheduler run completes.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	cancel context.CancelFunc
	done   chan struct{}
}

// AcquireLock attempts to take the single-active-scheduler lease, renewing it
// on a background ticker until Release is called or ctx is cancelled.
func AcquireLock(ctx context.Context, client *redis.Client, name string) (*Lease, error) {
	key := "cipherbox:lock:" + name
	token := uuid.New().String()

	ok, err := client.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring scheduler lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l := &Lease{
		client: client,
		key:    key,
		token:  token,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.renewLoop(renewCtx)

	return l, nil
}

func (l *Lease) renewLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(lockRenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Best-effort: if renewal fails, the lease will simply expire and
			// another process can take over. We don't surface this error to
			// the running batch; it would already be between chunks by then.
			_ = l.client.Expire(ctx, l.key, lockTTL).Err()
		}
	}
}

// Release gives up the lease via a compare-and-delete so a lease this
// process no longer owns (because its TTL already lapsed and another
// process acquired it) is never deleted out from under that process.
func (l *Lease) Release(ctx context.Context) error {
	l.cancel()
	<-l.done

	if err := compareAndDeleteScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("releasing scheduler lock: %w", err)
	}
	return nil
}
