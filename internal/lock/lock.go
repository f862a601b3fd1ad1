package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when the stored token is ours, so a
// holder whose lease expired cannot release a lock reacquired by another node.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker hands out best-effort distributed leases. With no redis configured
// every Acquire succeeds, which is the right behavior for a single-node
// deployment.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

type Lease struct {
	key    string
	token  string
	client *redis.Client
}

// Acquire attempts to take the named lease. ok=false means another node holds
// it; that is not an error.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if l == nil || l.client == nil {
		return &Lease{key: key}, true, nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{key: key, token: token, client: l.client}, true, nil
}

func (lease *Lease) Release(ctx context.Context) error {
	if lease == nil || lease.client == nil {
		return nil
	}
	return releaseScript.Run(ctx, lease.client, []string{lease.key}, lease.token).Err()
}
