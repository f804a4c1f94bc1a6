package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"wallet-auth-service/internal/config"
)

// Manager assigns stable partition buckets for wide rows: users in
// Scylla, auth events in ClickHouse. Same id in, same bucket out, on
// every instance.
type Manager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(cfg config.BucketingConfig) *Manager {
	m := &Manager{
		userBuckets:  cfg.UserBuckets,
		eventBuckets: cfg.EventBuckets,
	}
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return m
}

func (m *Manager) bucket(id string, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(id))

	return int(hasher.Sum64() % uint64(buckets))
}

// UserBucket returns the user's partition bucket (0 to userBuckets-1).
func (m *Manager) UserBucket(userID string) int {
	return m.bucket(userID, m.userBuckets)
}

// EventBucket spreads auth events across partitions by subject key.
func (m *Manager) EventBucket(key string) int {
	return m.bucket(key, m.eventBuckets)
}

// DateBucket formats the day partition used by the analytics sinks.
func (m *Manager) DateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}
