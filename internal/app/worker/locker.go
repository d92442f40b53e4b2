package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
)

// JobLocker grants exclusive ownership of a job id. Acquire reports ok=false
// when another owner holds the lock; release must be called exactly once
// after a successful acquire.
type JobLocker interface {
	Acquire(ctx context.Context, jobID string) (release func(), ok bool, err error)
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker serialises jobs within one process.
func NewMemoryLocker() JobLocker {
	return &memoryLocker{held: make(map[string]struct{})}
}

func (l *memoryLocker) Acquire(ctx context.Context, jobID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[jobID]; busy {
		return nil, false, nil
	}
	l.held[jobID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, jobID)
			l.mu.Unlock()
		})
	}, true, nil
}

type fileLocker struct {
	dir string
}

// NewFileLocker serialises jobs across every process on this host that uses
// dir. Locks are flock(2) locks on <dir>/<job>.lock, so the kernel drops them
// when the owning process exits.
func NewFileLocker(dir string) (JobLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir %s: %w", dir, err)
	}
	return &fileLocker{dir: dir}, nil
}

func (l *fileLocker) Acquire(ctx context.Context, jobID string) (func(), bool, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, false, fmt.Errorf("%w: invalid job id %q", common.ErrJobLockFailed, jobID)
	}
	path := filepath.Join(l.dir, jobID+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", common.ErrJobLockFailed, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			log.Printf("INFO: Lock for job %s is held by another worker", jobID)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: flock %s: %w", common.ErrJobLockFailed, path, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The file stays behind; unlinking it would let a waiter lock an orphaned inode.
			if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
				log.Printf("ERROR: Failed to release lock %s (job %s): %v", path, jobID, err)
			}
			f.Close()
		})
	}, true, nil
}

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type redisLocker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker serialises jobs across every process sharing rdb.
func NewRedisLocker(rdb *redis.Client, prefix string, ttl time.Duration) JobLocker {
	return &redisLocker{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (l *redisLocker) Acquire(ctx context.Context, jobID string) (func(), bool, error) {
	key := l.prefix + jobID
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", common.ErrJobLockFailed, key, err)
	}
	if !ok {
		log.Printf("INFO: Lock for job %s is held by another worker", jobID)
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		deleted, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int64()
		if err != nil {
			log.Printf("ERROR: Failed to release lock %s (job %s): %v", key, jobID, err)
		} else if deleted == 0 {
			log.Printf("WARN: Lock for job %s expired before release", jobID)
		}
	}
	return release, true, nil
}
