package engine

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/vmrag/vmrag/internal/errors"
)

// lockRetryDelay is how often a blocked acquire re-polls the file lock.
const lockRetryDelay = 100 * time.Millisecond

// lockManager serializes operations per collection: an in-process mutex for
// goroutines in this process, a flock file for other processes sharing the
// working directory.
type lockManager struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*collectionLock
}

type collectionLock struct {
	mu sync.Mutex
	fl *flock.Flock
}

func newLockManager(dir string) *lockManager {
	return &lockManager{dir: dir, locks: make(map[string]*collectionLock)}
}

func (m *lockManager) forCollection(collection string) *collectionLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[collection]; ok {
		return l
	}
	l := &collectionLock{
		fl: flock.New(filepath.Join(m.dir, ".vmrag-"+collection+".lock")),
	}
	m.locks[collection] = l
	return l
}

// acquire blocks until the collection lock is held or ctx is done. The
// returned release function must be called exactly once.
func (m *lockManager) acquire(ctx context.Context, collection string) (func(), error) {
	l := m.forCollection(collection)
	l.mu.Lock()

	locked, err := l.fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		l.mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, errors.OperationError("failed to acquire collection lock: "+collection, err)
	}

	return func() {
		_ = l.fl.Unlock()
		l.mu.Unlock()
	}, nil
}
