package dedup

import (
	"path"
	"sync"

	"github.com/parapack/parapack/posixfs"
)

// hashLock is the in-process half of a per-hash-directory lock: a plain
// mutex guarding against concurrent goroutines in this process, paired with
// the advisory cross-process lock taken on demand against a rendezvous
// file. Non-reentrant: a second lockHashDir call for the same hash
// directory from the goroutine already holding it blocks on mu forever.
type hashLock struct {
	mu     sync.Mutex
	held   bool
	fsLock posixfs.Lock
}

// lockRegistry is the process-wide table of hashLocks, one per hash
// directory, created lazily and never destroyed (spec.md §4.3 / §7
// "Global mutable state"). Keyed by index root so multiple Index values in
// one process (e.g. tests) don't share state.
type lockRegistry struct {
	mu    sync.Mutex
	byKey map[string]*[hashDirCount]*hashLock
}

var globalLocks = lockRegistry{byKey: make(map[string]*[hashDirCount]*hashLock)}

func (r *lockRegistry) tableFor(root string) *[hashDirCount]*hashLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byKey[root]
	if !ok {
		t = &[hashDirCount]*hashLock{}
		r.byKey[root] = t
	}
	return t
}

func (r *lockRegistry) lockFor(root string, idx uint16) *hashLock {
	t := r.tableFor(root)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t[idx] == nil {
		t[idx] = &hashLock{}
	}
	return t[idx]
}

// acquiredHashDir is a held lock on one hash directory, released by Unlock.
type acquiredHashDir struct {
	hl   *hashLock
	path string
}

// lockHashDir acquires the in-process mutex for prefix's hash directory,
// then the cross-process advisory flock on its rendezvous file, creating
// the hash directory and the rendezvous file if they don't exist yet.
func (idx *Index) lockHashDir(prefix string, hashIdx uint16) (*acquiredHashDir, error) {
	hl := globalLocks.lockFor(idx.root, hashIdx)
	hl.mu.Lock()
	if hl.held {
		hl.mu.Unlock()
		return nil, ErrReentrantLock
	}
	hl.held = true

	dir := path.Join(idx.root, prefix)
	if err := idx.fs.CreateDirectory(dir, 0o755); err != nil && err != posixfs.ErrExists {
		hl.held = false
		hl.mu.Unlock()
		return nil, err
	}
	lockPath := path.Join(dir, lockFileName)
	fsLock, err := idx.fs.Lock(lockPath)
	if err != nil {
		hl.held = false
		hl.mu.Unlock()
		return nil, err
	}
	hl.fsLock = fsLock
	return &acquiredHashDir{hl: hl, path: dir}, nil
}

func (a *acquiredHashDir) Unlock() error {
	err := a.hl.fsLock.Unlock()
	a.hl.fsLock = nil
	a.hl.held = false
	a.hl.mu.Unlock()
	return err
}
