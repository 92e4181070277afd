// Package fsmutex implements the named file-scope mutex of spec.md §5:
// a primitive that hands out the same in-process *sync.Mutex for any
// two paths that are equal once cleaned and made absolute, plus an OS
// advisory file lock for exclusion across processes. Symbolic links are
// not resolved: two paths that reach one file through different links
// get different in-process mutexes. Grounded on the siphash-of-canonical-key
// idiom tenant.go uses to disperse cache directory keys.
package fsmutex

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/dchest/siphash"
)

// Table hands out a shared *sync.Mutex per canonicalized file path. The
// zero Table is ready to use.
type Table struct {
	mu    sync.Mutex
	locks map[[2]uint64]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// siphash keys used purely to disperse path hashes across the table;
// they carry no secrecy requirement since the table is in-process.
const (
	k0 = 0x9f17c3fd5efd3ce4
	k1 = 0xdbf1ba5f07eee2c0
)

func canonicalize(path string) string {
	canon := filepath.Clean(path)
	if abs, err := filepath.Abs(canon); err == nil {
		canon = abs
	}
	return canon
}

func pathKey(canon string) [2]uint64 {
	lo, hi := siphash.Hash128(k0, k1, []byte(canon))
	return [2]uint64{lo, hi}
}

// Lock acquires the in-process mutex for path and an OS advisory lock
// on it, blocking until both are held. The returned Unlocker releases
// both when its Unlock method is called; it must be called exactly
// once, from any goroutine.
func (t *Table) Lock(path string) (*Unlocker, error) {
	canon := canonicalize(path)
	key := pathKey(canon)

	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[[2]uint64]*entry)
	}
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	f, err := openForLock(canon)
	if err != nil {
		e.mu.Unlock()
		t.release(key, e)
		return nil, err
	}
	if err := flock(f); err != nil {
		f.Close()
		e.mu.Unlock()
		t.release(key, e)
		return nil, err
	}

	return &Unlocker{table: t, key: key, entry: e, file: f}, nil
}

func (t *Table) release(key [2]uint64, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.locks, key)
	}
}

func openForLock(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
}

// Unlocker releases both the in-process and the OS advisory lock a
// Table.Lock call acquired.
type Unlocker struct {
	table *Table
	key   [2]uint64
	entry *entry
	file  *os.File
}

// Unlock releases the advisory file lock, closes the underlying file,
// and releases the in-process mutex. Calling it more than once is a
// programming error, the same as unlocking a sync.Mutex twice.
func (u *Unlocker) Unlock() {
	funlock(u.file)
	u.file.Close()
	u.entry.mu.Unlock()
	u.table.release(u.key, u.entry)
}
