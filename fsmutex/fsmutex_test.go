package fsmutex

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLockSerializesSamePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache", "shared.lock")

	var tbl Table
	u1, err := tbl.Lock(path)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		u2, err := tbl.Lock(path)
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		u2.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first was still held")
	case <-time.After(50 * time.Millisecond):
	}

	u1.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after first was released")
	}
}

func TestDifferentPathsDoNotContend(t *testing.T) {
	dir := t.TempDir()
	var tbl Table

	u1, err := tbl.Lock(filepath.Join(dir, "a.lock"))
	if err != nil {
		t.Fatal(err)
	}
	defer u1.Unlock()

	done := make(chan struct{})
	go func() {
		u2, err := tbl.Lock(filepath.Join(dir, "b.lock"))
		if err != nil {
			t.Error(err)
			return
		}
		u2.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different path should not contend")
	}
}

func TestEquivalentPathsShareTheSameLock(t *testing.T) {
	dir := t.TempDir()
	var tbl Table

	plain := filepath.Join(dir, "x.lock")
	dotted := filepath.Join(dir, "sub", "..", "x.lock")

	u1, err := tbl.Lock(plain)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		u2, err := tbl.Lock(dotted)
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		u2.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("paths naming the same file should contend for one lock")
	case <-time.After(50 * time.Millisecond):
	}
	u1.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on the equivalent path never acquired")
	}
}
