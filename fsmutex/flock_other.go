//go:build !unix

package fsmutex

import "os"

// flock and funlock are no-ops on platforms without an advisory file
// lock syscall; the in-process mutex in Table still provides
// same-process exclusion.
func flock(f *os.File) error   { return nil }
func funlock(f *os.File) error { return nil }
