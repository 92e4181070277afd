package algorithm

import "golang.org/x/sync/errgroup"

// pool bounds the number of slave DoStep calls that may run
// concurrently within one macro step to a fixed worker count, the way
// the teacher's sorting.ThreadPool bounds concurrent sort-range work to
// a fixed thread count. Unlike that hand-rolled condition-variable
// pool, this one is a thin errgroup.Group with a concurrency limit:
// every macro step is itself a complete barrier (all submitted work
// must finish before the step can be considered done), which is
// exactly what errgroup.Group.Wait already gives us.
type pool struct {
	g *errgroup.Group
}

func newPool(workers int) *pool {
	if workers < 1 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	return &pool{g: g}
}

// Go submits f to run on the pool. f is not guaranteed to start
// immediately if all workers are busy.
func (p *pool) Go(f func() error) {
	p.g.Go(f)
}

// Wait blocks until every submitted f has returned, and returns the
// first non-nil error among them, if any. All submitted goroutines run
// to completion regardless of an earlier failure: the pool does not
// cancel in-flight work.
func (p *pool) Wait() error {
	return p.g.Wait()
}
