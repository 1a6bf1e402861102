// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package enrichment

import "golang.org/x/sync/errgroup"

// Executor runs enrichment jobs on some execution backend. The write
// path hands jobs off through this interface and never waits on them.
type Executor interface {
	Execute(job func())
}

// Inline runs each job synchronously in the caller's goroutine. Meant
// for offline tools and tests that want deterministic completion.
type Inline struct{}

func (Inline) Execute(job func()) { job() }

// Goroutine runs each job on its own goroutine.
type Goroutine struct{}

func (Goroutine) Execute(job func()) { go job() }

// Pool runs jobs on a bounded group of goroutines. Jobs spend most of
// their time waiting on provider round trips, so a small limit keeps
// many enqueued items in flight without unbounded fan-out.
type Pool struct {
	group *errgroup.Group
}

// NewPool creates a Pool allowing up to maxConcurrent jobs at once.
func NewPool(maxConcurrent int) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrent)
	return &Pool{group: g}
}

func (p *Pool) Execute(job func()) {
	p.group.Go(func() error {
		job()
		return nil
	})
}

// Wait blocks until every job handed to Execute so far has finished.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}
