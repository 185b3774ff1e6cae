package subscriber

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Scheduler runs a set of subscribers, each on its own interval. Instances
// share nothing but the log client.
type Scheduler struct {
	subs []*Subscriber
}

// NewScheduler returns a scheduler for subs.
func NewScheduler(subs ...*Subscriber) *Scheduler {
	return &Scheduler{subs: subs}
}

// Add registers another subscriber. It must be called before Run.
func (s *Scheduler) Add(sub *Subscriber) { s.subs = append(s.subs, sub) }

// Subscribers returns the registered subscribers.
func (s *Scheduler) Subscribers() []*Subscriber { return s.subs }

// Run blocks until ctx is done and every subscriber loop has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range s.subs {
		sub := sub
		g.Go(func() error { return sub.Run(gctx) })
	}
	return g.Wait()
}
