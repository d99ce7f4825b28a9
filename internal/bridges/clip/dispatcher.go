package clip

import (
	"context"
	"fmt"
	"hash/fnv"

	"golang.org/x/sync/errgroup"
)

// Dispatcher defaults.
const (
	DefaultShards    = 8
	DefaultQueueSize = 100
)

type job struct {
	key string
	fn  func() error
}

// Dispatcher runs work on a fixed set of shard workers. Work submitted with
// the same key always lands on the same shard, so it runs in submission
// order; different keys may run in parallel.
//
// Thread Safety: Submit is safe for concurrent use.
type Dispatcher struct {
	queues  []chan job
	onError func(key string, err error)
}

// NewDispatcher creates a dispatcher. Zero values select DefaultShards and
// DefaultQueueSize. onError (optional) receives every error returned by a
// work function.
func NewDispatcher(shards, queueSize int, onError func(key string, err error)) *Dispatcher {
	if shards <= 0 {
		shards = DefaultShards
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	d := &Dispatcher{
		queues:  make([]chan job, shards),
		onError: onError,
	}
	for i := range d.queues {
		d.queues[i] = make(chan job, queueSize)
	}
	return d
}

// Shards returns the number of shard workers.
func (d *Dispatcher) Shards() int {
	return len(d.queues)
}

// shard maps a key to its queue index.
func (d *Dispatcher) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.queues))) //nolint:gosec // shard count is small and positive
}

// Submit queues fn on the shard for key. It blocks while the shard queue is
// full and returns ctx.Err() if ctx ends first.
func (d *Dispatcher) Submit(ctx context.Context, key string, fn func() error) error {
	select {
	case d.queues[d.shard(key)] <- job{key: key, fn: fn}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the shard workers and blocks until ctx is cancelled.
// Work still queued at cancellation is discarded.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range d.queues {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-q:
					d.execute(j)
				}
			}
		})
	}
	return g.Wait()
}

// execute runs one job, turning a panic into an error so one bad message
// cannot stop its shard.
func (d *Dispatcher) execute(j job) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in handler: %v", r)
			}
		}()
		err = j.fn()
	}()

	if err != nil && d.onError != nil {
		d.onError(j.key, err)
	}
}
