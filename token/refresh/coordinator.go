package refresh

import (
	"context"
	"errors"
	"sync"
)

// ErrAborted is handed to waiters when the leader's refresh panicked.
var ErrAborted = errors.New("refresh aborted")

// Result is the outcome of one refresh, handed to every caller that waited on it.
type Result struct {
	AccessToken string
	Err         error
}

// Coordinator guarantees that at most one refresh runs at a time. The first
// caller to Acquire becomes the leader and performs the refresh; everyone who
// arrives while it is running queues behind it and receives the same Result.
type Coordinator struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []chan Result
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Acquire claims the refresh slot. When leader is true the caller must call
// Release exactly once. Otherwise wait delivers the in-flight refresh's Result.
func (c *Coordinator) Acquire() (leader bool, wait <-chan Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inFlight {
		c.inFlight = true
		return true, nil
	}
	// buffered so Release never blocks on a waiter that gave up
	ch := make(chan Result, 1)
	c.waiters = append(c.waiters, ch)
	return false, ch
}

// Release frees the slot and wakes every queued waiter with res.
func (c *Coordinator) Release(res Result) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- res
	}
}

// Do runs fn as leader, or waits for the running refresh. A waiter whose ctx
// ends stops waiting; the leader's fn is never cancelled on its behalf.
func (c *Coordinator) Do(ctx context.Context, fn func() (string, error)) (token string, err error) {
	leader, wait := c.Acquire()
	if leader {
		completed := false
		defer func() {
			if !completed {
				err = ErrAborted
			}
			c.Release(Result{AccessToken: token, Err: err})
		}()
		token, err = fn()
		completed = true
		return token, err
	}

	select {
	case res := <-wait:
		return res.AccessToken, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// InFlight reports whether a refresh currently holds the slot.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Waiting reports how many callers are queued behind the in-flight refresh.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
