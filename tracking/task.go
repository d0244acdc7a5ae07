package tracking

import (
	"context"
)

// task is a handle on one background goroutine. It replaces polling a thread
// for completion: Running, Cancel and Join act on the handle directly.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startTask runs fn on a new goroutine. fn must observe ctx for cancellation;
// self is the handle being returned, so fn can recognise itself later.
func startTask(fn func(ctx context.Context, self *task)) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		fn(ctx, t)
	}()
	return t
}

// Running reports whether the goroutine has not exited yet
func (t *task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Cancel requests cooperative cancellation without waiting
func (t *task) Cancel() {
	t.cancel()
}

// Join blocks until the goroutine has exited
func (t *task) Join() {
	<-t.done
}
