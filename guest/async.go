package guest

import (
	"github.com/Workiva/go-datastructures/queue"
)

// Context is the suspension point a RunAsync body blocks on between
// messages. It replaces the original Rust implementation's hand-built
// RawWaker/Future::poll machinery: Go's goroutine scheduler already knows
// how to park and resume a stack, so Next is the only primitive this
// package needs to provide.
type Context[I, O any] struct {
	pending *queue.Queue
	ack     chan struct{}
	started bool
	emit    func(O)
}

// Next blocks until the host's next wasmbox_send call delivers an input,
// and returns it. The first call returns the input that started this
// goroutine; every later call first signals the driver that the previous
// input's synchronous work is finished, which is what lets wasmbox_send
// return to the host at exactly the right moment.
func (c *Context[I, O]) Next() I {
	if c.started {
		c.ack <- struct{}{}
	}
	c.started = true

	items, err := c.pending.Get(1)
	if err != nil {
		// The queue was disposed, which only happens when the instance is
		// being torn down; there is no sensible value to return.
		panic(err)
	}
	return items[0].(I)
}

// Emit sends one output to the host. See Emit's type doc for ordering.
func (c *Context[I, O]) Emit(v O) {
	c.emit(v)
}

// driver is the glue-side handle on a running RunAsync goroutine: the
// half of Context the glue package drives rather than the guest author's
// run function.
type driver[I, O any] struct {
	ctx  *Context[I, O]
	done chan error
}

// RunAsync starts run in its own goroutine and returns a handle the glue
// package uses to feed it inputs and wait for it to go quiescent again. run
// is expected to loop, calling Context.Next between messages; a run that
// returns ends the instance's ability to accept further messages.
func RunAsync[I, O any](run func(*Context[I, O]) error, emit func(O)) *driver[I, O] {
	d := &driver[I, O]{
		ctx: &Context[I, O]{
			pending: queue.New(1),
			ack:     make(chan struct{}),
			emit:    emit,
		},
		done: make(chan error, 1),
	}
	go func() {
		d.done <- run(d.ctx)
	}()
	return d
}

// Deliver hands one decoded input to the running goroutine and blocks
// until it has either consumed it and gone back to waiting (nil, no error)
// or returned for good (the run function's return value).
func (d *driver[I, O]) Deliver(input I) error {
	if err := d.ctx.pending.Put(input); err != nil {
		return err
	}
	select {
	case <-d.ctx.ack:
		return nil
	case err := <-d.done:
		return err
	}
}
