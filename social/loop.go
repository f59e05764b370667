package social

import (
	"context"
	"sync"
)

// All application callbacks (snapshots, session changes, view updates) run on one loop,
// so view state is only ever mutated from a single goroutine.
// The queue is unbounded so that an event may post more events.
type EventLoop struct {
	ctx    context.Context
	cancel context.CancelFunc

	mutex   sync.Mutex
	events  []func()
	monitor *Monitor
}

func NewEventLoop(ctx context.Context) *EventLoop {
	cancelCtx, cancel := context.WithCancel(ctx)
	loop := &EventLoop{
		ctx:     cancelCtx,
		cancel:  cancel,
		monitor: NewMonitor(),
	}
	go loop.run()
	return loop
}

func (self *EventLoop) run() {
	defer self.cancel()
	for {
		notify := self.monitor.NotifyChannel()
		var events []func()
		func() {
			self.mutex.Lock()
			defer self.mutex.Unlock()
			events = self.events
			self.events = nil
		}()
		for _, event := range events {
			select {
			case <-self.ctx.Done():
				return
			default:
			}
			HandleError(event)
		}
		if 0 < len(events) {
			continue
		}
		select {
		case <-self.ctx.Done():
			return
		case <-notify:
		}
	}
}

// returns false if the loop is closed
func (self *EventLoop) Post(event func()) bool {
	select {
	case <-self.ctx.Done():
		return false
	default:
	}
	func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()
		self.events = append(self.events, event)
	}()
	self.monitor.NotifyAll()
	return true
}

// posts the event and waits for it to run.
// Must not be called from the loop.
func (self *EventLoop) Sync(ctx context.Context, event func()) error {
	done := make(chan struct{})
	if !self.Post(func() {
		defer close(done)
		event()
	}) {
		return context.Canceled
	}
	select {
	case <-done:
		return nil
	case <-self.ctx.Done():
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (self *EventLoop) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *EventLoop) Close() {
	self.cancel()
}

// runs the event on the loop, or directly when there is no loop
func dispatch(loop *EventLoop, event func()) {
	if loop == nil {
		HandleError(event)
	} else {
		loop.Post(event)
	}
}
