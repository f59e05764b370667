package social

import (
	"context"
	"sync"
	"time"
)

// makes a copy of the list on update
type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId int
	callbackIds    []int
	callbacks      []T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.callbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1

	nextCallbackIds := make([]int, len(self.callbackIds), len(self.callbackIds)+1)
	copy(nextCallbackIds, self.callbackIds)
	nextCallbacks := make([]T, len(self.callbacks), len(self.callbacks)+1)
	copy(nextCallbacks, self.callbacks)

	self.callbackIds = append(nextCallbackIds, callbackId)
	self.callbacks = append(nextCallbacks, callback)
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := -1
	for j, id := range self.callbackIds {
		if id == callbackId {
			i = j
			break
		}
	}
	if i < 0 {
		// not present
		return
	}

	nextCallbackIds := make([]int, 0, len(self.callbackIds)-1)
	nextCallbackIds = append(nextCallbackIds, self.callbackIds[:i]...)
	nextCallbackIds = append(nextCallbackIds, self.callbackIds[i+1:]...)
	nextCallbacks := make([]T, 0, len(self.callbacks)-1)
	nextCallbacks = append(nextCallbacks, self.callbacks[:i]...)
	nextCallbacks = append(nextCallbacks, self.callbacks[i+1:]...)

	self.callbackIds = nextCallbackIds
	self.callbacks = nextCallbacks
}

// a monitor hands out a channel that is closed on the next notify
type Monitor struct {
	mutex  sync.Mutex
	notify chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		notify: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.notify
}

func (self *Monitor) NotifyAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	// close the update channel and create a new one
	close(self.notify)
	self.notify = make(chan struct{})
}

// exponential backoff between reconnect attempts
type Reconnect struct {
	timeout    time.Duration
	maxTimeout time.Duration
	attempt    int
}

func NewReconnect(timeout time.Duration, maxTimeout time.Duration) *Reconnect {
	return &Reconnect{
		timeout:    timeout,
		maxTimeout: maxTimeout,
	}
}

func (self *Reconnect) Attempts() int {
	return self.attempt
}

func (self *Reconnect) NextTimeout() time.Duration {
	timeout := self.timeout
	for i := 0; i < self.attempt && timeout < self.maxTimeout; i += 1 {
		timeout *= 2
	}
	return min(timeout, self.maxTimeout)
}

// returns false if the context is done before the timeout
func (self *Reconnect) Wait(ctx context.Context) bool {
	timeout := self.NextTimeout()
	self.attempt += 1
	select {
	case <-ctx.Done():
		return false
	case <-time.After(timeout):
		return true
	}
}

func (self *Reconnect) Reset() {
	self.attempt = 0
}
