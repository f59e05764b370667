package social

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

// live query state machine is:
// SubscriptionStateUnsubscribed
//
//	-> SubscriptionStateSubscribing
//	  -> SubscriptionStateActive
//	    -> SubscriptionStateError (terminal)
//	    -> SubscriptionStateCancelled (terminal)
//	  -> SubscriptionStateError (terminal)
//	  -> SubscriptionStateCancelled (terminal)
//
// Re-subscribing requires a new live query.
type SubscriptionState string

const (
	SubscriptionStateUnsubscribed SubscriptionState = "Unsubscribed"
	SubscriptionStateSubscribing  SubscriptionState = "Subscribing"
	SubscriptionStateActive       SubscriptionState = "Active"
	SubscriptionStateError        SubscriptionState = "Error"
	SubscriptionStateCancelled    SubscriptionState = "Cancelled"
)

func (self SubscriptionState) IsTerminal() bool {
	switch self {
	case SubscriptionStateError, SubscriptionStateCancelled:
		return true
	default:
		return false
	}
}

type DocumentDecoder[T any] func(doc *Document) (T, error)

type ItemsFunction[T any] func(items []T)

type ErrorFunction func(err error)

func DefaultLiveQuerySettings() *LiveQuerySettings {
	return &LiveQuerySettings{
		SubscribeTimeout: 30 * time.Second,
	}
}

type LiveQuerySettings struct {
	// the initial snapshot must arrive within this timeout
	SubscribeTimeout time.Duration
}

// Materializes a store subscription into an ordered local list.
// Every snapshot replaces the whole list. There is no client side merge.
type LiveQuery[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc

	store    DocumentStore
	query    *Query
	decode   DocumentDecoder[T]
	loop     *EventLoop
	settings *LiveQuerySettings

	log         LogFunction
	snapshotLog LogFunction

	stateLock      sync.Mutex
	state          SubscriptionState
	items          []T
	err            error
	snapshotCount  int
	storeCancel    func()
	storeCancelled bool
	stateMonitor   *Monitor

	snapshotCallbacks *CallbackList[ItemsFunction[T]]
	errorCallbacks    *CallbackList[ErrorFunction]
}

func NewLiveQueryWithDefaults[T any](
	ctx context.Context,
	store DocumentStore,
	query *Query,
	decode DocumentDecoder[T],
	loop *EventLoop,
) *LiveQuery[T] {
	return NewLiveQuery(ctx, store, query, decode, loop, DefaultLiveQuerySettings())
}

func NewLiveQuery[T any](
	ctx context.Context,
	store DocumentStore,
	query *Query,
	decode DocumentDecoder[T],
	loop *EventLoop,
	settings *LiveQuerySettings,
) *LiveQuery[T] {
	cancelCtx, cancel := context.WithCancel(ctx)
	log := LogFn(1, fmt.Sprintf("[lq]%s", query))
	return &LiveQuery[T]{
		ctx:               cancelCtx,
		cancel:            cancel,
		store:             store,
		query:             query,
		decode:            decode,
		loop:              loop,
		settings:          settings,
		log:               log,
		snapshotLog:       SubLogFn(2, log, "snapshot"),
		state:             SubscriptionStateUnsubscribed,
		items:             []T{},
		stateMonitor:      NewMonitor(),
		snapshotCallbacks: NewCallbackList[ItemsFunction[T]](),
		errorCallbacks:    NewCallbackList[ErrorFunction](),
	}
}

// creates and subscribes a live query
func SubscribeLiveQuery[T any](
	ctx context.Context,
	store DocumentStore,
	query *Query,
	decode DocumentDecoder[T],
	loop *EventLoop,
	settings *LiveQuerySettings,
) (*LiveQuery[T], error) {
	liveQuery := NewLiveQuery(ctx, store, query, decode, loop, settings)
	if err := liveQuery.Subscribe(); err != nil {
		return nil, err
	}
	return liveQuery, nil
}

func (self *LiveQuery[T]) Query() *Query {
	return self.query
}

func (self *LiveQuery[T]) Subscribe() error {
	if err := self.query.Validate(); err != nil {
		return err
	}

	err := func() error {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.state != SubscriptionStateUnsubscribed {
			return NewValidationError("Live query already subscribed (%s)", self.state)
		}
		self.state = SubscriptionStateSubscribing
		return nil
	}()
	if err != nil {
		return err
	}
	self.stateMonitor.NotifyAll()
	self.log("subscribe")

	storeCancel, err := self.store.Subscribe(self.ctx, self.query, self.snapshot)
	if err != nil {
		self.fail(err)
		return AsError(err)
	}

	cancelNow := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.storeCancel = storeCancel
		if self.state.IsTerminal() && !self.storeCancelled {
			// cancelled or failed while subscribing
			self.storeCancelled = true
			return true
		}
		return false
	}()
	if cancelNow {
		storeCancel()
		return nil
	}

	go self.subscribeTimeout()
	return nil
}

func (self *LiveQuery[T]) subscribeTimeout() {
	if self.settings.SubscribeTimeout <= 0 {
		return
	}
	timeout := time.After(self.settings.SubscribeTimeout)
	for {
		notify := self.stateMonitor.NotifyChannel()
		if self.State() != SubscriptionStateSubscribing {
			return
		}
		select {
		case <-self.ctx.Done():
			return
		case <-notify:
		case <-timeout:
			self.fail(WrapError(
				ErrorKindNetwork,
				context.DeadlineExceeded,
				"No initial snapshot after %s",
				self.settings.SubscribeTimeout,
			))
			return
		}
	}
}

// SnapshotCallback
func (self *LiveQuery[T]) snapshot(snapshot *Snapshot, err error) {
	if err != nil {
		self.fail(err)
		return
	}

	items := make([]T, 0, len(snapshot.Documents))
	for _, doc := range snapshot.Documents {
		item, err := self.decode(doc)
		if err != nil {
			glog.Infof("[lq]%s skip %s = %s\n", self.query, doc.Path, err)
			continue
		}
		items = append(items, item)
	}

	dispatch(self.loop, func() {
		applied := func() bool {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			if self.state.IsTerminal() {
				// no effect after cancel or error
				return false
			}
			self.state = SubscriptionStateActive
			self.items = items
			self.snapshotCount += 1
			return true
		}()
		if !applied {
			return
		}
		self.stateMonitor.NotifyAll()
		self.snapshotLog("%d items", len(items))
		for _, callback := range self.snapshotCallbacks.Get() {
			// a cancel from another goroutine stops the callbacks not yet started
			if self.State().IsTerminal() {
				return
			}
			callback(self.Items())
		}
	})
}

func (self *LiveQuery[T]) fail(err error) {
	socialErr := AsError(err)
	dispatch(self.loop, func() {
		var storeCancel func()
		applied := func() bool {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			if self.state.IsTerminal() {
				return false
			}
			self.state = SubscriptionStateError
			self.err = socialErr
			if self.storeCancel != nil && !self.storeCancelled {
				self.storeCancelled = true
				storeCancel = self.storeCancel
			}
			return true
		}()
		if !applied {
			return
		}
		glog.Infof("[lq]%s error = %s\n", self.query, socialErr)
		self.stateMonitor.NotifyAll()
		self.cancel()
		if storeCancel != nil {
			storeCancel()
		}
		for _, callback := range self.errorCallbacks.Get() {
			callback(socialErr)
		}
	})
}

// After cancel returns, no callback starts and the items do not change.
// Called from the loop, e.g. inside a callback, this means no later callback runs.
// Called from another goroutine, a callback that is already running may finish.
// Cancel is idempotent and issues exactly one cancel to the store.
func (self *LiveQuery[T]) Cancel() {
	var storeCancel func()
	cancelled := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.state.IsTerminal() {
			return false
		}
		self.state = SubscriptionStateCancelled
		if self.storeCancel != nil && !self.storeCancelled {
			self.storeCancelled = true
			storeCancel = self.storeCancel
		}
		return true
	}()
	if !cancelled {
		return
	}
	self.log("cancel")
	self.stateMonitor.NotifyAll()
	self.cancel()
	if storeCancel != nil {
		storeCancel()
	}
}

func (self *LiveQuery[T]) State() SubscriptionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

// a copy of the current list
func (self *LiveQuery[T]) Items() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	items := make([]T, len(self.items))
	copy(items, self.items)
	return items
}

func (self *LiveQuery[T]) SnapshotCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.snapshotCount
}

// the terminal error, if any
func (self *LiveQuery[T]) Err() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.err
}

// waits for the first snapshot
func (self *LiveQuery[T]) WaitActive(ctx context.Context) error {
	return self.WaitSnapshotCount(ctx, 1)
}

// waits until at least `count` snapshots have been applied
func (self *LiveQuery[T]) WaitSnapshotCount(ctx context.Context, count int) error {
	for {
		notify := self.stateMonitor.NotifyChannel()
		var state SubscriptionState
		var snapshotCount int
		var err error
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			state = self.state
			snapshotCount = self.snapshotCount
			err = self.err
		}()
		switch state {
		case SubscriptionStateError:
			return err
		case SubscriptionStateCancelled:
			return context.Canceled
		}
		if count <= snapshotCount {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}

func (self *LiveQuery[T]) AddSnapshotCallback(snapshotCallback ItemsFunction[T]) func() {
	callbackId := self.snapshotCallbacks.Add(snapshotCallback)
	return func() {
		self.snapshotCallbacks.Remove(callbackId)
	}
}

func (self *LiveQuery[T]) AddErrorCallback(errorCallback ErrorFunction) func() {
	callbackId := self.errorCallbacks.Add(errorCallback)
	return func() {
		self.errorCallbacks.Remove(callbackId)
	}
}
