package social

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

type SessionChangeFunction = func(identity *Identity)

// Holds the current identity for the whole application.
// The identity service change callback is the only writer.
// Every other component receives the store explicitly and only reads it.
type SessionStore struct {
	loop *EventLoop

	stateLock     sync.Mutex
	identity      *Identity
	loaded        bool
	loadedMonitor *Monitor

	changeCallbacks *CallbackList[SessionChangeFunction]

	identityUnsub func()
}

// attaches to the identity service. `loop` may be nil, in which case
// change callbacks run on the identity service goroutine.
func NewSessionStore(identityService IdentityService, loop *EventLoop) *SessionStore {
	session := &SessionStore{
		loop:            loop,
		loadedMonitor:   NewMonitor(),
		changeCallbacks: NewCallbackList[SessionChangeFunction](),
	}
	session.identityUnsub = identityService.AddChangeCallback(session.identityChanged)
	return session
}

// IdentityChangeFunction
func (self *SessionStore) identityChanged(identity *Identity) {
	var copyIdentity *Identity
	if identity != nil {
		i := *identity
		copyIdentity = &i
	}

	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if !self.loaded || !sameIdentity(self.identity, copyIdentity) {
			changed = true
		}
		self.identity = copyIdentity
		if !self.loaded {
			self.loaded = true
			defer self.loadedMonitor.NotifyAll()
		}
	}()

	if copyIdentity == nil {
		glog.V(1).Infof("[session]signed out\n")
	} else {
		glog.V(1).Infof("[session]identity %s\n", copyIdentity.Id)
	}

	if changed {
		for _, callback := range self.changeCallbacks.Get() {
			dispatch(self.loop, func() {
				callback(self.copyIdentity(copyIdentity))
			})
		}
	}
}

func sameIdentity(a *Identity, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (self *SessionStore) copyIdentity(identity *Identity) *Identity {
	if identity == nil {
		return nil
	}
	i := *identity
	return &i
}

// the current identity, or nil if signed out
func (self *SessionStore) Identity() *Identity {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.copyIdentity(self.identity)
}

func (self *SessionStore) RequireIdentity() (*Identity, error) {
	identity := self.Identity()
	if identity == nil {
		return nil, NewAuthError("Not signed in")
	}
	return identity, nil
}

func (self *SessionStore) SignedIn() bool {
	return self.Identity() != nil
}

// true after the identity service has reported the initial state
func (self *SessionStore) Loaded() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.loaded
}

func (self *SessionStore) WaitLoaded(ctx context.Context) error {
	for {
		notify := self.loadedMonitor.NotifyChannel()
		if self.Loaded() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}

func (self *SessionStore) AddChangeCallback(changeCallback SessionChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *SessionStore) Close() {
	self.identityUnsub()
}
