package social

import (
	"context"
	"sync"
)

// the three backend services the client is built on

type Identity struct {
	Id       Id     `json:"id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	PhotoUrl string `json:"photo_url,omitempty"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpArgs struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// called with the current identity, or nil when signed out
type IdentityChangeFunction = func(identity *Identity)

// delivers identity changes in order. Shared by the identity services.
type identityChanges struct {
	changeLock      sync.Mutex
	changeCallbacks *CallbackList[IdentityChangeFunction]
	current         func() *Identity
}

func newIdentityChanges(current func() *Identity) *identityChanges {
	return &identityChanges{
		changeCallbacks: NewCallbackList[IdentityChangeFunction](),
		current:         current,
	}
}

func (self *identityChanges) changed() {
	self.changeLock.Lock()
	defer self.changeLock.Unlock()

	identity := self.current()
	for _, changeCallback := range self.changeCallbacks.Get() {
		HandleError(func() {
			changeCallback(identity)
		})
	}
}

func (self *identityChanges) AddChangeCallback(changeCallback IdentityChangeFunction) func() {
	self.changeLock.Lock()
	defer self.changeLock.Unlock()

	callbackId := self.changeCallbacks.Add(changeCallback)
	identity := self.current()
	HandleError(func() {
		changeCallback(identity)
	})
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

type IdentityService interface {
	SignUp(ctx context.Context, signUp *SignUpArgs) (*Identity, error)
	SignIn(ctx context.Context, credentials *Credentials) (*Identity, error)
	SignOut(ctx context.Context) error
	// the callback is called once with the current identity,
	// then once per sign in or sign out.
	// returns an unsubscribe function.
	AddChangeCallback(identityChangeCallback IdentityChangeFunction) func()
}

// called with the full result set on every change, or a terminal error
type SnapshotCallback = func(snapshot *Snapshot, err error)

type DocumentStore interface {
	// the callback receives the initial snapshot and then a replacement snapshot
	// for every change, until the returned cancel function is called or an error is
	// delivered. After an error, no more callbacks are made.
	Subscribe(ctx context.Context, query *Query, snapshotCallback SnapshotCallback) (func(), error)
	Create(ctx context.Context, collection Path, fields Fields) (Id, error)
	Update(ctx context.Context, doc Path, write *Write) error
	// all writes land or none do
	Commit(ctx context.Context, writes []*Write) ([]Id, error)
	// returns a `NotFoundError` if the document does not exist
	Get(ctx context.Context, doc Path) (*Document, error)
	List(ctx context.Context, query *Query) ([]*Document, error)
}

type Blob struct {
	Data        []byte
	ContentType string
}

type BlobStore interface {
	Upload(ctx context.Context, path string, blob *Blob) error
	// a stable url for an uploaded blob
	Url(ctx context.Context, path string) (string, error)
	// reads the blob at a url returned by `Url`
	Fetch(ctx context.Context, url string) (*Blob, error)
	Remove(ctx context.Context, path string) error
}
