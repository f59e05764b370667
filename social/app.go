package social

import (
	"context"
)

func DefaultAppSettings() *AppSettings {
	return &AppSettings{
		LiveQuerySettings: *DefaultLiveQuerySettings(),
		MutationSettings:  *DefaultMutationSettings(),
	}
}

type AppSettings struct {
	LiveQuerySettings
	MutationSettings
}

// Wires the services, the session and the event loop that every view shares.
// Views receive the app explicitly.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *AppSettings

	Loop      *EventLoop
	Identity  IdentityService
	Store     DocumentStore
	Blobs     BlobStore
	Session   *SessionStore
	Mutations *Mutations
	Router    *Router
}

func NewAppWithDefaults(
	ctx context.Context,
	identity IdentityService,
	store DocumentStore,
	blobs BlobStore,
) *App {
	return NewApp(ctx, identity, store, blobs, DefaultAppSettings())
}

func NewApp(
	ctx context.Context,
	identity IdentityService,
	store DocumentStore,
	blobs BlobStore,
	settings *AppSettings,
) *App {
	cancelCtx, cancel := context.WithCancel(ctx)
	loop := NewEventLoop(cancelCtx)
	session := NewSessionStore(identity, loop)
	return &App{
		ctx:       cancelCtx,
		cancel:    cancel,
		settings:  settings,
		Loop:      loop,
		Identity:  identity,
		Store:     store,
		Blobs:     blobs,
		Session:   session,
		Mutations: NewMutations(session, store, blobs, &settings.MutationSettings),
		Router:    NewRouter(session),
	}
}

func (self *App) Ctx() context.Context {
	return self.ctx
}

func (self *App) Settings() *AppSettings {
	return self.settings
}

// views add their callbacks before subscribing
func newViewQuery[T any](app *App, query *Query, decode DocumentDecoder[T]) *LiveQuery[T] {
	return NewLiveQuery(app.ctx, app.Store, query, decode, app.Loop, &app.settings.LiveQuerySettings)
}

// runs `event` on the app loop and waits for it
func (self *App) Sync(ctx context.Context, event func()) error {
	return self.Loop.Sync(ctx, event)
}

func (self *App) SignUp(ctx context.Context, signUp *SignUpArgs) (*Identity, error) {
	identity, err := self.Identity.SignUp(ctx, signUp)
	if err != nil {
		return nil, AsError(err)
	}
	// the identity service reports the new identity to the session before returning
	if err := self.Mutations.CreateProfile(ctx); err != nil {
		return identity, err
	}
	return identity, nil
}

func (self *App) SignIn(ctx context.Context, credentials *Credentials) (*Identity, error) {
	identity, err := self.Identity.SignIn(ctx, credentials)
	if err != nil {
		return nil, AsError(err)
	}
	return identity, nil
}

func (self *App) SignOut(ctx context.Context) error {
	if err := self.Identity.SignOut(ctx); err != nil {
		return AsError(err)
	}
	return nil
}

func (self *App) Close() {
	self.Session.Close()
	self.cancel()
	self.Loop.Close()
}

// embedded by views. Change callbacks run on the app loop after the view state changes.
type viewChanges struct {
	changeCallbacks *CallbackList[func()]
}

func newViewChanges() viewChanges {
	return viewChanges{
		changeCallbacks: NewCallbackList[func()](),
	}
}

func (self *viewChanges) AddChangeCallback(changeCallback func()) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *viewChanges) changed() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		changeCallback()
	}
}
