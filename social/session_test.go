package social

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSessionSignInOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identityService := NewLocalIdentityService()
	err := identityService.AddAccount(testIdentity("u1", "Ann"), testPassword)
	assert.Equal(t, err, nil)

	session := NewSessionStore(identityService, nil)
	defer session.Close()

	// the identity service reports the initial state on attach
	err = session.WaitLoaded(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, session.Loaded(), true)
	assert.Equal(t, session.SignedIn(), false)
	_, err = session.RequireIdentity()
	assert.Equal(t, errors.Is(err, ErrAuth), true)

	var stateLock sync.Mutex
	changes := []*Identity{}
	unsub := session.AddChangeCallback(func(identity *Identity) {
		stateLock.Lock()
		defer stateLock.Unlock()
		changes = append(changes, identity)
	})

	_, err = identityService.SignIn(ctx, &Credentials{
		Email:    "U1@example.com ",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)
	identity, err := session.RequireIdentity()
	assert.Equal(t, err, nil)
	assert.Equal(t, identity.Id, Id("u1"))
	assert.Equal(t, identity.Name, "Ann")

	// a copy is returned
	identity.Name = "Bob"
	assert.Equal(t, session.Identity().Name, "Ann")

	_, err = identityService.SignIn(ctx, &Credentials{
		Email:    "u1@example.com",
		Password: "wrong",
	})
	assert.Equal(t, errors.Is(err, ErrAuth), true)
	assert.Equal(t, session.SignedIn(), true)

	err = identityService.SignOut(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, session.SignedIn(), false)

	// no change, no callback
	err = identityService.SignOut(ctx)
	assert.Equal(t, err, nil)

	unsub()
	_, err = identityService.SignIn(ctx, &Credentials{
		Email:    "u1@example.com",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)

	stateLock.Lock()
	defer stateLock.Unlock()
	assert.Equal(t, len(changes), 2)
	assert.Equal(t, changes[0].Id, Id("u1"))
	assert.Equal(t, changes[1] == nil, true)
}

func TestSessionLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := NewEventLoop(ctx)
	defer loop.Close()

	identityService := NewLocalIdentityService()
	session := NewSessionStore(identityService, loop)
	defer session.Close()

	signedIn := false
	session.AddChangeCallback(func(identity *Identity) {
		signedIn = identity != nil
	})

	identity, err := identityService.SignUp(ctx, &SignUpArgs{
		Name:     "Ann",
		Email:    "ann@example.com",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, session.Identity().Id, identity.Id)

	// callbacks run on the loop
	err = loop.Sync(ctx, func() {})
	assert.Equal(t, err, nil)
	err = loop.Sync(ctx, func() {
		assert.Equal(t, signedIn, true)
	})
	assert.Equal(t, err, nil)
}

func TestLocalIdentitySignUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identityService := NewLocalIdentityService()

	_, err := identityService.SignUp(ctx, &SignUpArgs{
		Name:     "Ann",
		Email:    "ann",
		Password: testPassword,
	})
	assert.Equal(t, errors.Is(err, ErrValidation), true)

	_, err = identityService.SignUp(ctx, &SignUpArgs{
		Name:     "Ann",
		Email:    "ann@example.com",
		Password: "short",
	})
	assert.Equal(t, errors.Is(err, ErrValidation), true)
	assert.Equal(t, identityService.Current() == nil, true)

	identity, err := identityService.SignUp(ctx, &SignUpArgs{
		Name:     " Ann ",
		Email:    "Ann@Example.com",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, identity.Name, "Ann")
	assert.Equal(t, identity.Email, "ann@example.com")
	assert.Equal(t, identityService.Current().Id, identity.Id)

	_, err = identityService.SignUp(ctx, &SignUpArgs{
		Name:     "Ann",
		Email:    "ann@example.com",
		Password: testPassword,
	})
	assert.Equal(t, errors.Is(err, ErrValidation), true)
}
