package social

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/crypto/bcrypt"
)

type localAccount struct {
	identity     Identity
	passwordHash []byte
}

// in-process identity service with bcrypt password hashes.
// Used for tests and for running the client without a backend.
type LocalIdentityService struct {
	stateLock sync.Mutex
	// email -> account
	accounts map[string]*localAccount
	current  *Identity

	changes *identityChanges
}

func NewLocalIdentityService() *LocalIdentityService {
	identityService := &LocalIdentityService{
		accounts: map[string]*localAccount{},
	}
	identityService.changes = newIdentityChanges(identityService.Current)
	return identityService
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (self *LocalIdentityService) SignUp(ctx context.Context, signUp *SignUpArgs) (*Identity, error) {
	email := normalizeEmail(signUp.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, NewValidationError("Invalid email: %s", signUp.Email)
	}
	if len(signUp.Password) < 6 {
		return nil, NewValidationError("Password must be at least 6 characters")
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(signUp.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, WrapError(ErrorKindValidation, err, "Invalid password")
	}

	identity, err := func() (*Identity, error) {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if _, ok := self.accounts[email]; ok {
			return nil, NewValidationError("Email already in use: %s", email)
		}
		account := &localAccount{
			identity: Identity{
				Id:    NewId(),
				Name:  strings.TrimSpace(signUp.Name),
				Email: email,
			},
			passwordHash: passwordHash,
		}
		self.accounts[email] = account
		identity := account.identity
		self.current = &identity
		return &identity, nil
	}()
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[identity]sign up %s\n", identity.Id)
	self.changed()
	return identity, nil
}

// registers an account with a known id without signing in
func (self *LocalIdentityService) AddAccount(identity *Identity, password string) error {
	email := normalizeEmail(identity.Email)
	if email == "" {
		return NewValidationError("Invalid email: %s", identity.Email)
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return WrapError(ErrorKindValidation, err, "Invalid password")
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if _, ok := self.accounts[email]; ok {
		return NewValidationError("Email already in use: %s", email)
	}
	account := &localAccount{
		identity:     *identity,
		passwordHash: passwordHash,
	}
	account.identity.Email = email
	self.accounts[email] = account
	return nil
}

func (self *LocalIdentityService) SignIn(ctx context.Context, credentials *Credentials) (*Identity, error) {
	email := normalizeEmail(credentials.Email)

	var account *localAccount
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		account = self.accounts[email]
	}()
	if account == nil {
		return nil, NewAuthError("Invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword(account.passwordHash, []byte(credentials.Password)); err != nil {
		return nil, NewAuthError("Invalid email or password")
	}

	identity := account.identity
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		current := identity
		self.current = &current
	}()
	glog.V(1).Infof("[identity]sign in %s\n", identity.Id)
	self.changed()
	return &identity, nil
}

func (self *LocalIdentityService) SignOut(ctx context.Context) error {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.current = nil
	}()
	glog.V(1).Infof("[identity]sign out\n")
	self.changed()
	return nil
}

// sets the display fields of an account, e.g. after a profile update
func (self *LocalIdentityService) UpdateIdentity(id Id, name string, photoUrl string) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		for _, account := range self.accounts {
			if account.identity.Id == id {
				account.identity.Name = name
				account.identity.PhotoUrl = photoUrl
			}
		}
		if self.current != nil && self.current.Id == id {
			self.current.Name = name
			self.current.PhotoUrl = photoUrl
		}
	}()
	self.changed()
}

func (self *LocalIdentityService) Current() *Identity {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.current == nil {
		return nil
	}
	identity := *self.current
	return &identity
}

func (self *LocalIdentityService) changed() {
	self.changes.changed()
}

func (self *LocalIdentityService) AddChangeCallback(changeCallback IdentityChangeFunction) func() {
	return self.changes.AddChangeCallback(changeCallback)
}
