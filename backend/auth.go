package backend

import (
	"context"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bringyour/social/social"
)

// private collections. Clients can never read or write these.
const (
	AccountsCollection      social.Path = "accounts"
	RevokedTokensCollection social.Path = "revokedTokens"
)

const (
	accountFieldUid          = "uid"
	accountFieldName         = "name"
	accountFieldEmail        = "email"
	accountFieldPhotoUrl     = "photoURL"
	accountFieldPasswordHash = "passwordHash"
	revokedFieldUid          = "uid"
	revokedFieldExpires      = "expires"
)

const MinPasswordLength = 6

// Email and password accounts with stateless HS256 identity jwts.
// Accounts live in the same document store as the app data, so every engine
// persists them. Logout revokes the token id.
type Accounts struct {
	store  social.DocumentStore
	secret []byte
	ttl    time.Duration
}

func NewAccounts(store social.DocumentStore, settings *ServerSettings) *Accounts {
	return &Accounts{
		store:  store,
		secret: settings.JwtSecret,
		ttl:    settings.JwtTtl,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// accounts are keyed by a name based uuid of the email, so that the create is the uniqueness check
func accountDoc(email string) social.Path {
	accountId := uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email))
	return AccountsCollection.Doc(social.Id(accountId.String()))
}

func (self *Accounts) SignUp(ctx context.Context, signUp *social.AuthSignupArgs) (*social.AuthResult, error) {
	email := normalizeEmail(signUp.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, social.NewValidationError("Invalid email: %s", signUp.Email)
	}
	if len(signUp.Password) < MinPasswordLength {
		return nil, social.NewValidationError("Password must be at least %d characters", MinPasswordLength)
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(signUp.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, social.WrapError(social.ErrorKindValidation, err, "Invalid password")
	}

	identity := &social.Identity{
		Id:    social.NewId(),
		Name:  strings.TrimSpace(signUp.Name),
		Email: email,
	}
	_, err = self.store.Commit(ctx, []*social.Write{social.CreateWrite(accountDoc(email), social.Fields{
		accountFieldUid:          identity.Id,
		accountFieldName:         identity.Name,
		accountFieldEmail:        identity.Email,
		accountFieldPhotoUrl:     "",
		accountFieldPasswordHash: string(passwordHash),
	})})
	if err != nil {
		if social.KindOf(err) == social.ErrorKindValidation {
			return nil, social.NewValidationError("Email already in use: %s", email)
		}
		return nil, err
	}
	glog.V(1).Infof("[auth]sign up %s\n", identity.Id)
	return self.issue(identity)
}

func (self *Accounts) Login(ctx context.Context, login *social.AuthLoginArgs) (*social.AuthResult, error) {
	email := normalizeEmail(login.Email)
	if email == "" {
		return nil, social.NewAuthError("Invalid email or password")
	}
	doc, err := self.store.Get(ctx, accountDoc(email))
	if err != nil {
		if social.KindOf(err) == social.ErrorKindNotFound {
			return nil, social.NewAuthError("Invalid email or password")
		}
		return nil, err
	}
	passwordHash := doc.StringField(accountFieldPasswordHash)
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(login.Password)); err != nil {
		return nil, social.NewAuthError("Invalid email or password")
	}

	identity := &social.Identity{
		Id:       social.Id(doc.StringField(accountFieldUid)),
		Name:     doc.StringField(accountFieldName),
		Email:    doc.StringField(accountFieldEmail),
		PhotoUrl: doc.StringField(accountFieldPhotoUrl),
	}
	glog.V(1).Infof("[auth]login %s\n", identity.Id)
	return self.issue(identity)
}

func (self *Accounts) issue(identity *social.Identity) (*social.AuthResult, error) {
	jwt, err := social.SignIdentityJwt(identity, uuid.NewString(), time.Now().Add(self.ttl), self.secret)
	if err != nil {
		return nil, social.WrapError(social.ErrorKindAuth, err, "Could not sign identity token")
	}
	return &social.AuthResult{
		Jwt:      jwt,
		Identity: identity,
	}, nil
}

// returns an `AuthError` for any invalid, expired or revoked token
func (self *Accounts) Verify(ctx context.Context, jwt string) (*social.Identity, error) {
	identity, _, err := self.verify(ctx, jwt)
	return identity, err
}

func (self *Accounts) verify(ctx context.Context, jwt string) (*social.Identity, string, error) {
	if jwt == "" {
		return nil, "", social.NewAuthError("Not signed in")
	}
	identity, tokenId, err := social.ParseIdentityJwtWithId(jwt, self.secret)
	if err != nil {
		return nil, "", err
	}
	if tokenId == "" {
		return nil, "", social.NewAuthError("Identity token has no id")
	}
	_, err = self.store.Get(ctx, RevokedTokensCollection.Doc(social.Id(tokenId)))
	switch {
	case err == nil:
		return nil, "", social.NewAuthError("Identity token was revoked")
	case social.KindOf(err) != social.ErrorKindNotFound:
		return nil, "", err
	}
	return identity, tokenId, nil
}

// revokes the token. Concurrent revokes of the same token succeed.
func (self *Accounts) Logout(ctx context.Context, jwt string) error {
	identity, tokenId, err := self.verify(ctx, jwt)
	if err != nil {
		return err
	}
	_, err = self.store.Commit(ctx, []*social.Write{social.CreateWrite(
		RevokedTokensCollection.Doc(social.Id(tokenId)),
		social.Fields{
			revokedFieldUid:     identity.Id,
			revokedFieldExpires: time.Now().Add(self.ttl),
		},
	)})
	if err != nil && social.KindOf(err) != social.ErrorKindValidation {
		return err
	}
	glog.V(1).Infof("[auth]logout %s\n", identity.Id)
	return nil
}
