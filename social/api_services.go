package social

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// identity service backed by the backend auth api.
// The jwt returned on sign in is attached to every later api call.
type ApiIdentityService struct {
	api *Api

	stateLock sync.Mutex
	current   *Identity

	changes *identityChanges
}

func NewApiIdentityService(api *Api) *ApiIdentityService {
	identityService := &ApiIdentityService{
		api: api,
	}
	identityService.changes = newIdentityChanges(identityService.Current)
	return identityService
}

func (self *ApiIdentityService) SignUp(ctx context.Context, signUp *SignUpArgs) (*Identity, error) {
	result, err := self.api.AuthSignupSync(ctx, &AuthSignupArgs{
		Name:     signUp.Name,
		Email:    signUp.Email,
		Password: signUp.Password,
	})
	if err != nil {
		return nil, AsError(err)
	}
	return self.setJwt(result.Jwt)
}

func (self *ApiIdentityService) SignIn(ctx context.Context, credentials *Credentials) (*Identity, error) {
	result, err := self.api.AuthLoginSync(ctx, &AuthLoginArgs{
		Email:    credentials.Email,
		Password: credentials.Password,
	})
	if err != nil {
		return nil, AsError(err)
	}
	return self.setJwt(result.Jwt)
}

// restores a session from a saved jwt
func (self *ApiIdentityService) SignInWithJwt(jwt string) (*Identity, error) {
	return self.setJwt(jwt)
}

func (self *ApiIdentityService) setJwt(jwt string) (*Identity, error) {
	identity, err := ParseIdentityJwtUnverified(jwt)
	if err != nil {
		return nil, err
	}
	self.api.SetJwt(jwt)
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		current := *identity
		self.current = &current
	}()
	glog.V(1).Infof("[identity]sign in %s\n", identity.Id)
	self.changes.changed()
	return identity, nil
}

// the local session always ends, even if the backend cannot be reached
func (self *ApiIdentityService) SignOut(ctx context.Context) error {
	var returnErr error
	if self.api.Jwt() != "" {
		if _, err := self.api.AuthLogoutSync(ctx); err != nil {
			glog.Infof("[identity]sign out error = %s\n", err)
			returnErr = AsError(err)
		}
	}
	self.api.SetJwt("")
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.current = nil
	}()
	glog.V(1).Infof("[identity]sign out\n")
	self.changes.changed()
	if KindOf(returnErr) == ErrorKindAuth {
		// the token was already invalid
		return nil
	}
	return returnErr
}

func (self *ApiIdentityService) Jwt() string {
	return self.api.Jwt()
}

func (self *ApiIdentityService) Current() *Identity {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.current == nil {
		return nil
	}
	identity := *self.current
	return &identity
}

func (self *ApiIdentityService) AddChangeCallback(changeCallback IdentityChangeFunction) func() {
	return self.changes.AddChangeCallback(changeCallback)
}

// document store backed by the backend document api and live websocket
type ApiDocumentStore struct {
	api               *Api
	transportSettings *LiveTransportSettings
}

func NewApiDocumentStoreWithDefaults(api *Api) *ApiDocumentStore {
	return NewApiDocumentStore(api, DefaultLiveTransportSettings())
}

func NewApiDocumentStore(api *Api, transportSettings *LiveTransportSettings) *ApiDocumentStore {
	return &ApiDocumentStore{
		api:               api,
		transportSettings: transportSettings,
	}
}

func (self *ApiDocumentStore) Subscribe(
	ctx context.Context,
	query *Query,
	snapshotCallback SnapshotCallback,
) (func(), error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	transport := NewLiveTransport(
		ctx,
		self.api.LiveUrl(),
		self.api.Jwt(),
		query,
		snapshotCallback,
		self.transportSettings,
	)
	return transport.Close, nil
}

func (self *ApiDocumentStore) Create(ctx context.Context, collection Path, fields Fields) (Id, error) {
	if !collection.IsCollection() {
		return "", NewValidationError("Create requires a collection path: %s", collection)
	}
	result, err := self.api.DocumentsCreateSync(ctx, &DocumentsCreateArgs{
		Collection: string(collection),
		Fields:     EncodeFields(fields),
	})
	if err != nil {
		return "", AsError(err)
	}
	return Id(result.Id), nil
}

func (self *ApiDocumentStore) Update(ctx context.Context, doc Path, write *Write) error {
	if write.Path == "" {
		write.Path = doc
	} else if write.Path != doc {
		return NewValidationError("Write path %s does not match %s", write.Path, doc)
	}
	if write.Op == "" {
		write.Op = WriteOpUpdate
	}
	_, err := self.Commit(ctx, []*Write{write})
	return err
}

func (self *ApiDocumentStore) Commit(ctx context.Context, writes []*Write) ([]Id, error) {
	for _, write := range writes {
		if err := write.Validate(); err != nil {
			return nil, err
		}
	}
	result, err := self.api.DocumentsCommitSync(ctx, &DocumentsCommitArgs{
		Writes: WritesToList(writes),
	})
	if err != nil {
		return nil, AsError(err)
	}
	ids := make([]Id, len(result.Ids))
	for i, id := range result.Ids {
		ids[i] = Id(id)
	}
	return ids, nil
}

func (self *ApiDocumentStore) Get(ctx context.Context, doc Path) (*Document, error) {
	if !doc.IsDocument() {
		return nil, NewValidationError("Get requires a document path: %s", doc)
	}
	result, err := self.api.DocumentsGetSync(ctx, &DocumentsGetArgs{
		Path: string(doc),
	})
	if err != nil {
		return nil, AsError(err)
	}
	return DocumentFromMap(result.Document)
}

func (self *ApiDocumentStore) List(ctx context.Context, query *Query) ([]*Document, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	result, err := self.api.DocumentsListSync(ctx, &DocumentsListArgs{
		Query: QueryToMap(query),
	})
	if err != nil {
		return nil, AsError(err)
	}
	return DocumentsFromList(result.Documents)
}

// blob store backed by the backend blob api.
// Blob urls are `<api url>/blobs/<path>`.
type ApiBlobStore struct {
	api *Api
}

func NewApiBlobStore(api *Api) *ApiBlobStore {
	return &ApiBlobStore{
		api: api,
	}
}

func (self *ApiBlobStore) Upload(ctx context.Context, path string, blob *Blob) error {
	if err := ValidateBlobPath(path); err != nil {
		return err
	}
	return self.api.BlobPutSync(ctx, path, blob)
}

func (self *ApiBlobStore) Url(ctx context.Context, path string) (string, error) {
	if err := ValidateBlobPath(path); err != nil {
		return "", err
	}
	if err := self.api.BlobHeadSync(ctx, path); err != nil {
		return "", err
	}
	return self.api.BlobUrl(path), nil
}

func (self *ApiBlobStore) Fetch(ctx context.Context, blobUrl string) (*Blob, error) {
	if !strings.HasPrefix(blobUrl, self.api.BlobUrl("")) {
		return nil, NewValidationError("Not a blob url of this api: %s", blobUrl)
	}
	return self.api.BlobGetSync(ctx, blobUrl)
}

func (self *ApiBlobStore) Remove(ctx context.Context, path string) error {
	if err := ValidateBlobPath(path); err != nil {
		return err
	}
	err := self.api.BlobDeleteSync(ctx, path)
	if KindOf(err) == ErrorKindNotFound {
		return nil
	}
	return err
}
