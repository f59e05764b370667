package social

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
)

func DefaultMutationSettings() *MutationSettings {
	return &MutationSettings{
		MutationTimeout: 30 * time.Second,
	}
}

type MutationSettings struct {
	// bounds each mutation including blob upload
	MutationTimeout time.Duration
}

// Fire-and-await writes. Each call returns only after the store acknowledges
// persistence, and every failure is an `*Error`.
type Mutations struct {
	session  *SessionStore
	store    DocumentStore
	blobs    BlobStore
	settings *MutationSettings
}

func NewMutationsWithDefaults(session *SessionStore, store DocumentStore, blobs BlobStore) *Mutations {
	return NewMutations(session, store, blobs, DefaultMutationSettings())
}

func NewMutations(
	session *SessionStore,
	store DocumentStore,
	blobs BlobStore,
	settings *MutationSettings,
) *Mutations {
	return &Mutations{
		session:  session,
		store:    store,
		blobs:    blobs,
		settings: settings,
	}
}

func (self *Mutations) call(ctx context.Context, tag string, do func(ctx context.Context) error) error {
	callCtx := ctx
	if 0 < self.settings.MutationTimeout {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, self.settings.MutationTimeout)
		defer cancel()
	}
	var err error
	Trace(fmt.Sprintf("[mutation]%s", tag), func() {
		err = do(callCtx)
	})
	if err == nil {
		return nil
	}
	var socialErr *Error
	if !errors.As(err, &socialErr) && errors.Is(err, context.DeadlineExceeded) {
		socialErr = WrapError(ErrorKindNetwork, err, "%s timed out", tag)
	} else {
		socialErr = AsError(err)
	}
	glog.Infof("[mutation]%s rejected = %s\n", tag, socialErr)
	return socialErr
}

func (self *Mutations) Create(ctx context.Context, collection Path, fields Fields) (id Id, returnErr error) {
	returnErr = self.call(ctx, fmt.Sprintf("create %s", collection), func(ctx context.Context) error {
		var err error
		id, err = self.store.Create(ctx, collection, fields)
		return err
	})
	return
}

// sets only the named fields
func (self *Mutations) Update(ctx context.Context, doc Path, fields Fields) error {
	return self.call(ctx, fmt.Sprintf("update %s", doc), func(ctx context.Context) error {
		return self.store.Update(ctx, doc, UpdateWrite(doc, fields))
	})
}

// adding a present member succeeds with no change
func (self *Mutations) SetAdd(ctx context.Context, doc Path, field string, member any) error {
	return self.call(ctx, fmt.Sprintf("set add %s.%s", doc, field), func(ctx context.Context) error {
		return self.store.Update(ctx, doc, SetAddWrite(doc, field, member))
	})
}

// removing an absent member succeeds with no change
func (self *Mutations) SetRemove(ctx context.Context, doc Path, field string, member any) error {
	return self.call(ctx, fmt.Sprintf("set remove %s.%s", doc, field), func(ctx context.Context) error {
		return self.store.Update(ctx, doc, SetRemoveWrite(doc, field, member))
	})
}

// removes the member if `contained`, otherwise adds it.
// `contained` is the membership the caller currently observes.
// Returns the membership after the write.
func (self *Mutations) SetToggle(ctx context.Context, doc Path, field string, member any, contained bool) (bool, error) {
	if contained {
		if err := self.SetRemove(ctx, doc, field, member); err != nil {
			return true, err
		}
		return false, nil
	}
	if err := self.SetAdd(ctx, doc, field, member); err != nil {
		return false, err
	}
	return true, nil
}

// all writes land or none do
func (self *Mutations) Commit(ctx context.Context, writes []*Write) (ids []Id, returnErr error) {
	returnErr = self.call(ctx, fmt.Sprintf("commit (%d)", len(writes)), func(ctx context.Context) error {
		var err error
		ids, err = self.store.Commit(ctx, writes)
		return err
	})
	return
}

// uploads the blob and resolves its stable url.
// The url exists before any document can reference it.
func (self *Mutations) UploadBlob(ctx context.Context, path string, blob *Blob) (blobUrl string, returnErr error) {
	returnErr = self.call(ctx, fmt.Sprintf("upload %s", path), func(ctx context.Context) error {
		return self.uploadBlob(ctx, path, blob, &blobUrl)
	})
	return
}

func (self *Mutations) uploadBlob(ctx context.Context, path string, blob *Blob, blobUrl *string) error {
	if err := ValidateBlobPath(path); err != nil {
		return err
	}
	if len(blob.Data) == 0 {
		return NewValidationError("Blob is empty: %s", path)
	}
	if err := self.blobs.Upload(ctx, path, blob); err != nil {
		return err
	}
	u, err := self.blobs.Url(ctx, path)
	if err != nil {
		return err
	}
	*blobUrl = u
	return nil
}

// removes a blob that no document references. Best effort.
func (self *Mutations) removeOrphan(path string) {
	if err := self.blobs.Remove(context.Background(), path); err != nil {
		glog.Infof("[mutation]orphan blob %s = %s\n", path, err)
	}
}

func PostImagePath(uid Id) string {
	return fmt.Sprintf("posts/%s/%s", uid, NewId())
}

// each avatar gets a new path, so a failed profile update never changes the served photo
func AvatarPath(uid Id) string {
	return fmt.Sprintf("avatars/%s/%s", uid, NewId())
}

func displayName(identity *Identity) string {
	if identity.Name != "" {
		return identity.Name
	}
	return identity.Email
}

// creates the profile document of the signed in user
func (self *Mutations) CreateProfile(ctx context.Context) error {
	identity, err := self.session.RequireIdentity()
	if err != nil {
		return err
	}
	doc := UsersCollection.Doc(identity.Id)
	return self.call(ctx, fmt.Sprintf("create %s", doc), func(ctx context.Context) error {
		_, err := self.store.Commit(ctx, []*Write{CreateWrite(doc, Fields{
			FieldName:     identity.Name,
			FieldEmail:    identity.Email,
			FieldPhotoUrl: identity.PhotoUrl,
			FieldBio:      "",
			FieldFriends:  []any{},
		})})
		return err
	})
}

// `image` is optional. Empty content with no image is rejected before any remote call.
func (self *Mutations) CreatePost(ctx context.Context, content string, image *Blob) (Id, error) {
	identity, err := self.session.RequireIdentity()
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" && image == nil {
		return "", NewValidationError("Post is empty")
	}

	var postId Id
	err = self.call(ctx, "create post", func(ctx context.Context) error {
		var imageUrl any
		var imagePath string
		if image != nil {
			imagePath = PostImagePath(identity.Id)
			var u string
			if err := self.uploadBlob(ctx, imagePath, image, &u); err != nil {
				return err
			}
			imageUrl = u
		}

		var err error
		postId, err = self.store.Create(ctx, PostsCollection, Fields{
			FieldUid:        identity.Id,
			FieldAuthorName: displayName(identity),
			FieldContent:    content,
			FieldImageUrl:   imageUrl,
			FieldLikes:      []any{},
			FieldTimestamp:  ServerTimestamp,
		})
		if err != nil && imagePath != "" {
			self.removeOrphan(imagePath)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return postId, nil
}

func (self *Mutations) Like(ctx context.Context, postId Id) error {
	identity, err := self.session.RequireIdentity()
	if err != nil {
		return err
	}
	return self.SetAdd(ctx, PostsCollection.Doc(postId), FieldLikes, identity.Id)
}

func (self *Mutations) Unlike(ctx context.Context, postId Id) error {
	identity, err := self.session.RequireIdentity()
	if err != nil {
		return err
	}
	return self.SetRemove(ctx, PostsCollection.Doc(postId), FieldLikes, identity.Id)
}

// likes or unlikes based on the post as last observed. Returns whether the post is now liked.
func (self *Mutations) ToggleLike(ctx context.Context, post *Post) (bool, error) {
	identity, err := self.session.RequireIdentity()
	if err != nil {
		return false, err
	}
	return self.SetToggle(ctx, PostsCollection.Doc(post.Id), FieldLikes, identity.Id, post.LikedBy(identity.Id))
}

func (self *Mutations) AddComment(ctx context.Context, postId Id, text string) (Id, error) {
	identity, err := self.session.RequireIdentity()
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", NewValidationError("Comment is empty")
	}
	return self.Create(ctx, CommentsCollection(postId), Fields{
		FieldUid:       identity.Id,
		FieldContent:   text,
		FieldTimestamp: ServerTimestamp,
	})
}

// `photo` is optional
func (self *Mutations) UpdateProfile(ctx context.Context, bio string, photo *Blob) error {
	identity, err := self.session.RequireIdentity()
	if err != nil {
		return err
	}
	doc := UsersCollection.Doc(identity.Id)
	return self.call(ctx, fmt.Sprintf("update profile %s", identity.Id), func(ctx context.Context) error {
		fields := Fields{
			FieldBio: bio,
		}
		var photoPath string
		if photo != nil {
			photoPath = AvatarPath(identity.Id)
			var u string
			if err := self.uploadBlob(ctx, photoPath, photo, &u); err != nil {
				return err
			}
			fields[FieldPhotoUrl] = u
		}
		err := self.store.Update(ctx, doc, UpdateWrite(doc, fields))
		if err != nil && photoPath != "" {
			self.removeOrphan(photoPath)
		}
		return err
	})
}

// adds each user to the friends of the other, atomically
func (self *Mutations) AddFriend(ctx context.Context, friendId Id) error {
	identity, err := self.session.RequireIdentity()
	if err != nil {
		return err
	}
	if friendId == identity.Id {
		return NewValidationError("Cannot add yourself as a friend")
	}
	_, err = self.Commit(ctx, []*Write{
		SetAddWrite(UsersCollection.Doc(identity.Id), FieldFriends, friendId),
		SetAddWrite(UsersCollection.Doc(friendId), FieldFriends, identity.Id),
	})
	return err
}

func (self *Mutations) SendMessage(ctx context.Context, friendId Id, text string) (Id, error) {
	identity, err := self.session.RequireIdentity()
	if err != nil {
		return "", err
	}
	if friendId == "" {
		return "", NewValidationError("No recipient")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", NewValidationError("Message is empty")
	}
	return self.Create(ctx, MessagesCollection(ConversationId(identity.Id, friendId)), Fields{
		FieldSender:    identity.Id,
		FieldRecipient: friendId,
		FieldText:      text,
		FieldTimestamp: ServerTimestamp,
	})
}
