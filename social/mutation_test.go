package social

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestMutationCreatePost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u1 := testIdentity("u1", "Ann")
	env := newTestEnv(ctx)
	app := env.app(t, u1)
	defer app.Close()

	feed, err := NewFeedView(app)
	assert.Equal(t, err, nil)
	defer feed.Close()
	err = feed.WaitActive(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(feed.Posts()), 0)

	start := time.Now().Add(-time.Second)
	postId, err := feed.Compose(ctx, "Hello world", nil)
	assert.Equal(t, err, nil)

	waitFor(t, func() bool {
		return len(feed.Posts()) == 1
	})
	post := feed.Posts()[0]
	assert.Equal(t, post.Id, postId)
	assert.Equal(t, post.Uid, Id("u1"))
	assert.Equal(t, post.AuthorName, "Ann")
	assert.Equal(t, post.Content, "Hello world")
	assert.Equal(t, post.ImageUrl == nil, true)
	assert.Equal(t, post.Likes, []Id{})
	assert.Equal(t, start.Before(post.Timestamp), true)

	// empty posts are rejected before any write
	_, err = feed.Compose(ctx, "   ", nil)
	assert.Equal(t, errors.Is(err, ErrValidation), true)
	docs, err := env.store.List(ctx, FeedQuery())
	assert.Equal(t, err, nil)
	assert.Equal(t, len(docs), 1)
}

func TestMutationSignedOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app := NewAppWithDefaults(ctx, env.identity, env.store, env.blobs)
	defer app.Close()
	err := app.Session.WaitLoaded(ctx)
	assert.Equal(t, err, nil)

	_, err = app.Mutations.CreatePost(ctx, "Hello world", nil)
	assert.Equal(t, errors.Is(err, ErrAuth), true)
	err = app.Mutations.Like(ctx, "p1")
	assert.Equal(t, errors.Is(err, ErrAuth), true)
	_, err = app.Mutations.SendMessage(ctx, "u2", "hi")
	assert.Equal(t, errors.Is(err, ErrAuth), true)
}

func TestMutationLikes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app1 := env.app(t, testIdentity("u1", "Ann"))
	defer app1.Close()
	app2 := env.app(t, testIdentity("u2", "Bob"))
	defer app2.Close()

	postId, err := app1.Mutations.CreatePost(ctx, "Hello world", nil)
	assert.Equal(t, err, nil)

	likes := func() []Id {
		doc, err := env.store.Get(ctx, PostsCollection.Doc(postId))
		assert.Equal(t, err, nil)
		return doc.IdsField(FieldLikes)
	}

	// a double like is one like
	err = app1.Mutations.Like(ctx, postId)
	assert.Equal(t, err, nil)
	err = app1.Mutations.Like(ctx, postId)
	assert.Equal(t, err, nil)
	assert.Equal(t, likes(), []Id{"u1"})

	err = app2.Mutations.Like(ctx, postId)
	assert.Equal(t, err, nil)
	assert.Equal(t, likes(), []Id{"u1", "u2"})

	err = app1.Mutations.Unlike(ctx, postId)
	assert.Equal(t, err, nil)
	err = app1.Mutations.Unlike(ctx, postId)
	assert.Equal(t, err, nil)
	assert.Equal(t, likes(), []Id{"u2"})

	// an odd number of toggles flips membership
	for i := range 5 {
		doc, err := env.store.Get(ctx, PostsCollection.Doc(postId))
		assert.Equal(t, err, nil)
		post, err := DecodePost(doc)
		assert.Equal(t, err, nil)
		liked, err := app1.Mutations.ToggleLike(ctx, post)
		assert.Equal(t, err, nil)
		assert.Equal(t, liked, i%2 == 0)
	}
	assert.Equal(t, likes(), []Id{"u2", "u1"})

	err = app1.Mutations.Like(ctx, "missing")
	assert.Equal(t, errors.Is(err, ErrNotFound), true)
}

func TestMutationComments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app := env.app(t, testIdentity("u1", "Ann"))
	defer app.Close()

	feed, err := NewFeedView(app)
	assert.Equal(t, err, nil)
	defer feed.Close()

	postId, err := feed.Compose(ctx, "Hello world", nil)
	assert.Equal(t, err, nil)
	waitFor(t, func() bool {
		return feed.Card(postId) != nil
	})
	card := feed.Card(postId)
	err = card.WaitActive(ctx)
	assert.Equal(t, err, nil)

	for _, text := range []string{"first", "second", "third"} {
		_, err := card.AddComment(ctx, text)
		assert.Equal(t, err, nil)
	}
	_, err = card.AddComment(ctx, " ")
	assert.Equal(t, errors.Is(err, ErrValidation), true)

	waitFor(t, func() bool {
		return card.CommentCount() == 3
	})
	contents := []string{}
	for _, comment := range card.Comments() {
		assert.Equal(t, comment.PostId, postId)
		assert.Equal(t, comment.Uid, Id("u1"))
		contents = append(contents, comment.Content)
	}
	assert.Equal(t, contents, []string{"first", "second", "third"})

	liked, err := card.ToggleLike(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, liked, true)
	waitFor(t, func() bool {
		return card.LikedByMe() && card.LikeCount() == 1
	})
}

func TestMutationAddFriend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app1 := env.app(t, testIdentity("u1", "Ann"))
	defer app1.Close()
	app2 := env.app(t, testIdentity("u2", "Bob"))
	defer app2.Close()

	friends := func(id Id) []Id {
		doc, err := env.store.Get(ctx, UsersCollection.Doc(id))
		assert.Equal(t, err, nil)
		return doc.IdsField(FieldFriends)
	}

	err := app1.Mutations.AddFriend(ctx, "u1")
	assert.Equal(t, errors.Is(err, ErrValidation), true)

	// the friend has no profile, so neither side changes
	err = app1.Mutations.AddFriend(ctx, "u3")
	assert.Equal(t, errors.Is(err, ErrNotFound), true)
	assert.Equal(t, friends("u1"), []Id{})

	err = app1.Mutations.AddFriend(ctx, "u2")
	assert.Equal(t, err, nil)
	err = app2.Mutations.AddFriend(ctx, "u1")
	assert.Equal(t, err, nil)
	assert.Equal(t, friends("u1"), []Id{"u2"})
	assert.Equal(t, friends("u2"), []Id{"u1"})
}

func TestMutationMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app1 := env.app(t, testIdentity("u1", "Ann"))
	defer app1.Close()
	app2 := env.app(t, testIdentity("u2", "Bob"))
	defer app2.Close()

	_, err := app1.Mutations.SendMessage(ctx, "u2", "")
	assert.Equal(t, errors.Is(err, ErrValidation), true)
	_, err = app1.Mutations.SendMessage(ctx, "", "hi")
	assert.Equal(t, errors.Is(err, ErrValidation), true)

	// both sides write concurrently. The conversation is ordered by server time.
	var wg sync.WaitGroup
	for _, app := range []*App{app1, app2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			friendId := Id("u2")
			if app == app2 {
				friendId = "u1"
			}
			for range 16 {
				_, err := app.Mutations.SendMessage(ctx, friendId, "hi")
				assert.Equal(t, err, nil)
			}
		}()
	}
	wg.Wait()

	docs, err := env.store.List(ctx, MessagesQuery(ConversationId("u1", "u2")))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(docs), 32)
	for i := 1; i < len(docs); i += 1 {
		a, err := DecodeMessage(docs[i-1])
		assert.Equal(t, err, nil)
		b, err := DecodeMessage(docs[i])
		assert.Equal(t, err, nil)
		assert.Equal(t, a.Timestamp.Before(b.Timestamp), true)
	}
}

func TestMutationUpdateProfile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app := env.app(t, testIdentity("u1", "Ann"))
	defer app.Close()

	photo := &Blob{
		Data:        []byte("avatar"),
		ContentType: "image/png",
	}
	err := app.Mutations.UpdateProfile(ctx, "hello", photo)
	assert.Equal(t, err, nil)

	doc, err := env.store.Get(ctx, UsersCollection.Doc("u1"))
	assert.Equal(t, err, nil)
	profile, err := DecodeProfile(doc)
	assert.Equal(t, err, nil)
	assert.Equal(t, profile.Bio, "hello")
	assert.Equal(t, profile.Name, "Ann")
	assert.NotEqual(t, profile.PhotoUrl, "")

	blob, err := env.blobs.Fetch(ctx, profile.PhotoUrl)
	assert.Equal(t, err, nil)
	assert.Equal(t, blob.Data, []byte("avatar"))

	// bio only keeps the photo
	err = app.Mutations.UpdateProfile(ctx, "", nil)
	assert.Equal(t, err, nil)
	doc, err = env.store.Get(ctx, UsersCollection.Doc("u1"))
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.StringField(FieldBio), "")
	assert.Equal(t, doc.StringField(FieldPhotoUrl), profile.PhotoUrl)
}

func TestMutationPostImage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app := env.app(t, testIdentity("u1", "Ann"))
	defer app.Close()

	image := &Blob{
		Data:        []byte("image"),
		ContentType: "image/jpeg",
	}
	// an image alone is a post
	postId, err := app.Mutations.CreatePost(ctx, "", image)
	assert.Equal(t, err, nil)

	doc, err := env.store.Get(ctx, PostsCollection.Doc(postId))
	assert.Equal(t, err, nil)
	post, err := DecodePost(doc)
	assert.Equal(t, err, nil)
	assert.Equal(t, post.ImageUrl != nil, true)
	assert.Equal(t, strings.HasPrefix(*post.ImageUrl, "mem://test/posts/u1/"), true)

	blob, err := env.blobs.Fetch(ctx, *post.ImageUrl)
	assert.Equal(t, err, nil)
	assert.Equal(t, blob.Data, []byte("image"))
	assert.Equal(t, blob.ContentType, "image/jpeg")

	_, err = app.Mutations.CreatePost(ctx, "", &Blob{})
	assert.Equal(t, errors.Is(err, ErrValidation), true)
}

// rejects post writes
type rejectingDocumentStore struct {
	*LocalDocumentStore
}

func (self *rejectingDocumentStore) Create(ctx context.Context, collection Path, fields Fields) (Id, error) {
	return "", NewPermissionError("Missing or insufficient permissions")
}

// records uploaded paths
type recordingBlobStore struct {
	*LocalBlobStore

	stateLock sync.Mutex
	paths     []string
}

func (self *recordingBlobStore) Upload(ctx context.Context, path string, blob *Blob) error {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.paths = append(self.paths, path)
	}()
	return self.LocalBlobStore.Upload(ctx, path, blob)
}

func TestMutationPostImageCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identityService := NewLocalIdentityService()
	err := identityService.AddAccount(testIdentity("u1", "Ann"), testPassword)
	assert.Equal(t, err, nil)
	store := &rejectingDocumentStore{
		LocalDocumentStore: NewLocalDocumentStoreWithDefaults(),
	}
	blobs := &recordingBlobStore{
		LocalBlobStore: NewLocalBlobStore("test"),
	}
	app := NewAppWithDefaults(ctx, identityService, store, blobs)
	defer app.Close()
	_, err = app.SignIn(ctx, &Credentials{
		Email:    "u1@example.com",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)

	_, err = app.Mutations.CreatePost(ctx, "Hello world", &Blob{
		Data:        []byte("image"),
		ContentType: "image/jpeg",
	})
	assert.Equal(t, errors.Is(err, ErrPermission), true)

	// the upload happened and was removed
	assert.Equal(t, len(blobs.paths), 1)
	_, err = blobs.Url(ctx, blobs.paths[0])
	assert.Equal(t, errors.Is(err, ErrNotFound), true)
}

// rejects updates
type rejectingUpdateDocumentStore struct {
	*LocalDocumentStore
}

func (self *rejectingUpdateDocumentStore) Update(ctx context.Context, doc Path, write *Write) error {
	return NewPermissionError("Missing or insufficient permissions")
}

func TestMutationUpdateProfileCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app := env.app(t, testIdentity("u1", "Ann"))
	defer app.Close()

	err := app.Mutations.UpdateProfile(ctx, "first", &Blob{
		Data:        []byte("v1"),
		ContentType: "image/png",
	})
	assert.Equal(t, err, nil)
	doc, err := env.store.Get(ctx, UsersCollection.Doc("u1"))
	assert.Equal(t, err, nil)
	photoUrl := doc.StringField(FieldPhotoUrl)

	identityService := NewLocalIdentityService()
	err = identityService.AddAccount(testIdentity("u1", "Ann"), testPassword)
	assert.Equal(t, err, nil)
	blobs := &recordingBlobStore{
		LocalBlobStore: env.blobs,
	}
	rejectingApp := NewAppWithDefaults(ctx, identityService, &rejectingUpdateDocumentStore{
		LocalDocumentStore: env.store,
	}, blobs)
	defer rejectingApp.Close()
	_, err = rejectingApp.SignIn(ctx, &Credentials{
		Email:    "u1@example.com",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)

	err = rejectingApp.Mutations.UpdateProfile(ctx, "second", &Blob{
		Data:        []byte("v2"),
		ContentType: "image/png",
	})
	assert.Equal(t, errors.Is(err, ErrPermission), true)

	// the profile still serves the old photo
	doc, err = env.store.Get(ctx, UsersCollection.Doc("u1"))
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.StringField(FieldBio), "first")
	assert.Equal(t, doc.StringField(FieldPhotoUrl), photoUrl)
	blob, err := env.blobs.Fetch(ctx, photoUrl)
	assert.Equal(t, err, nil)
	assert.Equal(t, blob.Data, []byte("v1"))

	// the new upload was removed
	assert.Equal(t, len(blobs.paths), 1)
	assert.Equal(t, strings.HasPrefix(blobs.paths[0], "avatars/u1/"), true)
	_, err = env.blobs.Url(ctx, blobs.paths[0])
	assert.Equal(t, errors.Is(err, ErrNotFound), true)
}

// never acknowledges writes
type stalledDocumentStore struct {
	*LocalDocumentStore
}

func (self *stalledDocumentStore) Create(ctx context.Context, collection Path, fields Fields) (Id, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestMutationTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identityService := NewLocalIdentityService()
	err := identityService.AddAccount(testIdentity("u1", "Ann"), testPassword)
	assert.Equal(t, err, nil)
	store := &stalledDocumentStore{
		LocalDocumentStore: NewLocalDocumentStoreWithDefaults(),
	}
	settings := DefaultAppSettings()
	settings.MutationTimeout = 50 * time.Millisecond
	app := NewApp(ctx, identityService, store, NewLocalBlobStore("test"), settings)
	defer app.Close()
	_, err = app.SignIn(ctx, &Credentials{
		Email:    "u1@example.com",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)

	_, err = app.Mutations.CreatePost(ctx, "Hello world", nil)
	assert.Equal(t, errors.Is(err, ErrNetwork), true)
	assert.Equal(t, errors.Is(err, context.DeadlineExceeded), true)
	assert.Equal(t, strings.Contains(err.Error(), "timed out"), true)
}
