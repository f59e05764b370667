package social

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestRouter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Equal(t, MatchRoute("/").Name, RouteNameFeed)
	assert.Equal(t, MatchRoute("/login").Private, false)
	assert.Equal(t, MatchRoute("/signup").Name, RouteNameSignup)
	assert.Equal(t, MatchRoute("/profile/u2").Id, Id("u2"))
	assert.Equal(t, MatchRoute("/chat").Id, Id(""))
	assert.Equal(t, MatchRoute("/chat/u2/").Path, "/chat/u2")
	// unknown paths go to the feed
	assert.Equal(t, MatchRoute("/nowhere").Name, RouteNameFeed)
	assert.Equal(t, MatchRoute("/profile/a_b").Name, RouteNameFeed)

	env := newTestEnv(ctx, testIdentity("u1", "Ann"))
	app := NewAppWithDefaults(ctx, env.identity, env.store, env.blobs)
	defer app.Close()

	assert.Equal(t, app.Router.Navigate("/search").Name, RouteNameLogin)
	assert.Equal(t, app.Router.Navigate("/signup").Name, RouteNameSignup)
	_, err := NewFeedView(app)
	assert.Equal(t, errors.Is(err, ErrAuth), true)
	_, err = NewChatView(app, "")
	assert.Equal(t, errors.Is(err, ErrAuth), true)

	_, err = app.SignIn(ctx, &Credentials{
		Email:    "u1@example.com",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, app.Router.Navigate("/search").Name, RouteNameSearch)
	assert.Equal(t, app.Router.Navigate("/profile/u2").Id, Id("u2"))
}

func TestNavbarView(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx, testIdentity("u1", "Ann"))
	app := NewAppWithDefaults(ctx, env.identity, env.store, env.blobs)
	defer app.Close()

	navbar := NewNavbarView(app)
	defer navbar.Close()

	changes := 0
	navbar.AddChangeCallback(func() {
		changes += 1
	})

	err := app.Session.WaitLoaded(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, navbar.SignedIn(), false)
	assert.Equal(t, navbar.Links(), []NavLink{
		{Label: "Login", Path: RouteLogin},
		{Label: "Sign Up", Path: RouteSignup},
	})
	assert.Equal(t, navbar.AvatarInitial(), "?")

	_, err = app.SignIn(ctx, &Credentials{
		Email:    "u1@example.com",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, navbar.Links(), []NavLink{
		{Label: "Search", Path: RouteSearch},
		{Label: "Chat", Path: RouteChat},
		{Label: "Profile", Path: "/profile/u1"},
	})
	assert.Equal(t, navbar.AvatarUrl(), "")
	assert.Equal(t, navbar.AvatarInitial(), "U")

	route, err := navbar.Logout(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, route, RouteLogin)
	assert.Equal(t, navbar.SignedIn(), false)

	err = app.Sync(ctx, func() {})
	assert.Equal(t, err, nil)
	err = app.Sync(ctx, func() {
		assert.Equal(t, changes, 2)
	})
	assert.Equal(t, err, nil)
}

func TestFeedViewCards(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app1 := env.app(t, testIdentity("u1", "Ann"))
	defer app1.Close()
	app2 := env.app(t, testIdentity("u2", "Bob"))
	defer app2.Close()

	feed, err := NewFeedView(app1)
	assert.Equal(t, err, nil)
	defer feed.Close()

	// posts from other users arrive live, newest first
	p1, err := app1.Mutations.CreatePost(ctx, "one", nil)
	assert.Equal(t, err, nil)
	p2, err := app2.Mutations.CreatePost(ctx, "two", nil)
	assert.Equal(t, err, nil)

	waitFor(t, func() bool {
		return len(feed.Cards()) == 2
	})
	cards := feed.Cards()
	assert.Equal(t, cards[0].Post().Id, p2)
	assert.Equal(t, cards[1].Post().Id, p1)
	assert.Equal(t, cards[0].Post().AuthorName, "Bob")

	card := feed.Card(p1)
	err = card.WaitActive(ctx)
	assert.Equal(t, err, nil)

	// the card is kept across post updates
	err = app2.Mutations.Like(ctx, p1)
	assert.Equal(t, err, nil)
	waitFor(t, func() bool {
		return feed.Card(p1).LikeCount() == 1
	})
	assert.Equal(t, feed.Card(p1) == card, true)
	assert.Equal(t, card.LikedByMe(), false)

	// the card closes when the post leaves the feed
	_, err = env.store.Commit(ctx, []*Write{UpdateWrite(PostsCollection.Doc(p1), Fields{FieldUid: ""})})
	assert.Equal(t, err, nil)
	waitFor(t, func() bool {
		return feed.Card(p1) == nil
	})
	assert.Equal(t, card.comments.State(), SubscriptionStateCancelled)

	feed.Close()
	assert.Equal(t, feed.State(), SubscriptionStateCancelled)
	assert.Equal(t, len(feed.Cards()), 0)
}

func TestChatView(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app1 := env.app(t, testIdentity("u1", "Ann"))
	defer app1.Close()
	app2 := env.app(t, testIdentity("u2", "Bob"))
	defer app2.Close()

	idle, err := NewChatView(app1, "")
	assert.Equal(t, err, nil)
	assert.Equal(t, idle.Idle(), true)
	assert.Equal(t, idle.Status(), ChatIdleStatus)
	assert.Equal(t, len(idle.Messages()), 0)
	_, err = idle.Send(ctx, "hi")
	assert.Equal(t, errors.Is(err, ErrValidation), true)
	idle.Close()

	chat1, err := NewChatView(app1, "u2")
	assert.Equal(t, err, nil)
	defer chat1.Close()
	chat2, err := NewChatView(app2, "u1")
	assert.Equal(t, err, nil)
	defer chat2.Close()
	assert.Equal(t, chat1.ConversationId(), chat2.ConversationId())
	assert.Equal(t, chat1.Status(), "")

	err = chat1.WaitActive(ctx)
	assert.Equal(t, err, nil)

	_, err = chat1.Send(ctx, "hi bob")
	assert.Equal(t, err, nil)
	_, err = chat2.Send(ctx, "hi ann")
	assert.Equal(t, err, nil)

	err = chat2.WaitMessageCount(ctx, 2)
	assert.Equal(t, err, nil)
	messages := chat2.Messages()
	assert.Equal(t, messages[0].Text, "hi bob")
	assert.Equal(t, messages[1].Text, "hi ann")
	assert.Equal(t, chat2.IsMine(messages[0]), false)
	assert.Equal(t, chat2.IsMine(messages[1]), true)
	assert.Equal(t, messages[0].Recipient, Id("u2"))
}

func TestSearchView(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app := env.app(t, testIdentity("u1", "Ann"))
	defer app.Close()
	for _, identity := range []*Identity{
		testIdentity("u2", "Joanna"),
		testIdentity("u3", "Bob"),
		testIdentity("u4", ""),
	} {
		other := env.app(t, identity)
		other.Close()
	}

	search, err := NewSearchView(app)
	assert.Equal(t, err, nil)
	defer search.Close()
	assert.Equal(t, search.Loaded(), false)

	err = search.Load(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, search.Loaded(), true)

	names := func(users []*Profile) []string {
		names := []string{}
		for _, user := range users {
			names = append(names, user.Name)
		}
		return names
	}

	// the nameless user is never listed
	assert.Equal(t, names(search.Results()), []string{"Ann", "Joanna", "Bob"})
	assert.Equal(t, names(FilterUsers([]*Profile{{Id: "u4"}}, "")), []string{})

	search.SetQuery("ann")
	assert.Equal(t, names(search.Results()), []string{"Ann", "Joanna"})
	assert.Equal(t, names(search.Filter("BOB")), []string{"Bob"})
	assert.Equal(t, names(search.Filter("x")), []string{})

	assert.Equal(t, AvatarInitial("ann"), "A")
	assert.Equal(t, AvatarInitial(""), "?")
}

func TestProfileView(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	app1 := env.app(t, testIdentity("u1", "Ann"))
	defer app1.Close()
	app2 := env.app(t, testIdentity("u2", "Bob"))
	defer app2.Close()

	_, err := app2.Mutations.CreatePost(ctx, "from bob", nil)
	assert.Equal(t, err, nil)
	_, err = app1.Mutations.CreatePost(ctx, "from ann", nil)
	assert.Equal(t, err, nil)

	profile, err := NewProfileView(app1, "u1")
	assert.Equal(t, err, nil)
	defer profile.Close()

	err = profile.WaitLoaded(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, profile.Profile().Name, "Ann")
	assert.Equal(t, profile.IsOwn(), true)
	assert.Equal(t, profile.CanEdit(), true)
	assert.Equal(t, profile.CanAddFriend(), false)
	err = profile.WaitPostsActive(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(profile.Posts()), 1)
	assert.Equal(t, profile.Posts()[0].Content, "from ann")

	err = profile.UpdateProfile(ctx, "hello", nil)
	assert.Equal(t, err, nil)
	waitFor(t, func() bool {
		p := profile.Profile()
		return p != nil && p.Bio == "hello"
	})

	// re-keyed to another user
	err = profile.SetProfileId("u2")
	assert.Equal(t, err, nil)
	err = profile.WaitLoaded(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, profile.Profile().Name, "Bob")
	assert.Equal(t, profile.IsOwn(), false)
	assert.Equal(t, profile.IsFriend(), false)
	assert.Equal(t, profile.CanAddFriend(), true)
	err = profile.UpdateProfile(ctx, "hacked", nil)
	assert.Equal(t, errors.Is(err, ErrPermission), true)
	err = profile.WaitPostsActive(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, profile.Posts()[0].Content, "from bob")

	err = profile.AddFriend(ctx)
	assert.Equal(t, err, nil)
	waitFor(t, func() bool {
		return profile.IsFriend()
	})

	// a missing profile is the empty state, not an error
	err = profile.SetProfileId("u9")
	assert.Equal(t, err, nil)
	err = profile.WaitLoaded(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, profile.Profile() == nil, true)
	assert.Equal(t, profile.Err(), nil)
	err = profile.WaitPostsActive(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(profile.Posts()), 0)

	err = profile.SetProfileId("")
	assert.Equal(t, errors.Is(err, ErrValidation), true)
}

// a store where one armed Get reads the document and then waits for release
type gatedDocumentStore struct {
	*LocalDocumentStore

	stateLock sync.Mutex
	entered   chan struct{}
	release   chan struct{}
}

func (self *gatedDocumentStore) arm(entered chan struct{}, release chan struct{}) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.entered = entered
	self.release = release
}

func (self *gatedDocumentStore) Get(ctx context.Context, doc Path) (*Document, error) {
	d, err := self.LocalDocumentStore.Get(ctx, doc)
	self.stateLock.Lock()
	entered := self.entered
	release := self.release
	self.entered = nil
	self.release = nil
	self.stateLock.Unlock()
	if release != nil {
		close(entered)
		<-release
	}
	return d, err
}

func TestProfileViewReloadOrder(t *testing.T) {
	// a reload that reads before a later reload but lands after it is dropped
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(ctx)
	setup := env.app(t, testIdentity("u1", "Ann"))
	setup.Close()

	store := &gatedDocumentStore{
		LocalDocumentStore: env.store,
	}
	identityService := NewLocalIdentityService()
	err := identityService.AddAccount(testIdentity("u1", "Ann"), testPassword)
	assert.Equal(t, err, nil)
	app := NewAppWithDefaults(ctx, identityService, store, env.blobs)
	defer app.Close()
	_, err = app.SignIn(ctx, &Credentials{
		Email:    "u1@example.com",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)
	waitFor(t, func() bool {
		return app.Session.SignedIn()
	})

	profile, err := NewProfileView(app, "u1")
	assert.Equal(t, err, nil)
	defer profile.Close()
	err = profile.WaitLoaded(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, profile.Profile().Bio, "")

	entered := make(chan struct{})
	release := make(chan struct{})
	store.arm(entered, release)
	profile.reload()
	// the first reload has read the old bio
	<-entered

	doc := UsersCollection.Doc("u1")
	err = env.store.Update(ctx, doc, UpdateWrite(doc, Fields{FieldBio: "fresh"}))
	assert.Equal(t, err, nil)
	profile.reload()
	waitFor(t, func() bool {
		p := profile.Profile()
		return p != nil && p.Bio == "fresh"
	})

	close(release)
	time.Sleep(50 * time.Millisecond)
	err = app.Loop.Sync(ctx, func() {})
	assert.Equal(t, err, nil)
	assert.Equal(t, profile.Profile().Bio, "fresh")
}
