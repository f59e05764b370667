package social

import (
	"context"
	"sync"
)

// A user's profile, loaded once, and the user's live posts, newest first.
// Changing the profile id cancels the posts subscription and opens a new one.
type ProfileView struct {
	viewChanges

	app *App

	stateLock sync.Mutex
	profileId Id
	// incremented per load so that stale loads are dropped
	generation int
	profile    *Profile
	loading    bool
	profileErr error
	posts      *LiveQuery[*Post]
	closed     bool

	loadMonitor *Monitor
}

func UserPostsQuery(uid Id) *Query {
	return NewQuery(PostsCollection).Where(FieldUid, FilterOpEqual, uid).OrderByDesc(FieldTimestamp)
}

func NewProfileView(app *App, profileId Id) (*ProfileView, error) {
	if _, err := app.Router.Require(); err != nil {
		return nil, err
	}
	profile := &ProfileView{
		viewChanges: newViewChanges(),
		app:         app,
		loadMonitor: NewMonitor(),
	}
	if err := profile.SetProfileId(profileId); err != nil {
		return nil, err
	}
	return profile, nil
}

// re-keys the view
func (self *ProfileView) SetProfileId(profileId Id) error {
	if profileId == "" {
		return NewValidationError("Profile id is empty")
	}

	posts := newViewQuery(self.app, UserPostsQuery(profileId), DecodePost)
	posts.AddSnapshotCallback(func(posts []*Post) {
		self.changed()
	})

	var prevPosts *LiveQuery[*Post]
	var generation int
	err := func() error {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			return NewValidationError("Profile view is closed")
		}
		prevPosts = self.posts
		self.profileId = profileId
		self.generation += 1
		generation = self.generation
		self.profile = nil
		self.profileErr = nil
		self.loading = true
		self.posts = posts
		return nil
	}()
	if err != nil {
		return err
	}
	if prevPosts != nil {
		prevPosts.Cancel()
	}
	self.loadMonitor.NotifyAll()

	if err := posts.Subscribe(); err != nil {
		return err
	}
	go HandleError(func() {
		self.load(profileId, generation)
	})
	return nil
}

func (self *ProfileView) load(profileId Id, generation int) {
	ctx, cancel := context.WithTimeout(self.app.ctx, self.app.settings.SubscribeTimeout)
	defer cancel()

	var profile *Profile
	doc, err := self.app.Store.Get(ctx, UsersCollection.Doc(profileId))
	if err == nil {
		profile, err = DecodeProfile(doc)
	}

	dispatch(self.app.Loop, func() {
		applied := func() bool {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			if self.closed || self.generation != generation {
				return false
			}
			self.loading = false
			switch {
			case err == nil:
				self.profile = profile
			case KindOf(err) == ErrorKindNotFound:
				// rendered as the empty state
			default:
				self.profileErr = AsError(err)
			}
			return true
		}()
		if !applied {
			return
		}
		self.loadMonitor.NotifyAll()
		self.changed()
	})
}

func (self *ProfileView) ProfileId() Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.profileId
}

// nil while loading or if the profile does not exist
func (self *ProfileView) Profile() *Profile {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.profile
}

func (self *ProfileView) Loading() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.loading
}

func (self *ProfileView) Err() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.profileErr
}

func (self *ProfileView) postsQuery() *LiveQuery[*Post] {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.posts
}

func (self *ProfileView) Posts() []*Post {
	return self.postsQuery().Items()
}

func (self *ProfileView) WaitPostsActive(ctx context.Context) error {
	return self.postsQuery().WaitActive(ctx)
}

func (self *ProfileView) WaitLoaded(ctx context.Context) error {
	for {
		notify := self.loadMonitor.NotifyChannel()
		if !self.Loading() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}

func (self *ProfileView) IsOwn() bool {
	identity := self.app.Session.Identity()
	return identity != nil && identity.Id == self.ProfileId()
}

func (self *ProfileView) IsFriend() bool {
	identity := self.app.Session.Identity()
	profile := self.Profile()
	return identity != nil && profile != nil && profile.HasFriend(identity.Id)
}

// the edit form is shown only on the own profile
func (self *ProfileView) CanEdit() bool {
	return self.IsOwn()
}

// the add friend action is shown only on other profiles
func (self *ProfileView) CanAddFriend() bool {
	return self.app.Session.SignedIn() && !self.IsOwn()
}

// `photo` is optional. Reloads the profile after the write.
func (self *ProfileView) UpdateProfile(ctx context.Context, bio string, photo *Blob) error {
	if !self.IsOwn() {
		return NewPermissionError("Only the own profile can be edited")
	}
	if err := self.app.Mutations.UpdateProfile(ctx, bio, photo); err != nil {
		return err
	}
	self.reload()
	return nil
}

func (self *ProfileView) AddFriend(ctx context.Context) error {
	if self.IsOwn() {
		return NewValidationError("Cannot add yourself as a friend")
	}
	if err := self.app.Mutations.AddFriend(ctx, self.ProfileId()); err != nil {
		return err
	}
	self.reload()
	return nil
}

func (self *ProfileView) reload() {
	var profileId Id
	var generation int
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		profileId = self.profileId
		// supersedes any load still in flight
		self.generation += 1
		generation = self.generation
	}()
	go HandleError(func() {
		self.load(profileId, generation)
	})
}

func (self *ProfileView) Close() {
	var posts *LiveQuery[*Post]
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.closed = true
		posts = self.posts
	}()
	if posts != nil {
		posts.Cancel()
	}
	self.loadMonitor.NotifyAll()
}
