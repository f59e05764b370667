package social

import (
	"context"
	"strings"
	"sync"
)

// All users, loaded once, filtered locally by name.
type SearchView struct {
	viewChanges

	app *App

	stateLock sync.Mutex
	users     []*Profile
	loaded    bool
	err       error
	query     string
}

func NewSearchView(app *App) (*SearchView, error) {
	if _, err := app.Router.Require(); err != nil {
		return nil, err
	}
	return &SearchView{
		viewChanges: newViewChanges(),
		app:         app,
		users:       []*Profile{},
	}, nil
}

// loads the users. A later load replaces the list.
func (self *SearchView) Load(ctx context.Context) error {
	docs, err := self.app.Store.List(ctx, NewQuery(UsersCollection))
	if err != nil {
		socialErr := AsError(err)
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.err = socialErr
		}()
		return socialErr
	}
	users := make([]*Profile, 0, len(docs))
	for _, doc := range docs {
		if user, err := DecodeProfile(doc); err == nil {
			users = append(users, user)
		}
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.users = users
		self.loaded = true
		self.err = nil
	}()
	dispatch(self.app.Loop, self.changed)
	return nil
}

func (self *SearchView) Loaded() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.loaded
}

func (self *SearchView) Err() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.err
}

func (self *SearchView) SetQuery(query string) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.query = query
	}()
	dispatch(self.app.Loop, self.changed)
}

// the users matching the current query
func (self *SearchView) Results() []*Profile {
	self.stateLock.Lock()
	query := self.query
	self.stateLock.Unlock()
	return self.Filter(query)
}

// Case-insensitive substring match on the name.
// Users without a name never match. The empty query matches every named user.
func (self *SearchView) Filter(query string) []*Profile {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return FilterUsers(self.users, query)
}

func FilterUsers(users []*Profile, query string) []*Profile {
	q := strings.ToLower(query)
	matches := []*Profile{}
	for _, user := range users {
		if user.Name == "" {
			continue
		}
		if strings.Contains(strings.ToLower(user.Name), q) {
			matches = append(matches, user)
		}
	}
	return matches
}

// the first letter of the name, or `?`
func AvatarInitial(name string) string {
	for _, r := range name {
		return strings.ToUpper(string(r))
	}
	return "?"
}

func (self *SearchView) Close() {
}
