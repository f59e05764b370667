package social

import (
	"context"
)

type NavLink struct {
	Label string
	Path  string
}

// Derived from the session. Updates on every sign in and sign out.
type NavbarView struct {
	viewChanges

	app          *App
	sessionUnsub func()
}

func NewNavbarView(app *App) *NavbarView {
	navbar := &NavbarView{
		viewChanges: newViewChanges(),
		app:         app,
	}
	navbar.sessionUnsub = app.Session.AddChangeCallback(func(identity *Identity) {
		navbar.changed()
	})
	return navbar
}

func (self *NavbarView) SignedIn() bool {
	return self.app.Session.SignedIn()
}

func (self *NavbarView) Links() []NavLink {
	identity := self.app.Session.Identity()
	if identity == nil {
		return []NavLink{
			{Label: "Login", Path: RouteLogin},
			{Label: "Sign Up", Path: RouteSignup},
		}
	}
	return []NavLink{
		{Label: "Search", Path: RouteSearch},
		{Label: "Chat", Path: RouteChat},
		{Label: "Profile", Path: ProfileRoute(identity.Id)},
	}
}

// empty when the user has no photo
func (self *NavbarView) AvatarUrl() string {
	identity := self.app.Session.Identity()
	if identity == nil {
		return ""
	}
	return identity.PhotoUrl
}

// the first letter of the email, or `?`
func (self *NavbarView) AvatarInitial() string {
	identity := self.app.Session.Identity()
	if identity == nil {
		return "?"
	}
	return AvatarInitial(identity.Email)
}

// signs out and returns the route to show next
func (self *NavbarView) Logout(ctx context.Context) (string, error) {
	if err := self.app.SignOut(ctx); err != nil {
		return "", err
	}
	return RouteLogin, nil
}

func (self *NavbarView) Close() {
	self.sessionUnsub()
}
