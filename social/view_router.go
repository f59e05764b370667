package social

import (
	"fmt"
	"strings"
)

const (
	RouteFeed    = "/"
	RouteLogin   = "/login"
	RouteSignup  = "/signup"
	RouteProfile = "/profile"
	RouteChat    = "/chat"
	RouteSearch  = "/search"
)

func ProfileRoute(id Id) string {
	return fmt.Sprintf("%s/%s", RouteProfile, id)
}

func ChatRoute(id Id) string {
	return fmt.Sprintf("%s/%s", RouteChat, id)
}

type RouteName string

const (
	RouteNameFeed    RouteName = "feed"
	RouteNameLogin   RouteName = "login"
	RouteNameSignup  RouteName = "signup"
	RouteNameProfile RouteName = "profile"
	RouteNameChat    RouteName = "chat"
	RouteNameSearch  RouteName = "search"
)

type Route struct {
	Name RouteName
	Path string
	// the `:id` segment, if any
	Id      Id
	Private bool
}

// Gates private routes on the session.
type Router struct {
	session *SessionStore
}

func NewRouter(session *SessionStore) *Router {
	return &Router{
		session: session,
	}
}

// the private route gate
func (self *Router) Require() (*Identity, error) {
	return self.session.RequireIdentity()
}

// matches `path` to a route. Unknown paths go to the feed.
func MatchRoute(path string) *Route {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		segments = []string{}
	}
	switch {
	case len(segments) == 0:
		return &Route{Name: RouteNameFeed, Path: RouteFeed, Private: true}
	case len(segments) == 1 && segments[0] == "login":
		return &Route{Name: RouteNameLogin, Path: RouteLogin}
	case len(segments) == 1 && segments[0] == "signup":
		return &Route{Name: RouteNameSignup, Path: RouteSignup}
	case len(segments) == 1 && segments[0] == "search":
		return &Route{Name: RouteNameSearch, Path: RouteSearch, Private: true}
	case len(segments) == 1 && segments[0] == "chat":
		return &Route{Name: RouteNameChat, Path: RouteChat, Private: true}
	case len(segments) == 2 && segments[0] == "chat":
		if id, err := ParseId(segments[1]); err == nil {
			return &Route{Name: RouteNameChat, Path: ChatRoute(id), Id: id, Private: true}
		}
	case len(segments) == 2 && segments[0] == "profile":
		if id, err := ParseId(segments[1]); err == nil {
			return &Route{Name: RouteNameProfile, Path: ProfileRoute(id), Id: id, Private: true}
		}
	}
	return &Route{Name: RouteNameFeed, Path: RouteFeed, Private: true}
}

// resolves `path` to the route to show. Private routes redirect to login when signed out.
func (self *Router) Navigate(path string) *Route {
	route := MatchRoute(path)
	if route.Private {
		if _, err := self.Require(); err != nil {
			return MatchRoute(RouteLogin)
		}
	}
	return route
}
