package auth

import "github.com/atriumn/idynic-web-sub000/users"

type Status int

const (
	Unauthenticated Status = iota
	Loading
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// State is a snapshot of the session as the application sees it. User is set
// only when Status is Authenticated.
type State struct {
	Status  Status
	User    *users.User
	Loading bool
}

func unauthenticated() State {
	return State{Status: Unauthenticated}
}

func loading() State {
	return State{Status: Loading, Loading: true}
}

func authenticated(u *users.User) State {
	return State{Status: Authenticated, User: u}
}
