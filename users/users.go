package users

import (
	"maps"
	"strings"
)

// Attribute names used in User.Attributes.
const (
	AttrUsername      = "username"
	AttrEmail         = "email"
	AttrEmailVerified = "email_verified"
	AttrName          = "name"
	AttrGivenName     = "given_name"
	AttrFamilyName    = "family_name"
)

// User is the identity derived from a session. It is display data only and never
// used for authorization decisions.
type User struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func New(id string, attributes map[string]string) *User {
	u := &User{ID: id, Attributes: map[string]string{}}
	maps.Copy(u.Attributes, attributes)
	return u
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	return New(u.ID, u.Attributes)
}

func (u *User) Attribute(name string) string {
	if u == nil {
		return ""
	}
	return u.Attributes[name]
}

func (u *User) Email() string {
	return u.Attribute(AttrEmail)
}

// Username returns the username attribute, falling back to the ID.
func (u *User) Username() string {
	if name := u.Attribute(AttrUsername); name != "" {
		return name
	}
	if u == nil {
		return ""
	}
	return u.ID
}

// DisplayName returns the best human readable name available, or "" when
// nothing beyond the ID is known.
func (u *User) DisplayName() string {
	if name := u.Attribute(AttrName); name != "" {
		return name
	}
	full := strings.TrimSpace(u.Attribute(AttrGivenName) + " " + u.Attribute(AttrFamilyName))
	if full != "" {
		return full
	}
	if name := u.Attribute(AttrUsername); name != "" {
		return name
	}
	return u.Email()
}

// WithLoginFallback returns a copy of u in which identifier stands in for the
// username and display name when no display name can be derived. A nil u yields
// a user identified by identifier alone.
func WithLoginFallback(u *User, identifier string) *User {
	if identifier == "" {
		return u.Clone()
	}
	if u == nil {
		return New(identifier, map[string]string{
			AttrUsername: identifier,
			AttrName:     identifier,
		})
	}
	out := u.Clone()
	if out.DisplayName() != "" {
		return out
	}
	out.Attributes[AttrUsername] = identifier
	out.Attributes[AttrName] = identifier
	return out
}
