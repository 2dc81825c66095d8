package users_test

import (
	"testing"

	"github.com/atriumn/idynic-web-sub000/users"
	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	t.Run("name attribute wins", func(t *testing.T) {
		u := users.New("sub-1", map[string]string{users.AttrName: "Ada Lovelace", users.AttrEmail: "ada@example.com"})
		require.Equal(t, "Ada Lovelace", u.DisplayName())
	})

	t.Run("given and family name", func(t *testing.T) {
		u := users.New("sub-1", map[string]string{users.AttrGivenName: "Ada", users.AttrFamilyName: "Lovelace"})
		require.Equal(t, "Ada Lovelace", u.DisplayName())
	})

	t.Run("email as last resort", func(t *testing.T) {
		u := users.New("sub-1", map[string]string{users.AttrEmail: "ada@example.com"})
		require.Equal(t, "ada@example.com", u.DisplayName())
		require.Equal(t, "sub-1", u.Username())
	})

	t.Run("nothing derivable", func(t *testing.T) {
		require.Empty(t, users.New("sub-1", nil).DisplayName())
	})
}

func TestWithLoginFallback(t *testing.T) {
	t.Run("nil user", func(t *testing.T) {
		u := users.WithLoginFallback(nil, "u@example.com")
		require.Equal(t, "u@example.com", u.ID)
		require.Equal(t, "u@example.com", u.Username())
		require.Equal(t, "u@example.com", u.DisplayName())
	})

	t.Run("user without display data", func(t *testing.T) {
		orig := users.New("sub-1", nil)
		u := users.WithLoginFallback(orig, "u@example.com")
		require.Equal(t, "sub-1", u.ID)
		require.Equal(t, "u@example.com", u.Username())
		require.Equal(t, "u@example.com", u.DisplayName())
		require.Empty(t, orig.Attributes, "original must not be mutated")
	})

	t.Run("user with display data untouched", func(t *testing.T) {
		u := users.WithLoginFallback(users.New("sub-1", map[string]string{users.AttrName: "Ada"}), "u@example.com")
		require.Equal(t, "Ada", u.DisplayName())
		require.Equal(t, "sub-1", u.Username())
	})
}

func TestClone(t *testing.T) {
	var nilUser *users.User
	require.Nil(t, nilUser.Clone())

	u := users.New("sub-1", map[string]string{users.AttrName: "Ada"})
	c := u.Clone()
	c.Attributes[users.AttrName] = "Grace"
	require.Equal(t, "Ada", u.DisplayName())
}
