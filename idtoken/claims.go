// Package idtoken extracts display claims from identity tokens.
package idtoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/atriumn/idynic-web-sub000/internal/utils"
	"github.com/atriumn/idynic-web-sub000/users"
)

var ErrMalformedToken = errors.New("malformed identity token")

// Claims are the identity claims the client reads from an identity token.
type Claims struct {
	Subject           string
	Issuer            string
	Email             string
	EmailVerified     bool
	Name              string
	GivenName         string
	FamilyName        string
	PreferredUsername string
	Groups            []string
	ExpiresAt         time.Time
}

// ParseClaims decodes the claims of raw without verifying its signature. The
// result is used for display only.
func ParseClaims(raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("[ParseClaims] empty token: %w", ErrMalformedToken)
	}

	token, _, err := jwtlib.NewParser().ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("[ParseClaims] %v: %w", err, ErrMalformedToken)
	}

	mc, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, fmt.Errorf("[ParseClaims] error extracting claims: %w", ErrMalformedToken)
	}
	return fromMap(mc), nil
}

func fromMap(mc jwtlib.MapClaims) *Claims {
	c := &Claims{}
	c.Subject, _ = mc["sub"].(string)
	c.Issuer, _ = mc["iss"].(string)
	c.Email, _ = mc["email"].(string)
	c.Name, _ = mc["name"].(string)
	c.GivenName, _ = mc["given_name"].(string)
	c.FamilyName, _ = mc["family_name"].(string)

	// Cognito issues its own username claim
	c.PreferredUsername, _ = mc["cognito:username"].(string)
	if c.PreferredUsername == "" {
		c.PreferredUsername, _ = mc["preferred_username"].(string)
	}

	switch v := mc["email_verified"].(type) {
	case bool:
		c.EmailVerified = v
	case string:
		c.EmailVerified = strings.EqualFold(v, "true")
	}

	c.Groups = utils.Strings(mc["cognito:groups"])

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c
}

// User derives the display user from the claims. Empty claims are omitted.
func (c *Claims) User() *users.User {
	attrs := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			attrs[k] = v
		}
	}
	set(users.AttrEmail, c.Email)
	set(users.AttrName, c.Name)
	set(users.AttrGivenName, c.GivenName)
	set(users.AttrFamilyName, c.FamilyName)
	set(users.AttrUsername, c.PreferredUsername)
	if c.EmailVerified {
		attrs[users.AttrEmailVerified] = "true"
	}

	id := c.Subject
	if id == "" {
		id = c.PreferredUsername
	}
	return users.New(id, attrs)
}
