package postengine

import (
	"context"
)

// AnonymousIdentity is an IdentityResolver that never resolves a user.
// Useful when the engine runs without a session layer or for testing.
type AnonymousIdentity struct{}

// NewAnonymousIdentity creates an identity resolver that treats every caller
// as anonymous.
func NewAnonymousIdentity() IdentityResolver {
	return &AnonymousIdentity{}
}

// CurrentUser always reports an anonymous caller.
func (a *AnonymousIdentity) CurrentUser(ctx context.Context) (*User, error) {
	return nil, nil
}

// StaticIdentity is an IdentityResolver that always resolves the same user.
type StaticIdentity struct {
	User User
}

// NewStaticIdentity creates an identity resolver pinned to the given user.
func NewStaticIdentity(user User) IdentityResolver {
	return &StaticIdentity{User: user}
}

// CurrentUser returns the pinned user.
func (s *StaticIdentity) CurrentUser(ctx context.Context) (*User, error) {
	user := s.User
	return &user, nil
}
