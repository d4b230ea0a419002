// Package auth gates administrative commands.
package auth

import (
	"PerpPool/internal/event"
	"errors"

	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authorizer decides whether an origin may run administrative commands.
type Authorizer interface {
	AuthorizeAdmin(origin event.Origin) error
}

// Gate accepts the root origin and verified bearer tokens. A token passes
// when it carries the admin role or when its subject is a listed admin
// account. An account id on its own proves nothing.
type Gate struct {
	admins   map[uuid.UUID]struct{}
	verifier *JWTVerifier
}

// NewGate builds a gate. verifier may be nil to disable tokens, which
// leaves only the root origin.
func NewGate(admins []uuid.UUID, verifier *JWTVerifier) *Gate {
	g := &Gate{
		admins:   make(map[uuid.UUID]struct{}, len(admins)),
		verifier: verifier,
	}
	for _, a := range admins {
		g.admins[a] = struct{}{}
	}
	return g
}

func (g *Gate) AuthorizeAdmin(origin event.Origin) error {
	if origin.Root {
		return nil
	}
	if g.verifier == nil || origin.Token == "" {
		return ErrUnauthorized
	}
	claims, err := g.verifier.Verify(origin.Token)
	if err != nil {
		return errors.Join(ErrUnauthorized, err)
	}
	if origin.Account != uuid.Nil && claims.Subject != origin.Account.String() {
		return ErrUnauthorized
	}
	if claims.Role == RoleAdmin {
		return nil
	}
	if sub, err := uuid.Parse(claims.Subject); err == nil {
		if _, ok := g.admins[sub]; ok {
			return nil
		}
	}
	return ErrUnauthorized
}

// RootOnly accepts only the root origin.
type RootOnly struct{}

func (RootOnly) AuthorizeAdmin(origin event.Origin) error {
	if origin.Root {
		return nil
	}
	return ErrUnauthorized
}
