// Package auth resolves caller identity (browser session or API key) and
// decides resource access.
package auth

import (
	"context"
	"errors"
)

// Origin records which credential produced a principal.
type Origin string

const (
	OriginSession   Origin = "session"
	OriginKey       Origin = "key"
	OriginAnonymous Origin = "anonymous"
)

// Principal is the resolved identity for one request. It is never
// persisted; resolution is read-only and safe to race.
type Principal struct {
	UserID   int64
	Username string
	Origin   Origin
}

// Anonymous reports whether the principal carries no authenticated user.
func (p Principal) Anonymous() bool {
	return p.UserID == 0 || p.Origin == OriginAnonymous || p.Origin == ""
}

var ErrUnauthenticated = errors.New("unauthenticated")

type ctxKeyPrincipal struct{}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	v, ok := ctx.Value(ctxKeyPrincipal{}).(Principal)
	return v, ok
}
