// internal/auth/context.go
//
// Request identity carried through context.Context.
//
// Usage
// -----
//
//	// Attach the caller's identity after token verification.
//	ctx = auth.WithIdentity(ctx, id)
//
//	// Downstream code (resolvers, handlers) retrieves it.
//	id := auth.FromContext(ctx)   // Anonymous when unset
//
// Notes
// -----
// • Identity is a value type; copies are cheap and never persisted.
// • Oxford commas, two spaces after periods.

package auth

import "context"

// Identity is the authenticated principal of one request.  The zero value
// is Anonymous.
type Identity struct {
	UserID  string
	IsAdmin bool
}

// Anonymous is the identity of a caller with no valid token.
var Anonymous = Identity{}

// Authenticated reports whether the identity names a user.
func (i Identity) Authenticated() bool { return i.UserID != "" }

// String renders the identity for logs.
func (i Identity) String() string {
	switch {
	case !i.Authenticated():
		return "anonymous"
	case i.IsAdmin:
		return "admin:" + i.UserID
	default:
		return "user:" + i.UserID
	}
}

// identityKey is unexported to avoid context-key collisions.
type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext extracts the identity from ctx, or Anonymous when unset.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
