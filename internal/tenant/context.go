// context.go carries the request's tenant lease through context.Context
// so handlers below the resolving middleware can reach the handle.
package tenant

import "context"

type ctxKey struct{}

// WithConn stores c on ctx.
func WithConn(ctx context.Context, c *Conn) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ConnFrom returns the lease stored by WithConn, or nil.
func ConnFrom(ctx context.Context) *Conn {
	c, _ := ctx.Value(ctxKey{}).(*Conn)
	return c
}
