// Package graphql executes tenant queries.  The gateway talks to it only
// through Engine; Executor is the bundled implementation on
// github.com/graphql-go/graphql.
//
// Error policy: parse and validation errors, and resolver errors that are
// a *UserError, reach the client verbatim with their locations.  Every
// other resolver error is logged and replaced by a bare
// "Internal Server Error" entry.
package graphql

import (
	"context"
	"fmt"

	"github.com/yanizio/appgate/internal/auth"
	"github.com/yanizio/appgate/internal/database"
)

// InternalErrorMessage replaces the text of any unexpected error.
const InternalErrorMessage = "Internal Server Error"

// Params is one query execution.
type Params struct {
	Handle        database.Handle
	Identity      auth.Identity
	Query         string
	Variables     map[string]any
	OperationName string
}

// Location is a 1-based position in the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error is one entry of the response `errors` array.
type Error struct {
	Message   string     `json:"message"`
	Locations []Location `json:"locations,omitempty"`
	Path      []any      `json:"path,omitempty"`
}

// Result is the response envelope.
type Result struct {
	Data   any     `json:"data,omitempty"`
	Errors []Error `json:"errors,omitempty"`
}

// HasErrors reports whether any error was produced.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

// Engine runs a query against a tenant handle.
type Engine interface {
	Execute(ctx context.Context, p Params) *Result
}

// UserError is a resolver error safe to show to the client.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// UserErrorf formats a UserError.
func UserErrorf(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

/*──────────────────────────── request scope ───────────────────────────────*/

type scopeKey struct{}

type scope struct {
	handle   database.Handle
	identity auth.Identity
}

func withScope(ctx context.Context, s scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}
