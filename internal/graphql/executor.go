package graphql

import (
	"context"
	"errors"
	"sort"
	"time"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/requestinfo"
)

// QueryRootName is the name of the schema's query type.
const QueryRootName = "QueryRoot"

// Executor is the bundled Engine.
type Executor struct {
	schema gql.Schema
	log    *zap.Logger
}

var _ Engine = (*Executor)(nil)

// NewExecutor builds the schema once.  log nil → zap.L().
func NewExecutor(log *zap.Logger) (*Executor, error) {
	if log == nil {
		log = zap.L()
	}
	schema, err := newSchema()
	if err != nil {
		return nil, err
	}
	return &Executor{schema: schema, log: log.Named("graphql")}, nil
}

// Execute runs p.Query.  It never returns nil.
func (e *Executor) Execute(ctx context.Context, p Params) *Result {
	ctx = withScope(ctx, scope{handle: p.Handle, identity: p.Identity})
	res := gql.Do(gql.Params{
		Schema:         e.schema,
		RequestString:  p.Query,
		VariableValues: p.Variables,
		OperationName:  p.OperationName,
		Context:        ctx,
	})

	log := e.log
	if ri := requestinfo.FromContext(ctx); ri != nil {
		log = log.With(zap.String("request_id", ri.RequestID))
	}
	out := &Result{Data: res.Data}
	for _, fe := range res.Errors {
		out.Errors = append(out.Errors, mapError(log, fe))
	}
	return out
}

func mapError(log *zap.Logger, fe gqlerrors.FormattedError) Error {
	orig := fe.OriginalError()
	var ue *UserError
	if orig != nil && !errors.As(orig, &ue) {
		log.Error("resolver failed", zap.Error(orig), zap.Any("path", fe.Path))
		return Error{Message: InternalErrorMessage}
	}

	out := Error{Message: fe.Message, Path: fe.Path}
	for _, l := range fe.Locations {
		out.Locations = append(out.Locations, Location{Line: l.Line, Column: l.Column})
	}
	return out
}

/*──────────────────────────── schema ──────────────────────────────────────*/

type credentialView struct {
	provider string
	cred     database.Credential
}

func newSchema() (gql.Schema, error) {
	credentialType := gql.NewObject(gql.ObjectConfig{
		Name: "Credential",
		Fields: gql.Fields{
			"provider": &gql.Field{
				Type: gql.NewNonNull(gql.String),
				Resolve: func(p gql.ResolveParams) (any, error) {
					return p.Source.(credentialView).provider, nil
				},
			},
			"id": &gql.Field{
				Type: gql.NewNonNull(gql.String),
				Resolve: func(p gql.ResolveParams) (any, error) {
					return p.Source.(credentialView).cred.ID, nil
				},
			},
			"displayName": &gql.Field{
				Type: gql.String,
				Resolve: func(p gql.ResolveParams) (any, error) {
					return p.Source.(credentialView).cred.DisplayName, nil
				},
			},
			"email": &gql.Field{
				Type: gql.String,
				Resolve: func(p gql.ResolveParams) (any, error) {
					return p.Source.(credentialView).cred.Email, nil
				},
			},
		},
	})

	userType := gql.NewObject(gql.ObjectConfig{
		Name: "User",
		Fields: gql.Fields{
			"id": &gql.Field{
				Type: gql.NewNonNull(gql.ID),
				Resolve: func(p gql.ResolveParams) (any, error) {
					return ToGlobalID("User", p.Source.(*database.User).ID), nil
				},
			},
			"createdAt": &gql.Field{
				Type: gql.String,
				Resolve: func(p gql.ResolveParams) (any, error) {
					u := p.Source.(*database.User)
					if u.CreatedAt.IsZero() {
						return nil, nil
					}
					return u.CreatedAt.UTC().Format(time.RFC3339), nil
				},
			},
			"credentials": &gql.Field{
				Type: gql.NewList(credentialType),
				Resolve: func(p gql.ResolveParams) (any, error) {
					u := p.Source.(*database.User)
					names := make([]string, 0, len(u.Credentials))
					for n := range u.Credentials {
						names = append(names, n)
					}
					sort.Strings(names)
					out := make([]credentialView, 0, len(names))
					for _, n := range names {
						out = append(out, credentialView{provider: n, cred: u.Credentials[n]})
					}
					return out, nil
				},
			},
		},
	})

	viewerType := gql.NewObject(gql.ObjectConfig{
		Name: "Viewer",
		Fields: gql.Fields{
			"user": &gql.Field{
				Type:    userType,
				Resolve: resolveViewerUser,
			},
			"isAdmin": &gql.Field{
				Type: gql.NewNonNull(gql.Boolean),
				Resolve: func(p gql.ResolveParams) (any, error) {
					return scopeFrom(p.Context).identity.IsAdmin, nil
				},
			},
		},
	})

	queryRoot := gql.NewObject(gql.ObjectConfig{
		Name: QueryRootName,
		Fields: gql.Fields{
			"viewer": &gql.Field{
				Type: gql.NewNonNull(viewerType),
				Resolve: func(gql.ResolveParams) (any, error) {
					return struct{}{}, nil
				},
			},
			"userById": &gql.Field{
				Type: userType,
				Args: gql.FieldConfigArgument{
					"id": &gql.ArgumentConfig{Type: gql.NewNonNull(gql.ID)},
				},
				Resolve: resolveUserByID,
			},
		},
	})

	return gql.NewSchema(gql.SchemaConfig{Query: queryRoot})
}

func resolveViewerUser(p gql.ResolveParams) (any, error) {
	s := scopeFrom(p.Context)
	if !s.identity.Authenticated() {
		return nil, nil
	}
	return loadUser(p.Context, s.handle, s.identity.UserID)
}

func resolveUserByID(p gql.ResolveParams) (any, error) {
	raw, _ := p.Args["id"].(string)
	id, err := FromGlobalID("id", "User", raw)
	if err != nil {
		return nil, err
	}
	s := scopeFrom(p.Context)
	if !s.identity.IsAdmin && s.identity.UserID != id {
		return nil, UserErrorf("User lacks permissions to read nodes of type `User`.")
	}
	return loadUser(p.Context, s.handle, id)
}

// loadUser maps not-found to null; any other storage error is internal.
func loadUser(ctx context.Context, h database.Handle, id string) (any, error) {
	if h == nil {
		return nil, database.ErrClosed
	}
	u, err := h.GetUser(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
