package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanizio/appgate/internal/auth"
	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/database/memory"
)

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := NewExecutor(zaptest.NewLogger(t))
	require.NoError(t, err)
	return e
}

func seededHandle(t *testing.T) database.Handle {
	t.Helper()
	h := memory.New().Open("shop")
	require.NoError(t, h.InsertUser(context.Background(), &database.User{
		ID:        "u1",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Credentials: map[string]database.Credential{
			"github": {ID: "42", DisplayName: "Octo", AccessToken: "secret"},
		},
	}))
	return h
}

func TestViewer(t *testing.T) {
	e := newExecutor(t)
	h := seededHandle(t)

	res := e.Execute(context.Background(), Params{
		Handle:   h,
		Identity: auth.Identity{UserID: "u1"},
		Query:    `{ viewer { isAdmin user { id createdAt credentials { provider id displayName } } } }`,
	})
	require.False(t, res.HasErrors(), "%+v", res.Errors)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	require.JSONEq(t, `{"data":{"viewer":{"isAdmin":false,"user":{
		"id":"`+ToGlobalID("User", "u1")+`",
		"createdAt":"2024-01-02T03:04:05Z",
		"credentials":[{"provider":"github","id":"42","displayName":"Octo"}]}}}}`, string(b))

	anon := e.Execute(context.Background(), Params{Handle: h, Query: `{ viewer { user { id } } }`})
	require.False(t, anon.HasErrors())
	b, _ = json.Marshal(anon)
	require.JSONEq(t, `{"data":{"viewer":{"user":null}}}`, string(b))
}

func TestUnknownFieldKeepsLocations(t *testing.T) {
	e := newExecutor(t)
	res := e.Execute(context.Background(), Params{
		Handle: seededHandle(t),
		Query:  `{ userByI(id: "x") { id } }`,
	})
	require.Len(t, res.Errors, 1)
	require.True(t, strings.HasPrefix(res.Errors[0].Message, `Cannot query field "userByI" on type "QueryRoot".`),
		res.Errors[0].Message)
	require.Equal(t, []Location{{Line: 1, Column: 3}}, res.Errors[0].Locations)
}

func TestSyntaxError(t *testing.T) {
	e := newExecutor(t)
	res := e.Execute(context.Background(), Params{Query: `{ viewer { `})
	require.Len(t, res.Errors, 1)
	require.NotEqual(t, InternalErrorMessage, res.Errors[0].Message)
	require.NotEmpty(t, res.Errors[0].Locations)
}

func TestInvalidID(t *testing.T) {
	e := newExecutor(t)
	res := e.Execute(context.Background(), Params{
		Handle:   seededHandle(t),
		Identity: auth.Identity{UserID: "admin", IsAdmin: true},
		Query:    `{ userById(id: "not-a-global-id") { id } }`,
	})
	require.Len(t, res.Errors, 1)
	require.Equal(t, "id: Invalid ID for type User", res.Errors[0].Message)
	require.Equal(t, []Location{{Line: 1, Column: 3}}, res.Errors[0].Locations)

	b, _ := json.Marshal(res.Data)
	require.JSONEq(t, `{"userById":null}`, string(b))
}

func TestUserByID_Permissions(t *testing.T) {
	e := newExecutor(t)
	h := seededHandle(t)
	q := `{ userById(id: "` + ToGlobalID("User", "u1") + `") { id } }`

	self := e.Execute(context.Background(), Params{Handle: h, Identity: auth.Identity{UserID: "u1"}, Query: q})
	require.False(t, self.HasErrors(), "%+v", self.Errors)

	admin := e.Execute(context.Background(), Params{Handle: h, Identity: auth.Identity{UserID: "x", IsAdmin: true}, Query: q})
	require.False(t, admin.HasErrors())

	other := e.Execute(context.Background(), Params{Handle: h, Identity: auth.Identity{UserID: "u2"}, Query: q})
	require.Len(t, other.Errors, 1)
	require.Contains(t, other.Errors[0].Message, "lacks permissions")
}

type brokenHandle struct{ database.Handle }

func (brokenHandle) GetUser(context.Context, string) (*database.User, error) {
	return nil, errors.New("disk on fire")
}

func TestInternalErrorMasked(t *testing.T) {
	e := newExecutor(t)
	res := e.Execute(context.Background(), Params{
		Handle:   brokenHandle{},
		Identity: auth.Identity{UserID: "u1"},
		Query:    `{ viewer { user { id } } }`,
	})
	require.Equal(t, []Error{{Message: InternalErrorMessage}}, res.Errors)

	b, _ := json.Marshal(res)
	require.NotContains(t, string(b), "disk on fire")
}

func TestGlobalID(t *testing.T) {
	id, err := FromGlobalID("id", "User", ToGlobalID("User", "abc"))
	require.NoError(t, err)
	require.Equal(t, "abc", id)

	for _, bad := range []string{"", "%%%", ToGlobalID("App", "abc"), ToGlobalID("User", "")} {
		_, err := FromGlobalID("id", "User", bad)
		var ue *UserError
		require.ErrorAs(t, err, &ue, bad)
	}
}
