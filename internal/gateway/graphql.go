package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/yanizio/appgate/internal/graphql"
	"github.com/yanizio/appgate/internal/tenant"
)

const invalidVariablesMessage = "Invalid `variables` in POST body."

// graphqlRequest is the POST /graphql body.  Variables may arrive as an
// object or as a JSON-encoded string.
type graphqlRequest struct {
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables"`
	OperationName string          `json:"operationName"`
}

// variables decodes the variables member.  Absent, null, and "" mean none.
func (b *graphqlRequest) variables() (map[string]any, error) {
	raw := bytes.TrimSpace(b.Variables)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var enc string
		if err := json.Unmarshal(raw, &enc); err != nil {
			return nil, err
		}
		if strings.TrimSpace(enc) == "" {
			return nil, nil
		}
		raw = []byte(enc)
	}
	var vars map[string]any
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// handleGraphQL authenticates the caller and runs the query against the
// tenant handle.  Execution uses a context detached from the request:
// a client that hangs up does not abort storage work, it only loses the
// response.
func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	conn := tenant.ConnFrom(r.Context())

	var body graphqlRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err := dec.Decode(&body); err != nil || strings.TrimSpace(body.Query) == "" {
		writeBadRequest(w, missingQueryMessage)
		return
	}

	vars, err := body.variables()
	if err != nil {
		writeBadRequest(w, invalidVariablesMessage)
		return
	}

	id := s.opts.Auth.FromRequest(conn.Record(), r)

	res := s.opts.Engine.Execute(context.WithoutCancel(r.Context()), graphql.Params{
		Handle:        conn.Handle(),
		Identity:      id,
		Query:         body.Query,
		Variables:     vars,
		OperationName: body.OperationName,
	})
	if r.Context().Err() != nil {
		return
	}
	writeJSON(w, http.StatusOK, res)
}
