package gateway

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON shape of every non-GraphQL failure.
type errorBody struct {
	StatusCode int             `json:"statusCode"`
	Error      string          `json:"error"`
	Message    string          `json:"message,omitempty"`
	Validation *validationInfo `json:"validation,omitempty"`
}

type validationInfo struct {
	Keys   []string `json:"keys"`
	Source string   `json:"source"`
}

// missingQueryMessage is the 400 text for a /graphql body without a query.
const missingQueryMessage = "Missing `query` in POST body."

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeStatus writes {"statusCode":N,"error":"<status text>"}.
func writeStatus(w http.ResponseWriter, status int) {
	writeJSON(w, status, errorBody{StatusCode: status, Error: http.StatusText(status)})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		StatusCode: http.StatusBadRequest,
		Error:      http.StatusText(http.StatusBadRequest),
		Message:    message,
		Validation: &validationInfo{Keys: []string{}, Source: "payload"},
	})
}
