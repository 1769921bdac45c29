package graphql

import (
	"encoding/base64"
	"strings"
)

// ToGlobalID encodes a type-qualified opaque id.
func ToGlobalID(typeName, id string) string {
	return base64.StdEncoding.EncodeToString([]byte(typeName + ":" + id))
}

// FromGlobalID decodes id and checks it names typeName.  argName is used
// in the error message.
func FromGlobalID(argName, typeName, id string) (string, error) {
	invalid := UserErrorf("%s: Invalid ID for type %s", argName, typeName)
	raw, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return "", invalid
	}
	t, local, ok := strings.Cut(string(raw), ":")
	if !ok || t != typeName || local == "" {
		return "", invalid
	}
	return local, nil
}
