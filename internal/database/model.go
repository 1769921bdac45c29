package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Credential is the per-provider entry stored on a User.
type Credential struct {
	ID          string `json:"id"                    bson:"id"`
	DisplayName string `json:"displayName,omitempty" bson:"displayName,omitempty"`
	Email       string `json:"email,omitempty"       bson:"email,omitempty"`
	AccessToken string `json:"accessToken,omitempty" bson:"accessToken,omitempty"`
	Profile     Profile `json:"profile,omitempty"     bson:"profile,omitempty"`
}

// Profile is the provider's user document as received at login.  SQL
// backends store it as a JSON column.
type Profile map[string]any

// Value implements driver.Valuer.  An empty profile is NULL.
func (p Profile) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Profile) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("profile: unsupported column type %T", src)
	}
	if len(raw) == 0 {
		*p = nil
		return nil
	}
	return json.Unmarshal(raw, (*map[string]any)(p))
}

// User is a tenant-scoped account.  Credentials is keyed by provider name.
type User struct {
	ID          string                `json:"id"          bson:"_id"`
	Credentials map[string]Credential `json:"credentials" bson:"credentials"`
	CreatedAt   time.Time             `json:"createdAt"   bson:"createdAt"`
}

// CredentialKey is the storage key for one (provider, external id) pair.
func CredentialKey(provider, externalID string) string {
	return provider + ":" + externalID
}

// CredentialKeys returns the sorted storage keys for every credential.
func (u *User) CredentialKeys() []string {
	keys := make([]string, 0, len(u.Credentials))
	for p, c := range u.Credentials {
		keys = append(keys, CredentialKey(p, c.ID))
	}
	sort.Strings(keys)
	return keys
}
