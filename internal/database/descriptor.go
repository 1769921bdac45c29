// internal/database/descriptor.go
//
// Storage backend descriptors and descriptor-set validation.
//
// Context
// -------
// Every storage engine is selected by a small JSON object carrying a
// non-empty string `type` tag plus a backend-specific payload:
//
//	{"type": "MongoDB",    "connectionString": "mongodb://localhost/"}
//	{"type": "MySQL",      "host": "db1", "port": 3306, "user": "gw"}
//	{"type": "PostgreSQL", "host": "db2", "port": 5432, "user": "gw"}
//	{"type": "Redis",      "host": "cache", "port": 6379}
//
// The admin database uses exactly one descriptor; tenant databases pick
// one from a named set ("clusters").  Both are validated once at start-up
// and any violation aborts the whole load.  Unknown tags pass validation
// and fail lazily in Registry.AdapterFor, so a cluster for a backend that
// is not compiled in never blocks unrelated tenants.
//
// Notes
// -----
//   - The payload is kept as raw JSON; each adapter decodes its own shape
//     with Descriptor.Decode.
//   - Oxford commas, two spaces after periods.
package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Backend type tags understood by the bundled adapters.
const (
	TypeMongoDB    = "MongoDB"
	TypeMySQL      = "MySQL"
	TypePostgreSQL = "PostgreSQL"
	TypeRedis      = "Redis"
	TypeMemory     = "Memory"
)

// AdminDescriptorName is the Name given to the admin database descriptor.
const AdminDescriptorName = "admin"

// Descriptor selects and parameterises one storage engine.
type Descriptor struct {
	Name string          // key in the cluster set, or AdminDescriptorName
	Type string          // backend tag, never empty after parsing
	Raw  json.RawMessage // full JSON object, including "type"
}

// Decode unmarshals the descriptor payload into v.
func (d Descriptor) Decode(v any) error {
	if len(d.Raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(d.Raw, v); err != nil {
		return fmt.Errorf("decode %s descriptor %q: %w", d.Type, d.Name, err)
	}
	return nil
}

// DescriptorSet maps cluster name to descriptor.
type DescriptorSet map[string]Descriptor

// Names returns the cluster names in sorted order.
func (s DescriptorSet) Names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the named cluster.
func (s DescriptorSet) Lookup(name string) (Descriptor, bool) {
	d, ok := s[name]
	return d, ok
}

// Default picks the cluster used by tenants that do not name one.  A
// cluster whose key matches defaultType (case-insensitive) wins;
// otherwise the first cluster, by name, whose type matches.
func (s DescriptorSet) Default(defaultType string) (Descriptor, bool) {
	names := s.Names()
	for _, n := range names {
		if strings.EqualFold(n, defaultType) {
			return s[n], true
		}
	}
	for _, n := range names {
		if strings.EqualFold(s[n].Type, defaultType) {
			return s[n], true
		}
	}
	return Descriptor{}, false
}

/*──────────────────────────── parsing ─────────────────────────────────────*/

// ParseDescriptor validates a single descriptor object.
func ParseDescriptor(name string, raw []byte) (Descriptor, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Descriptor{}, &ConfigValidationError{Entry: name, Reason: "descriptor is empty"}
	}
	return parseEntry(name, raw)
}

// ParseDescriptorSet validates a JSON object of name → descriptor.  The
// first violation, in name order, fails the whole set.
func ParseDescriptorSet(raw []byte) (DescriptorSet, error) {
	var shape any
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, &ConfigValidationError{Reason: "must be a plain JSON object: " + err.Error()}
	}
	if _, ok := shape.(map[string]any); !ok {
		return nil, &ConfigValidationError{Reason: "must be a plain JSON object"}
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &ConfigValidationError{Reason: err.Error()}
	}

	names := make([]string, 0, len(entries))
	for k := range entries {
		names = append(names, k)
	}
	sort.Strings(names)

	set := make(DescriptorSet, len(entries))
	for _, n := range names {
		d, err := parseEntry(n, entries[n])
		if err != nil {
			return nil, err
		}
		set[n] = d
	}
	return set, nil
}

func parseEntry(name string, raw []byte) (Descriptor, error) {
	var obj any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Descriptor{}, &ConfigValidationError{Entry: name, Reason: "invalid JSON: " + err.Error()}
	}
	m, ok := obj.(map[string]any)
	if !ok {
		return Descriptor{}, &ConfigValidationError{Entry: name, Reason: "each config must be an object"}
	}
	tag, ok := m["type"].(string)
	if !ok || strings.TrimSpace(tag) == "" {
		return Descriptor{}, &ConfigValidationError{Entry: name, Reason: "each config must define a non-empty string property `type`"}
	}
	return Descriptor{Name: name, Type: tag, Raw: append(json.RawMessage(nil), raw...)}, nil
}
