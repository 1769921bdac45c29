// internal/config/validator.go
//
// Thin wrapper around go-playground/validator plus descriptor parsing.
//
// Context
// -------
// `internal/config/loader.go` calls `validate` immediately after it
// unmarshals the merged Koanf tree into a `Config` instance.  Two passes
// run in order:
//
//  1. Struct tags (`required`, `hostname_port`, duration bounds, …).
//  2. The storage descriptors, through database.ParseDescriptor and
//     database.ParseDescriptorSet.  A *database.ConfigValidationError
//     names the offending cluster entry.
//
// Any failure aborts startup, ensuring the binary never runs with
// partial, malformed, or missing configuration.
//
// Notes
// -----
//   • Oxford commas, two spaces after periods.
//   • Section dividers use the simple comment style requested.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/yanizio/appgate/internal/database"
)

//
// validator instance (package-level singleton)
//

var v = validator.New()

//
// public API
//

// validate checks struct tags, then parses the storage descriptors into
// c.Database.Admin and c.Database.ClusterSet.
func validate(c *Config) error {
	if err := v.Struct(c); err != nil {
		return err
	}

	adminRaw, err := descriptorJSON(c.Database.AdminDatabaseSettings)
	if err != nil {
		return fmt.Errorf("database.admin_database_settings: %w", err)
	}
	admin, err := database.ParseDescriptor(database.AdminDescriptorName, adminRaw)
	if err != nil {
		return fmt.Errorf("database.admin_database_settings: %w", err)
	}

	clustersRaw, err := descriptorJSON(c.Database.Clusters)
	if err != nil {
		return fmt.Errorf("database.clusters: %w", err)
	}
	clusters, err := database.ParseDescriptorSet(clustersRaw)
	if err != nil {
		return fmt.Errorf("database.clusters: %w", err)
	}

	c.Database.Admin = admin
	c.Database.ClusterSet = clusters
	return nil
}

// descriptorJSON accepts a JSON string or an already-decoded YAML tree.
func descriptorJSON(raw any) ([]byte, error) {
	switch t := raw.(type) {
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	default:
		return json.Marshal(t)
	}
}
