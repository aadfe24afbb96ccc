// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Snapshot is a legacy-format export file: one section of generic records
// per plugin. Import steps read only their own section.
type Snapshot struct {
	Version  int                         `json:"version" yaml:"version"`
	GuildID  string                      `json:"guild_id" yaml:"guild_id"`
	Exported string                      `json:"exported,omitempty" yaml:"exported,omitempty"`
	Sections map[string][]map[string]any `json:"sections" yaml:"sections"`
}

// Section returns the records exported for one plugin. Missing sections
// return nil; import steps treat that as zero records, not an error.
func (s *Snapshot) Section(plugin string) []map[string]any {
	if s == nil {
		return nil
	}
	return s.Sections[plugin]
}

// schemaCache holds the compiled snapshot schema to avoid recompilation.
// Guarded by schemaMu; LoadSnapshot may be called from concurrent steps.
var (
	schemaMu    sync.Mutex
	schemaCache *jschema.Schema
)

// SnapshotSchemaID is the schema $id embedded in generated schemas.
const SnapshotSchemaID = "https://castellan.dev/schemas/snapshot.schema.json"

// GenerateSnapshotSchema generates the JSON Schema external producers
// validate their export files against. Exposed via `castellan gen-schema`.
func GenerateSnapshotSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Snapshot{})
	schema.ID = jsonschema.ID(SnapshotSchemaID)
	schema.Title = "Castellan Migration Snapshot"
	schema.Description = "Schema for legacy-format export files consumed by castellan migrate import"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// LoadSnapshot reads and validates a snapshot file. JSON and YAML are
// both accepted, decided by extension.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied CLI input
	if err != nil {
		return nil, oops.Code(CodeBadSnapshot).With("path", path).Wrap(err)
	}

	var raw any
	yamlFormat := false
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		yamlFormat = true
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, oops.Code(CodeBadSnapshot).With("path", path).Wrap(err)
		}
		raw = convertToJSONTypes(raw)
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, oops.Code(CodeBadSnapshot).With("path", path).Wrap(err)
		}
	}

	sch, err := compiledSnapshotSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(raw); err != nil {
		return nil, oops.Code(CodeBadSnapshot).
			With("path", path).
			Wrapf(err, "snapshot failed schema validation")
	}

	var snap Snapshot
	if yamlFormat {
		err = yaml.Unmarshal(data, &snap)
	} else {
		err = json.Unmarshal(data, &snap)
	}
	if err != nil {
		return nil, oops.Code(CodeBadSnapshot).With("path", path).Wrap(err)
	}
	return &snap, nil
}

// compiledSnapshotSchema returns the cached compiled schema or compiles it.
func compiledSnapshotSchema() (*jschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if schemaCache != nil {
		return schemaCache, nil
	}

	schemaBytes, err := GenerateSnapshotSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("snapshot.schema.json", schemaData); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := c.Compile("snapshot.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	schemaCache = sch
	return sch, nil
}

// convertToJSONTypes converts YAML-parsed data to JSON-compatible types
// so the schema validator sees the same shapes as for JSON input.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = convertToJSONTypes(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = convertToJSONTypes(v)
		}
		return result
	case string, int, int64, float64, bool, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var result any
			if err := json.Unmarshal(b, &result); err == nil {
				return result
			}
		}
		return val
	}
}

// ResetSchemaCache clears the cached schema. Used for testing.
func ResetSchemaCache() {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	schemaCache = nil
}
