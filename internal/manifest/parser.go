package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/recinq/quill/internal/value"
)

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind", "metadata"],
  "properties": {
    "apiVersion": {"type": "string"},
    "kind": {"const": "QuillWorkspace"},
    "metadata": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "org": {"type": "string"},
        "workspace": {"type": "string"}
      }
    },
    "runbooks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "location"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "location": {"type": "string", "minLength": 1},
          "description": {"type": "string"}
        }
      }
    },
    "environments": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {"type": "string"}
      }
    },
    "runtime": {
      "type": "object",
      "properties": {
        "network_id": {"type": "string"},
        "chain_id": {"type": "integer", "minimum": 0},
        "state_path": {"type": "string"},
        "unsupervised": {"type": "boolean"}
      }
    }
  }
}`

type ManifestLoader interface {
	Load(path string) (*Manifest, error)
}

type YAMLManifestLoader struct{}

func (l *YAMLManifestLoader) Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	m, err := l.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	m.path = path
	return m, nil
}

func (l *YAMLManifestLoader) Unmarshal(data []byte) (*Manifest, error) {
	if err := validateAgainstSchema(data); err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if m.Kind == "" {
		m.Kind = "QuillWorkspace"
	}
	return &m, nil
}

// validateAgainstSchema checks the raw document before decoding so the
// error names the offending field rather than a Go type mismatch.
func validateAgainstSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	doc = normalizeYAML(doc)

	compiler := jsonschema.NewCompiler()
	var schemaDoc any
	if err := json.Unmarshal([]byte(manifestSchema), &schemaDoc); err != nil {
		return fmt.Errorf("invalid embedded manifest schema: %w", err)
	}
	if err := compiler.AddResource("manifest.schema.json", schemaDoc); err != nil {
		return fmt.Errorf("failed to add manifest schema: %w", err)
	}
	schema, err := compiler.Compile("manifest.schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("manifest does not match schema: %w", err)
	}
	return nil
}

// normalizeYAML converts yaml.v3 map[string]any trees into the shapes the
// schema validator expects (yaml already decodes to string keys for maps).
func normalizeYAML(doc any) any {
	switch t := doc.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = normalizeYAML(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = normalizeYAML(v)
		}
		return out
	default:
		return doc
	}
}

// ResolveInputs applies the input source precedence for one environment:
// CLI --input pairs override environment-scoped values, which override the
// global scope. Values parse as integers or booleans when they look like
// them, strings otherwise.
func (m *Manifest) ResolveInputs(environment string, cliInputs []string) (map[string]*value.Value, error) {
	out := make(map[string]*value.Value)

	for name, raw := range m.Environments[GlobalEnvironment] {
		out[name] = parseInputValue(raw)
	}
	if environment != "" && environment != GlobalEnvironment {
		scoped, ok := m.Environments[environment]
		if !ok && len(m.Environments) > 0 {
			return nil, fmt.Errorf("environment %q is not defined in the manifest", environment)
		}
		for name, raw := range scoped {
			out[name] = parseInputValue(raw)
		}
	}
	for _, pair := range cliInputs {
		name, raw, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid --input %q, expected NAME=value", pair)
		}
		out[name] = parseInputValue(raw)
	}
	return out, nil
}

func parseInputValue(raw string) *value.Value {
	switch raw {
	case "true":
		return value.Bool(true)
	case "false":
		return value.Bool(false)
	}
	if i, ok := parseInt(raw); ok {
		return value.Integer(i)
	}
	return value.String(raw)
}

func parseInt(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	neg := false
	start := 0
	if raw[0] == '-' {
		neg = true
		start = 1
		if len(raw) == 1 {
			return 0, false
		}
	}
	var out int64
	for _, c := range raw[start:] {
		if c < '0' || c > '9' {
			return 0, false
		}
		out = out*10 + int64(c-'0')
	}
	if neg {
		out = -out
	}
	return out, true
}
