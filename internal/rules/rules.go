// Package rules defines the shared rule-file format consumed by the query
// planner and the PII redactor.
//
// A rule file is YAML with a top-level "rules" list. Each rule carries a kind:
//
//	phrase   — literal substrings matched case-insensitively
//	template — phrases with a {tenant} placeholder expanded per tenant
//	regex    — compiled regular expressions
//
// Files are validated against a JSON schema before use so an operator typo
// fails at startup, not at match time. Embedded defaults ship with the binary;
// an optional override file merges on top by rule name.
package rules

import (
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Rule kinds.
const (
	KindPhrase   = "phrase"
	KindTemplate = "template"
	KindRegex    = "regex"
)

// TenantPlaceholder is expanded in template rules with each tenant ID.
const TenantPlaceholder = "{tenant}"

// Rule is a single named detection rule.
type Rule struct {
	Name        string   `yaml:"name" json:"name"`
	Kind        string   `yaml:"kind" json:"kind"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Patterns    []string `yaml:"patterns" json:"patterns"`
}

// File is the top-level structure of a rule file.
type File struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// schema validates the structural shape of a rule file. Regex compilability
// is checked separately by the consumer that compiles the rules.
const schema = `{
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "kind", "patterns"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "kind": {"enum": ["phrase", "template", "regex"]},
          "description": {"type": "string"},
          "patterns": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(schema)

// Parse parses and validates rule-file YAML bytes.
func Parse(data []byte) (*File, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parsing rule YAML: %w", err)
	}

	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewGoLoader(generic))
	if err != nil {
		return nil, fmt.Errorf("validating rule file: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid rule file: %s", result.Errors()[0].String())
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rule YAML: %w", err)
	}
	return &f, nil
}

// MustParse is like Parse but panics on error. Used for the embedded defaults,
// which are expected to always validate.
func MustParse(data []byte) *File {
	f, err := Parse(data)
	if err != nil {
		panic(fmt.Sprintf("rules.Parse: %v", err))
	}
	return f
}

// LoadFile reads and parses a rule file from disk. Returns nil (not an error)
// if the file does not exist, so callers can treat a missing override as a no-op.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading rule file %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return f, nil
}

// Merge layers rule lists. Later layers override earlier ones by rule name;
// new rules are appended in encounter order.
func Merge(layers ...[]Rule) []Rule {
	index := make(map[string]int)
	var merged []Rule

	for _, layer := range layers {
		for _, r := range layer {
			if idx, exists := index[r.Name]; exists {
				merged[idx] = r
			} else {
				index[r.Name] = len(merged)
				merged = append(merged, r)
			}
		}
	}

	return merged
}
