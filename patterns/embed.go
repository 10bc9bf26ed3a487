// Package patterns provides embedded default rule definitions.
// YAML files in this directory use the shared rule-file format consumed by
// the planner (phrase and template rules) and the redactor (regex rules),
// so operators can ship overrides without recompiling.
package patterns

import _ "embed"

//go:embed pii.yaml
var piiYAML []byte

//go:embed injection.yaml
var injectionYAML []byte

//go:embed leakage.yaml
var leakageYAML []byte

//go:embed crosstenant.yaml
var crossTenantYAML []byte

// PIIYAML returns the embedded default PII redaction rules.
func PIIYAML() []byte { return piiYAML }

// InjectionYAML returns the embedded default injection phrase rules.
func InjectionYAML() []byte { return injectionYAML }

// LeakageYAML returns the embedded default PII-leakage phrase rules.
func LeakageYAML() []byte { return leakageYAML }

// CrossTenantYAML returns the embedded default cross-tenant template rules.
func CrossTenantYAML() []byte { return crossTenantYAML }
