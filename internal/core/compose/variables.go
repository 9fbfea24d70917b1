package compose

import (
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Variable Placeholders
// =============================================================================

// placeholderRegex matches ${VAR_NAME} or ${VAR_NAME:-default}.
var placeholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExtractVariables returns the unique ${VAR} placeholder names in raw compose
// YAML, in order of first appearance. Extraction runs on the raw text, before
// any interpolation.
func ExtractVariables(yamlContent string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, match := range placeholderRegex.FindAllStringSubmatch(yamlContent, -1) {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}
	return vars
}

// Substitute replaces ${VAR} and ${VAR:-default} placeholders in raw compose
// YAML with values. A placeholder with no value and no default is an error;
// the stack must never start with silently empty configuration.
func Substitute(yamlContent string, values map[string]string) (string, error) {
	var missing []string
	out := placeholderRegex.ReplaceAllStringFunc(yamlContent, func(m string) string {
		parts := placeholderRegex.FindStringSubmatch(m)
		name := parts[1]
		if v, ok := values[name]; ok {
			return v
		}
		if parts[2] != "" { // ":-default" present
			return parts[3]
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 {
		return "", NewParseError("", fmt.Sprintf("undefined variables: %s", strings.Join(missing, ", ")), ErrMissingVariable)
	}
	return out, nil
}

// SubstituteValue replaces placeholders in a single value, leaving unknown
// placeholders untouched. Used for container environment values, where
// unresolved placeholders pass through to the container.
func SubstituteValue(value string, values map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(value, func(m string) string {
		parts := placeholderRegex.FindStringSubmatch(m)
		if v, ok := values[parts[1]]; ok {
			return v
		}
		if parts[2] != "" {
			return parts[3]
		}
		return m
	})
}
