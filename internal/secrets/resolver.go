package secrets

import (
	"fmt"
	"os"
	"strings"
)

const (
	secretRefPrefix = "$SECRET:"
	envRefPrefix    = "$ENV:"
)

// Resolver resolves $SECRET:name and $ENV:NAME references in configuration
// values, typically provider API keys. A nil keyring still resolves $ENV:
// references and plain values.
type Resolver struct {
	keyring *Keyring
}

// NewResolver creates a resolver backed by an optional keyring.
func NewResolver(keyring *Keyring) *Resolver {
	return &Resolver{keyring: keyring}
}

// ResolveValue resolves one value. Plain values pass through unchanged.
func (r *Resolver) ResolveValue(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, secretRefPrefix):
		name := strings.TrimPrefix(value, secretRefPrefix)
		if name == "" {
			return "", fmt.Errorf("empty secret name in reference")
		}
		if r.keyring == nil {
			return "", fmt.Errorf("secret reference %q without a keyring", name)
		}
		plaintext, err := r.keyring.Get(name)
		if err != nil {
			return "", fmt.Errorf("resolve secret %q: %w", name, err)
		}
		return string(plaintext), nil

	case strings.HasPrefix(value, envRefPrefix):
		name := strings.TrimPrefix(value, envRefPrefix)
		if name == "" {
			return "", fmt.Errorf("empty variable name in reference")
		}
		v, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("environment variable %q not set", name)
		}
		return v, nil

	default:
		return value, nil
	}
}

// ResolveMap resolves every value of a map, returning a new map.
func (r *Resolver) ResolveMap(in map[string]string) (map[string]string, error) {
	if len(in) == 0 {
		return in, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		resolved, err := r.ResolveValue(v)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// IsSecretRef reports whether a value is a keyring reference.
func IsSecretRef(value string) bool {
	return strings.HasPrefix(value, secretRefPrefix)
}
