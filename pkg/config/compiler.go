package config

import (
	"fmt"

	"github.com/a-essam23/huddle/pkg/degraded"
)

// CompileFallbackPolicy layers configured entries over the built-in policy.
func CompileFallbackPolicy(cfg FallbackConfig) (degraded.Policy, error) {
	policy := degraded.DefaultPolicy()
	for kind, name := range cfg.Policies {
		fallback, err := degraded.ParseFallback(name)
		if err != nil {
			return nil, fmt.Errorf("fallback policy for '%s': %w", kind, err)
		}
		policy[degraded.ParseKind(kind)] = fallback
	}
	return policy, nil
}
