package rules

import (
	"fmt"
	"strings"
)

// RequiresValuePolicy decides the default RequiresValue of a concept before
// overrides are applied.
type RequiresValuePolicy string

const (
	// PolicyOverride: every concept requires a value unless exempted.
	PolicyOverride RequiresValuePolicy = "override"
	// PolicyClusterTitle: numeric concepts and concepts whose cluster title
	// mentions "string" require a value.
	PolicyClusterTitle RequiresValuePolicy = "cluster_title"
)

// ParsePolicy maps a configuration value to a policy. Empty means override.
func ParsePolicy(s string) (RequiresValuePolicy, error) {
	switch RequiresValuePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyOverride:
		return PolicyOverride, nil
	case PolicyClusterTitle:
		return PolicyClusterTitle, nil
	default:
		return "", fmt.Errorf("rules: unknown requires-value policy %q", s)
	}
}

// requiresValue applies the policy and then the override list, which always
// wins.
func (p RequiresValuePolicy) requiresValue(conceptID, clusterID, clusterTitle string, numeric bool, ov Overrides) bool {
	if ov.Exempt(conceptID, clusterID) {
		return false
	}
	if p == PolicyClusterTitle {
		return numeric || strings.Contains(strings.ToLower(clusterTitle), "string")
	}
	return true
}
