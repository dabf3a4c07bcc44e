package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// PlanPolicy is one plan's retention schedule. Ages are measured from a run's
// last activity. A zero threshold disables that transition for the plan.
type PlanPolicy struct {
	// CoolAfterDays moves turn blobs to the infrequent-access tier.
	CoolAfterDays int `json:"coolAfterDays"`

	// ArchiveAfterDays moves blobs to the archive tier and marks the run
	// archived.
	ArchiveAfterDays int `json:"archiveAfterDays"`

	// DeleteAfterDays removes the run's rows and blobs entirely.
	DeleteAfterDays int `json:"deleteAfterDays"`
}

// CoolAfter returns the cool threshold as a duration; zero if disabled.
func (p PlanPolicy) CoolAfter() time.Duration {
	return time.Duration(p.CoolAfterDays) * 24 * time.Hour
}

// ArchiveAfter returns the archive threshold as a duration; zero if disabled.
func (p PlanPolicy) ArchiveAfter() time.Duration {
	return time.Duration(p.ArchiveAfterDays) * 24 * time.Hour
}

// DeleteAfter returns the delete threshold as a duration; zero if disabled.
func (p PlanPolicy) DeleteAfter() time.Duration {
	return time.Duration(p.DeleteAfterDays) * 24 * time.Hour
}

// PlanPolicies maps plan names to retention policies. The "default" entry
// covers tenants whose plan has no explicit policy.
type PlanPolicies map[string]PlanPolicy

// defaultPlanKey is the fallback entry consulted for unknown plans.
const defaultPlanKey = "default"

// DefaultPlanPolicies returns the built-in schedules used when no SSM
// parameter overrides them.
func DefaultPlanPolicies() PlanPolicies {
	return PlanPolicies{
		defaultPlanKey: {CoolAfterDays: 30, ArchiveAfterDays: 90, DeleteAfterDays: 365},
		"free":         {CoolAfterDays: 7, ArchiveAfterDays: 30, DeleteAfterDays: 90},
		"enterprise":   {CoolAfterDays: 90, ArchiveAfterDays: 365, DeleteAfterDays: 0},
	}
}

// For returns the policy for a plan, falling back to the default entry.
func (p PlanPolicies) For(plan string) PlanPolicy {
	if policy, ok := p[plan]; ok {
		return policy
	}
	return p[defaultPlanKey]
}

// ParsePlanPolicies decodes the plan-policy JSON document. The document must
// contain a "default" entry.
func ParsePlanPolicies(data []byte) (PlanPolicies, error) {
	var policies PlanPolicies
	if err := json.Unmarshal(data, &policies); err != nil {
		return nil, fmt.Errorf("parse plan policies: %w", err)
	}
	if _, ok := policies[defaultPlanKey]; !ok {
		return nil, fmt.Errorf("plan policies missing %q entry", defaultPlanKey)
	}
	return policies, nil
}
