package config

import (
	"fmt"
	"os"

	"github.com/econeura/usage-guardian/pkg/model"
	"gopkg.in/yaml.v3"
)

// PolicyEntry seeds one tenant's policy. Exactly one of Policy or Budget is set.
type PolicyEntry struct {
	Tenant string                 `yaml:"tenant"`
	Policy *model.ThresholdPolicy `yaml:"policy"`
	Budget *model.BudgetConfig    `yaml:"budget"`
}

// PoliciesFile is the on-disk list of per-tenant policies.
type PoliciesFile struct {
	Tenants []PolicyEntry `yaml:"tenants"`
}

// LoadPolicies reads and validates a policies file.
func LoadPolicies(path string) (map[string]model.ThresholdPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policies file %s: %w", path, err)
	}
	policies, err := ParsePolicies(data)
	if err != nil {
		return nil, fmt.Errorf("policies file %s: %w", path, err)
	}
	return policies, nil
}

// ParsePolicies decodes policies YAML keyed by tenant.
func ParsePolicies(data []byte) (map[string]model.ThresholdPolicy, error) {
	var file PoliciesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policies: %w", err)
	}

	out := make(map[string]model.ThresholdPolicy, len(file.Tenants))
	for i, e := range file.Tenants {
		if e.Tenant == "" {
			return nil, fmt.Errorf("entry %d: %w", i, model.ErrTenantRequired)
		}
		if _, dup := out[e.Tenant]; dup {
			return nil, fmt.Errorf("tenant %q listed twice", e.Tenant)
		}

		var p model.ThresholdPolicy
		switch {
		case e.Policy != nil && e.Budget != nil:
			return nil, fmt.Errorf("tenant %q: set either policy or budget, not both", e.Tenant)
		case e.Policy != nil:
			p = *e.Policy
		case e.Budget != nil:
			p = e.Budget.Policy()
		default:
			return nil, fmt.Errorf("tenant %q: no policy or budget", e.Tenant)
		}

		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("tenant %q: %w", e.Tenant, err)
		}
		out[e.Tenant] = p
	}
	return out, nil
}
