// Package plans holds the per-tier ceilings that drive rate limiting, quotas,
// batch sizes, credential counts, log retention and feature gating.
package plans

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Tier names a subscription level.
type Tier string

const (
	Starter      Tier = "starter"
	Professional Tier = "professional"
	Enterprise   Tier = "enterprise"
)

// Tiers lists the known tiers from lowest to highest.
var Tiers = []Tier{Starter, Professional, Enterprise}

// ParseTier normalizes s and reports whether it names a known tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case Starter, Professional, Enterprise:
		return t, true
	}
	return "", false
}

// Limits is the set of ceilings for one tier.
type Limits struct {
	RateLimitPerMinute int  `yaml:"rate_limit_per_minute" json:"rateLimitPerMinute"`
	MonthlyQuota       int  `yaml:"monthly_quota" json:"monthlyQuota"`
	BatchCeiling       int  `yaml:"batch_ceiling" json:"batchCeiling"`
	CredentialCeiling  int  `yaml:"credential_ceiling" json:"credentialCeiling"`
	LogRetentionDays   int  `yaml:"log_retention_days" json:"logRetentionDays"`
	Webhooks           bool `yaml:"webhooks" json:"webhooks"`
}

var defaults = map[Tier]Limits{
	Starter: {
		RateLimitPerMinute: 10,
		MonthlyQuota:       1000,
		BatchCeiling:       10,
		CredentialCeiling:  3,
		LogRetentionDays:   7,
		Webhooks:           false,
	},
	Professional: {
		RateLimitPerMinute: 50,
		MonthlyQuota:       10000,
		BatchCeiling:       50,
		CredentialCeiling:  10,
		LogRetentionDays:   30,
		Webhooks:           true,
	},
	Enterprise: {
		RateLimitPerMinute: 200,
		MonthlyQuota:       100000,
		BatchCeiling:       100,
		CredentialCeiling:  25,
		LogRetentionDays:   90,
		Webhooks:           true,
	},
}

// Table is a concurrency-safe lookup of tier limits. The zero value is not
// usable; call NewTable.
type Table struct {
	mu    sync.RWMutex
	tiers map[Tier]Limits
}

// NewTable returns a table seeded with the built-in limits.
func NewTable() *Table {
	t := &Table{tiers: make(map[Tier]Limits, len(defaults))}
	for k, v := range defaults {
		t.tiers[k] = v
	}
	return t
}

// Get returns the limits for tier. Unknown tiers fall back to starter.
func (t *Table) Get(tier Tier) Limits {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if l, ok := t.tiers[tier]; ok {
		return l
	}
	return t.tiers[Starter]
}

// Snapshot returns a copy of every tier's limits.
func (t *Table) Snapshot() map[Tier]Limits {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Tier]Limits, len(t.tiers))
	for k, v := range t.tiers {
		out[k] = v
	}
	return out
}

type limitsOverride struct {
	RateLimitPerMinute *int  `yaml:"rate_limit_per_minute"`
	MonthlyQuota       *int  `yaml:"monthly_quota"`
	BatchCeiling       *int  `yaml:"batch_ceiling"`
	CredentialCeiling  *int  `yaml:"credential_ceiling"`
	LogRetentionDays   *int  `yaml:"log_retention_days"`
	Webhooks           *bool `yaml:"webhooks"`
}

type overrideFile struct {
	Tiers map[string]limitsOverride `yaml:"tiers"`
}

// LoadFile applies the overrides in the YAML file at path on top of the
// built-in limits. The table is left untouched when the file is invalid.
func (t *Table) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plans file: %w", err)
	}
	return t.Apply(data)
}

// Apply parses a YAML override document and swaps it into the table.
func (t *Table) Apply(data []byte) error {
	var doc overrideFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse plans file: %w", err)
	}

	next := make(map[Tier]Limits, len(defaults))
	for k, v := range defaults {
		next[k] = v
	}

	for name, o := range doc.Tiers {
		tier, ok := ParseTier(name)
		if !ok {
			return fmt.Errorf("parse plans file: unknown tier %q", name)
		}
		l := next[tier]
		if err := o.applyTo(&l); err != nil {
			return fmt.Errorf("parse plans file: tier %s: %w", tier, err)
		}
		next[tier] = l
	}

	t.mu.Lock()
	t.tiers = next
	t.mu.Unlock()
	return nil
}

func (o limitsOverride) applyTo(l *Limits) error {
	for _, f := range []struct {
		name string
		src  *int
		dst  *int
	}{
		{"rate_limit_per_minute", o.RateLimitPerMinute, &l.RateLimitPerMinute},
		{"monthly_quota", o.MonthlyQuota, &l.MonthlyQuota},
		{"batch_ceiling", o.BatchCeiling, &l.BatchCeiling},
		{"credential_ceiling", o.CredentialCeiling, &l.CredentialCeiling},
		{"log_retention_days", o.LogRetentionDays, &l.LogRetentionDays},
	} {
		if f.src == nil {
			continue
		}
		if *f.src <= 0 {
			return fmt.Errorf("%s must be positive", f.name)
		}
		*f.dst = *f.src
	}
	if o.Webhooks != nil {
		l.Webhooks = *o.Webhooks
	}
	return nil
}
