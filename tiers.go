package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

// DefaultTier is assigned when no rule matches
const DefaultTier = "free"

// TierRule maps membership tags to a tier
type TierRule struct {
	Tier      string   `mapstructure:"tier" json:"tier" yaml:"tier"`
	Tags      []string `mapstructure:"tags" json:"tags" yaml:"tags"`
	Level     int      `mapstructure:"level" json:"level,omitempty" yaml:"level"`
	TrialDays int      `mapstructure:"trial_days" json:"trial_days,omitempty" yaml:"trial_days"`
	Courses   []string `mapstructure:"courses" json:"courses,omitempty" yaml:"courses"`
}

// Validate implements validation.Validatable
func (r TierRule) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Tier, validation.Required),
		validation.Field(&r.Tags, validation.Required),
		validation.Field(&r.TrialDays, validation.Min(0)),
	)
}

// TierRules is an ordered tier table. The first rule with a matching tag wins.
type TierRules struct {
	Rules   []TierRule `mapstructure:"rules" json:"rules" yaml:"rules"`
	Default string     `mapstructure:"default" json:"default" yaml:"default"`
}

// Validate implements validation.Validatable
func (t TierRules) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Rules),
	)
}

// DefaultTierRules returns the built in membership table
func DefaultTierRules() TierRules {
	return TierRules{
		Default: DefaultTier,
		Rules: []TierRule{
			{Tier: "premium", Tags: []string{"premium", "premium_member"}, Level: 10},
			{Tier: "church_large", Tags: []string{"church_leader_large_v3"}, Level: 6, TrialDays: 30},
			{Tier: "church_medium", Tags: []string{"church_leader_medium_v3"}, Level: 5, TrialDays: 30},
			{Tier: "church_small", Tags: []string{"church_leader_small_v3"}, Level: 4, TrialDays: 30},
			{Tier: "advanced_business", Tags: []string{"advanced_business_v3"}, Level: 3, TrialDays: 7},
			{Tier: "startup_business", Tags: []string{"startup_business_v3"}, Level: 2, TrialDays: 7},
			{Tier: "impact_member", Tags: []string{"impact_member_v3"}, Level: 1},
			{Tier: "trial", Tags: []string{"trial", "free_trial"}, TrialDays: 7},
		},
	}
}

// Detect returns the tier for an event's tags. It depends only on the table
// and the set of tags, never on their order.
func (t TierRules) Detect(tags []string) string {
	if len(tags) > 0 {
		set := make(map[string]struct{}, len(tags))
		for _, tag := range tags {
			if key := normalizeTag(tag); key != "" {
				set[key] = struct{}{}
			}
		}

		for _, rule := range t.Rules {
			for _, tag := range rule.Tags {
				if _, ok := set[normalizeTag(tag)]; ok {
					return rule.Tier
				}
			}
		}
	}

	return t.DefaultTier()
}

// DefaultTier returns the tier used when nothing matches
func (t TierRules) DefaultTier() string {
	if t.Default == "" {
		return DefaultTier
	}
	return t.Default
}

// Lookup returns the rule for tier
func (t TierRules) Lookup(tier string) (TierRule, bool) {
	for _, rule := range t.Rules {
		if strings.EqualFold(rule.Tier, tier) {
			return rule, true
		}
	}
	return TierRule{}, false
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
