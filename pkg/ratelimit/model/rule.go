package model

import (
	"sort"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/common/validation"
)

// Rule is one named, prioritized policy. Lower Priority values are
// evaluated first.
type Rule struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
	Params
}

// NewRule returns an enabled rule.
func NewRule(name string, priority int, params Params) Rule {
	return Rule{Name: name, Priority: priority, Enabled: true, Params: params}
}

// Validate checks the rule name and its algorithm parameters.
func (r Rule) Validate() error {
	if err := validation.ValidateNotEmpty("rules", "name", r.Name); err != nil {
		return err
	}
	if err := r.Params.Validate(); err != nil {
		return gqerrors.NewValidationError("rules", r.Name, r.Params.String(), err.Error())
	}
	return nil
}

// ValidateRules checks every rule, enabled or not, and rejects duplicate names.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.Name]; dup {
			return gqerrors.NewValidationError("rules", "name", r.Name, "duplicate rule name").
				WithHint("rule names derive storage keys and must be unique")
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// ActiveRules returns the enabled rules ordered by ascending priority. Rules
// with equal priority keep their input order. The input is not modified.
func ActiveRules(rules []Rule) []Rule {
	active := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})
	return active
}
