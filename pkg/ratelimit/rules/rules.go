// Package rules evaluates ordered lists of named, prioritized limits.
package rules

import (
	"context"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/common/validation"
	"github.com/vnykmshr/goquota/pkg/ratelimit/keys"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// Metadata keys set on rule results.
const (
	MetaRuleKey        = "ruleKey"
	MetaRulesEvaluated = "rulesEvaluated"
)

// Evaluator runs one algorithm against one key.
type Evaluator interface {
	Evaluate(ctx context.Context, key string, p model.Params, n int64) (model.Result, error)
}

// Engine evaluates rule lists. It keeps no state between calls.
type Engine struct {
	eval Evaluator
}

// New returns an Engine that evaluates rules with eval.
func New(eval Evaluator) *Engine {
	return &Engine{eval: eval}
}

// Validate checks key, n and every rule, enabled or not, without touching the
// store.
func Validate(key string, rules []model.Rule, n int64) error {
	if err := keys.ValidateKey(key); err != nil {
		return err
	}
	if err := validation.ValidatePositive("rules", "requestCount", n); err != nil {
		return err
	}
	if err := model.ValidateRules(rules); err != nil {
		return err
	}
	for _, r := range rules {
		if err := keys.ValidateKey(keys.RuleKey(key, r.Name)); err != nil {
			return gqerrors.NewValidationError("rules", "name", r.Name, "cannot be used in a storage key").
				WithHint("rule names must not contain '{' or '}'")
		}
	}
	return nil
}

// Evaluate checks the enabled rules in ascending priority order, each under
// its own derived key (key + ":" + rule name), and stops at the first
// rejection. The returned rejection names the violated rule. When no rule
// rejects, the allowed unlimited sentinel is returned.
//
// Rules are validated before any rule is evaluated, so a malformed rule
// anywhere in the list costs no store round trip.
func (e *Engine) Evaluate(ctx context.Context, key string, rules []model.Rule, n int64) (model.Result, error) {
	if err := Validate(key, rules, n); err != nil {
		return model.Result{}, err
	}

	active := model.ActiveRules(rules)
	for _, r := range active {
		ruleKey := keys.RuleKey(key, r.Name)
		res, err := e.eval.Evaluate(ctx, ruleKey, r.Params, n)
		if err != nil {
			return model.Result{}, err
		}
		if !res.Allowed {
			return Violation(key, r, ruleKey, res), nil
		}
	}

	res := model.Unlimited(key, n)
	res.Metadata[MetaRulesEvaluated] = len(active)
	return res, nil
}

// Violation tags res as a rejection by rule r.
func Violation(key string, r model.Rule, ruleKey string, res model.Result) model.Result {
	out := res.WithMetadata(model.MetaRule, r.Name)
	out.Metadata[MetaRuleKey] = ruleKey
	out.Key = key
	out.Reason = "rule " + r.Name + ": " + res.Reason
	return out
}
