// Package resolver turns a draw application into the constraint set an
// execution runs against.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"expertdraw/internal/domain"
)

// RuleStore is the rule collaborator. Lookups of a missing rule return an
// error wrapping domain.ErrRuleNotFound.
type RuleStore interface {
	GetRule(ctx context.Context, id string) (domain.Rule, error)
	FindActiveRule(ctx context.Context, category, subcategory string) (domain.Rule, error)
}

// Options tune resolution.
type Options struct {
	// AutoRule looks up an active rule by category when the draw names none.
	AutoRule      bool
	DefaultMethod string
}

// Resolve merges the draw's ad-hoc fields with its rule. Rule fields win
// wherever the rule sets them.
func Resolve(ctx context.Context, store RuleStore, draw domain.DrawApplication, opts Options) (domain.Constraints, error) {
	var (
		rule    domain.Rule
		hasRule bool
	)
	if draw.RuleID != nil && strings.TrimSpace(*draw.RuleID) != "" {
		r, err := store.GetRule(ctx, *draw.RuleID)
		if err != nil {
			return domain.Constraints{}, err
		}
		rule, hasRule = r, true
	} else if opts.AutoRule && draw.Category != "" {
		r, err := lookupActive(ctx, store, draw.Category, draw.Subcategory)
		if err != nil {
			return domain.Constraints{}, err
		}
		rule, hasRule = r, r.ID != ""
	}

	c := domain.Constraints{
		Category:     draw.Category,
		Subcategory:  draw.Subcategory,
		Specialty:    draw.Specialty,
		Titles:       clean(draw.Titles),
		Regions:      clean(draw.Regions),
		Specialties:  clean(draw.Specialties),
		Method:       domain.NormalizeMethod(draw.DrawMethod),
	}
	// review-location avoidance is a rule feature, on unless the rule says otherwise
	c.AvoidEnabled = hasRule
	if draw.AvoidEnabled != nil {
		c.AvoidEnabled = *draw.AvoidEnabled
	}
	if hasRule {
		c.RuleID = rule.ID
		c.RuleName = rule.Name
		c.Category = pick(rule.Category, c.Category)
		c.Subcategory = pick(rule.Subcategory, c.Subcategory)
		c.Specialty = pick(rule.Specialty, c.Specialty)
		if len(rule.Titles) > 0 {
			c.Titles = clean(rule.Titles)
		}
		if len(rule.Regions) > 0 {
			c.Regions = clean(rule.Regions)
		}
		if len(rule.Specialties) > 0 {
			c.Specialties = clean(rule.Specialties)
		}
		if rule.AvoidEnabled != nil {
			c.AvoidEnabled = *rule.AvoidEnabled
		}
		if m := domain.NormalizeMethod(rule.DrawMethod); m != "" {
			c.Method = m
		}
	}
	if c.Method == "" {
		c.Method = domain.NormalizeMethod(opts.DefaultMethod)
	}
	if c.Method == "" {
		c.Method = domain.MethodRandom
	}
	if !domain.ValidMethod(c.Method) {
		return domain.Constraints{}, fmt.Errorf("invalid draw method %q", c.Method)
	}
	return c, nil
}

func lookupActive(ctx context.Context, store RuleStore, category, subcategory string) (domain.Rule, error) {
	if subcategory != "" {
		r, err := store.FindActiveRule(ctx, category, subcategory)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, domain.ErrRuleNotFound) {
			return domain.Rule{}, err
		}
	}
	r, err := store.FindActiveRule(ctx, category, "")
	if errors.Is(err, domain.ErrRuleNotFound) {
		return domain.Rule{}, nil
	}
	return r, err
}

func pick(ruleValue, drawValue string) string {
	if strings.TrimSpace(ruleValue) != "" {
		return strings.TrimSpace(ruleValue)
	}
	return drawValue
}

func clean(in []string) []string {
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
