package resolver_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"expertdraw/internal/domain"
	"expertdraw/internal/resolver"
)

type fakeRules struct {
	byID    map[string]domain.Rule
	byScope map[string]domain.Rule
	lookups []string
}

func (f *fakeRules) GetRule(_ context.Context, id string) (domain.Rule, error) {
	r, ok := f.byID[id]
	if !ok {
		return domain.Rule{}, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}
	return r, nil
}

func (f *fakeRules) FindActiveRule(_ context.Context, category, subcategory string) (domain.Rule, error) {
	key := category + "/" + subcategory
	f.lookups = append(f.lookups, key)
	r, ok := f.byScope[key]
	if !ok {
		return domain.Rule{}, domain.ErrRuleNotFound
	}
	return r, nil
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestResolveRuleFieldsTakePrecedence(t *testing.T) {
	store := &fakeRules{byID: map[string]domain.Rule{
		"r1": {
			ID:           "r1",
			Name:         "bridge panel",
			Titles:       []string{"senior", " senior "},
			AvoidEnabled: boolPtr(false),
			DrawMethod:   domain.MethodLottery,
		},
	}}
	draw := domain.DrawApplication{
		Category:   "engineering",
		Regions:    []string{"north"},
		Titles:     []string{"junior"},
		DrawMethod: domain.MethodRandom,
		RuleID:     strPtr("r1"),
	}
	c, err := resolver.Resolve(context.Background(), store, draw, resolver.Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.RuleID != "r1" || c.RuleName != "bridge panel" {
		t.Fatalf("rule not captured: %+v", c)
	}
	if !slices.Equal(c.Titles, []string{"senior"}) {
		t.Fatalf("rule titles should win, got %v", c.Titles)
	}
	if !slices.Equal(c.Regions, []string{"north"}) {
		t.Fatalf("draw regions should fill rule gap, got %v", c.Regions)
	}
	if c.Category != "engineering" {
		t.Fatalf("category fallback lost: %q", c.Category)
	}
	if c.AvoidEnabled || c.Method != domain.MethodLottery {
		t.Fatalf("rule avoid/method not applied: %+v", c)
	}
}

func TestResolveMissingRule(t *testing.T) {
	store := &fakeRules{}
	_, err := resolver.Resolve(context.Background(), store, domain.DrawApplication{RuleID: strPtr("nope")}, resolver.Options{})
	if !errors.Is(err, domain.ErrRuleNotFound) {
		t.Fatalf("expected rule not found, got %v", err)
	}
}

func TestResolveAutoRuleFallsBackToCategory(t *testing.T) {
	store := &fakeRules{byScope: map[string]domain.Rule{
		"engineering/": {ID: "cat-rule", Regions: []string{"south"}},
	}}
	draw := domain.DrawApplication{Category: "engineering", Subcategory: "bridges"}
	c, err := resolver.Resolve(context.Background(), store, draw, resolver.Options{AutoRule: true, DefaultMethod: "uniform-random"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !slices.Equal(store.lookups, []string{"engineering/bridges", "engineering/"}) {
		t.Fatalf("unexpected lookup order %v", store.lookups)
	}
	if c.RuleID != "cat-rule" || !slices.Equal(c.Regions, []string{"south"}) {
		t.Fatalf("category rule not applied: %+v", c)
	}
	if c.Method != domain.MethodRandom {
		t.Fatalf("default method alias not normalized: %q", c.Method)
	}
	if !c.AvoidEnabled {
		t.Fatalf("avoidance should default on under a rule")
	}
}

func TestResolveAvoidanceOffWithoutRule(t *testing.T) {
	draw := domain.DrawApplication{Category: "law", ReviewLocation: "harbour office"}
	c, err := resolver.Resolve(context.Background(), &fakeRules{}, draw, resolver.Options{AutoRule: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.AvoidEnabled {
		t.Fatalf("review-location avoidance applied without a rule")
	}
	draw.AvoidEnabled = boolPtr(true)
	if c, _ = resolver.Resolve(context.Background(), &fakeRules{}, draw, resolver.Options{AutoRule: true}); !c.AvoidEnabled {
		t.Fatalf("explicit draw setting ignored")
	}
}

func TestResolveWithoutRule(t *testing.T) {
	c, err := resolver.Resolve(context.Background(), &fakeRules{}, domain.DrawApplication{
		Category:     "law",
		AvoidEnabled: boolPtr(false),
	}, resolver.Options{AutoRule: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.RuleID != "" || c.Method != domain.MethodRandom || c.AvoidEnabled {
		t.Fatalf("unexpected constraints %+v", c)
	}
}

func TestResolveRejectsUnknownMethod(t *testing.T) {
	_, err := resolver.Resolve(context.Background(), &fakeRules{}, domain.DrawApplication{DrawMethod: "dice"}, resolver.Options{})
	if err == nil {
		t.Fatalf("expected invalid method error")
	}
}
