// Package selector draws primaries and backups from an eligible expert pool.
//
// # Determinism
//
// Select never touches a global random source. Given the same Request and a
// *rand.Rand built from the same seed, it returns the same ordered Result.
// The pool is sorted by expert id before drawing so the roster's row order
// does not leak into the outcome.
//
// # Ordering
//
// Experts are drawn one at a time without replacement. The first
// ExpertCount drawn are the primaries in draw order, the next BackupCount
// are the backups in draw order. Ordinals are positions in those slices,
// starting at 1.
package selector

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"expertdraw/internal/domain"
)

// Request holds the inputs of one selection.
type Request struct {
	Candidates     []domain.Expert
	Constraints    domain.Constraints
	ExpertCount    int
	BackupCount    int
	AvoidUnits     string
	AvoidPersons   string
	ReviewLocation string
	Weights        WeightPolicy
}

// Result is the ordered outcome of a selection.
type Result struct {
	Primaries []string
	Backups   []string
	PoolSize  int
}

// NewRand returns the PCG source Select expects for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Select filters the candidates, applies exclusions and draws the requested
// number of experts with the constraint's method.
func Select(req Request, rng *rand.Rand) (Result, error) {
	if rng == nil {
		return Result{}, fmt.Errorf("random source required")
	}
	if req.ExpertCount < 1 {
		return Result{}, fmt.Errorf("expert_count must be at least 1")
	}
	if req.BackupCount < 0 {
		return Result{}, fmt.Errorf("backup_count must not be negative")
	}
	method := domain.NormalizeMethod(req.Constraints.Method)
	if method == "" {
		method = domain.MethodRandom
	}
	if !domain.ValidMethod(method) {
		return Result{}, fmt.Errorf("unsupported draw method %q", req.Constraints.Method)
	}

	pool := Eligible(req.Candidates, req.Constraints)
	pool = Exclude(pool, Exclusions{
		Units:          Tokens(req.AvoidUnits),
		Persons:        Tokens(req.AvoidPersons),
		ReviewLocation: req.ReviewLocation,
		AvoidEnabled:   req.Constraints.AvoidEnabled,
	})
	if req.ExpertCount > len(pool)-req.BackupCount {
		required := req.ExpertCount + req.BackupCount
		if required < 0 {
			required = math.MaxInt
		}
		return Result{PoolSize: len(pool)}, domain.InsufficientCandidatesError{Available: len(pool), Required: required}
	}
	total := req.ExpertCount + req.BackupCount
	slices.SortFunc(pool, func(a, b domain.Expert) int { return strings.Compare(a.ID, b.ID) })

	var drawn []domain.Expert
	switch method {
	case domain.MethodRandom:
		drawn = drawUniform(pool, total, rng)
	case domain.MethodLottery:
		drawn = drawLottery(pool, total, rng)
	case domain.MethodWeighted:
		drawn = drawWeighted(pool, total, req.Weights, rng)
	}

	res := Result{PoolSize: len(pool)}
	for i, e := range drawn {
		if i < req.ExpertCount {
			res.Primaries = append(res.Primaries, e.ID)
		} else {
			res.Backups = append(res.Backups, e.ID)
		}
	}
	return res, nil
}

// Eligible keeps the active candidates matching the taxonomy, title, region
// and specialty constraints. Empty constraint fields match everything.
func Eligible(candidates []domain.Expert, c domain.Constraints) []domain.Expert {
	out := make([]domain.Expert, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, e := range candidates {
		if !e.IsActive || e.ID == "" {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		if c.Category != "" && !sameToken(e.Category, c.Category) {
			continue
		}
		if c.Subcategory != "" && !sameToken(e.Subcategory, c.Subcategory) {
			continue
		}
		if c.Specialty != "" && !containsFold(e.Specialties, c.Specialty) {
			continue
		}
		if len(c.Titles) > 0 && !containsFold(c.Titles, e.Title) {
			continue
		}
		if len(c.Regions) > 0 && !containsFold(c.Regions, e.Region) {
			continue
		}
		if len(c.Specialties) > 0 && !intersectsFold(c.Specialties, e.Specialties) {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Exclusions are the avoidance inputs of a draw.
type Exclusions struct {
	Units          []string
	Persons        []string
	ReviewLocation string
	AvoidEnabled   bool
}

// Exclude drops experts named by the avoidance lists. Units match the
// organization id or name, persons match the expert id or name. With
// AvoidEnabled, experts whose own avoid list names the review location are
// dropped as well.
func Exclude(pool []domain.Expert, ex Exclusions) []domain.Expert {
	location := strings.TrimSpace(ex.ReviewLocation)
	out := make([]domain.Expert, 0, len(pool))
	for _, e := range pool {
		if len(ex.Units) > 0 && (containsFold(ex.Units, e.OrganizationID) || containsFold(ex.Units, e.Organization)) {
			continue
		}
		if len(ex.Persons) > 0 && (containsFold(ex.Persons, e.ID) || containsFold(ex.Persons, e.Name)) {
			continue
		}
		if ex.AvoidEnabled && location != "" && containsFold(Tokens(e.AvoidUnits), location) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Tokens splits a free-text exclusion list into trimmed, non-empty tokens.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', ';', '\n', '\r', '，', '；', '、':
			return true
		}
		return false
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := strings.TrimSpace(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func drawUniform(pool []domain.Expert, n int, rng *rand.Rand) []domain.Expert {
	work := slices.Clone(pool)
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(work)-i)
		work[i], work[j] = work[j], work[i]
	}
	return work[:n]
}

func drawLottery(pool []domain.Expert, n int, rng *rand.Rand) []domain.Expert {
	type ticket struct {
		value  float64
		expert domain.Expert
	}
	tickets := make([]ticket, len(pool))
	for i, e := range pool {
		tickets[i] = ticket{value: rng.Float64(), expert: e}
	}
	slices.SortStableFunc(tickets, func(a, b ticket) int {
		switch {
		case a.value < b.value:
			return -1
		case a.value > b.value:
			return 1
		}
		return 0
	})
	out := make([]domain.Expert, n)
	for i := range out {
		out[i] = tickets[i].expert
	}
	return out
}

// drawWeighted samples without replacement, each remaining candidate picked
// with probability weight/sum(remaining weights). Once only zero-weight
// candidates remain, they are drawn uniformly.
func drawWeighted(pool []domain.Expert, n int, policy WeightPolicy, rng *rand.Rand) []domain.Expert {
	work := slices.Clone(pool)
	weights := make([]float64, len(work))
	var top float64
	for i, e := range work {
		weights[i] = policy.Weight(e)
		top = max(top, weights[i])
	}
	// scale into [0,1] so the running sum stays finite
	if top > 0 {
		for i := range weights {
			weights[i] /= top
		}
	}
	out := make([]domain.Expert, 0, n)
	for len(out) < n {
		var sum float64
		for _, w := range weights {
			sum += w
		}
		idx := 0
		if sum > 0 {
			target := rng.Float64() * sum
			idx = -1
			for i, w := range weights {
				if w <= 0 {
					continue
				}
				target -= w
				if target < 0 {
					idx = i
					break
				}
			}
			if idx < 0 {
				// float rounding at the tail: take the last positive weight
				for i := len(weights) - 1; i >= 0; i-- {
					if weights[i] > 0 {
						idx = i
						break
					}
				}
			}
		} else {
			idx = rng.IntN(len(work))
		}
		out = append(out, work[idx])
		work = slices.Delete(work, idx, idx+1)
		weights = slices.Delete(weights, idx, idx+1)
	}
	return out
}

func sameToken(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	for _, item := range list {
		if sameToken(item, v) {
			return true
		}
	}
	return false
}

func intersectsFold(a, b []string) bool {
	for _, v := range b {
		if containsFold(a, v) {
			return true
		}
	}
	return false
}
