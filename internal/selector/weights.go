package selector

import (
	"math"
	"strings"

	"expertdraw/internal/domain"
)

// Weight attributes understood by WeightPolicy.
const (
	WeightAttributeExpert = "weight"
	WeightAttributeNone   = "none"
)

// WeightPolicy assigns the non-negative sampling weight used by the
// weighted method.
type WeightPolicy struct {
	Attribute        string
	Default          float64
	TitleMultipliers map[string]float64
}

// Weight returns the weight of e under the policy. Non-finite or negative
// inputs are ignored and the result is always finite.
func (p WeightPolicy) Weight(e domain.Expert) float64 {
	w := p.Default
	if !Finite(w) || w <= 0 {
		w = 1
	}
	if p.Attribute != WeightAttributeNone && e.Weight != nil && Finite(*e.Weight) && *e.Weight >= 0 {
		w = *e.Weight
	}
	if len(p.TitleMultipliers) > 0 && e.Title != "" {
		for title, m := range p.TitleMultipliers {
			if strings.EqualFold(strings.TrimSpace(title), strings.TrimSpace(e.Title)) && Finite(m) && m >= 0 {
				w *= m
				break
			}
		}
	}
	return min(w, math.MaxFloat64)
}

// Finite reports whether f is neither NaN nor infinite.
func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
