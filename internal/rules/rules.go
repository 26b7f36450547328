package rules

import (
	"math"

	"github.com/couchcryptid/irrigation-engine/internal/domain"
)

// Change is the pair of snapshots a rule inspects.
type Change struct {
	Old domain.WeatherConditions
	New domain.WeatherConditions
}

// Rule is one (predicate, action) row of a tier table.
type Rule struct {
	Name   string
	Match  func(c Change) bool
	Adjust func(p *domain.Program, c Change) error
}

// Table is evaluated top to bottom; the first matching rule wins.
type Table []Rule

// Find returns the first rule whose predicate holds.
func (t Table) Find(c Change) (Rule, bool) {
	for _, r := range t {
		if r.Match(c) {
			return r, true
		}
	}
	return Rule{}, false
}

// DefaultTables returns the rule tables for every actionable tier.
func DefaultTables() map[domain.Severity]Table {
	return map[domain.Severity]Table{
		domain.SeverityCritical: {
			{
				Name:   "heavy_rain_cancel",
				Match:  func(c Change) bool { return above(c.New.Rain, 20) },
				Adjust: func(p *domain.Program, _ Change) error { return p.Transition(domain.Cancel) },
			},
			{
				Name:   "extreme_temperature",
				Match:  func(c Change) bool { return swing(c.Old.TempMax, c.New.TempMax, 10) },
				Adjust: adjustForTemperature,
			},
			{
				Name:   "high_wind_duration",
				Match:  func(c Change) bool { return above(c.New.Wind, 30) },
				Adjust: scaleDuration(1.4),
			},
		},
		domain.SeverityHigh: {
			{
				Name:  "rain_volume_reduction",
				Match: func(c Change) bool { return rising(c.Old.Rain, c.New.Rain, 10) },
				Adjust: func(p *domain.Program, c Change) error {
					delta := *c.New.Rain - *c.Old.Rain
					p.ScaleVolume(1 - math.Min(0.5, delta/20))
					return nil
				},
			},
			{
				Name:   "temperature_swing",
				Match:  func(c Change) bool { return swing(c.Old.TempMax, c.New.TempMax, 5) },
				Adjust: adjustForTemperature,
			},
			{
				Name:   "wind_duration",
				Match:  func(c Change) bool { return rising(c.Old.Wind, c.New.Wind, 10) },
				Adjust: scaleDuration(1.2),
			},
		},
		domain.SeverityMedium: {
			{
				Name:   "moderate_rain_volume",
				Match:  func(c Change) bool { return rising(c.Old.Rain, c.New.Rain, 5) },
				Adjust: scaleVolume(0.9),
			},
			{
				Name:   "moderate_wind_duration",
				Match:  func(c Change) bool { return rising(c.Old.Wind, c.New.Wind, 7) },
				Adjust: scaleDuration(1.1),
			},
		},
	}
}

// adjustForTemperature scales the program for the new maximum temperature.
// Between 15 and 25 °C it leaves the program as is.
func adjustForTemperature(p *domain.Program, c Change) error {
	t := c.New.TempMax
	switch {
	case t == nil:
	case *t > 30:
		p.ScaleVolume(1.3)
		p.ScaleDuration(1.2)
	case *t > 25:
		p.ScaleVolume(1.15)
	case *t < 15:
		p.ScaleVolume(0.85)
	}
	return nil
}

func scaleVolume(factor float64) func(*domain.Program, Change) error {
	return func(p *domain.Program, _ Change) error {
		p.ScaleVolume(factor)
		return nil
	}
}

func scaleDuration(factor float64) func(*domain.Program, Change) error {
	return func(p *domain.Program, _ Change) error {
		p.ScaleDuration(factor)
		return nil
	}
}

func above(v *float64, limit float64) bool {
	return v != nil && *v > limit
}

// rising reports whether new exceeds old by more than by. Both must be known.
func rising(old, new *float64, by float64) bool {
	return old != nil && new != nil && *new > *old+by
}

// swing reports an absolute move larger than by. Both must be known.
func swing(old, new *float64, by float64) bool {
	return old != nil && new != nil && math.Abs(*new-*old) > by
}
