package domain

import (
	"fmt"
	"math"
	"strings"
)

// tierThresholds holds the strict lower bounds that promote a change into a tier.
type tierThresholds struct {
	severity Severity
	rain     float64
	temp     float64
	wind     float64
}

// severityTable is evaluated top to bottom; the first matching tier wins.
var severityTable = []tierThresholds{
	{severity: SeverityCritical, rain: 20, temp: 10, wind: 20},
	{severity: SeverityHigh, rain: 10, temp: 5, wind: 10},
	{severity: SeverityMedium, rain: 5, temp: 3, wind: 5},
}

// Differences holds the absolute movement of each tracked measurement.
type Differences struct {
	TempMax float64
	Rain    float64
	Wind    float64
}

// Diff computes absolute differences between two snapshots. A missing value on
// either side contributes zero.
func Diff(old, new *WeatherConditions) Differences {
	o, n := orEmpty(old), orEmpty(new)
	return Differences{
		TempMax: absDiff(o.TempMax, n.TempMax),
		Rain:    absDiff(o.Rain, n.Rain),
		Wind:    absDiff(o.Wind, n.Wind),
	}
}

// Classify ranks the change between two snapshots. It depends only on absolute
// differences, so swapping old and new never changes the tier.
func Classify(old, new *WeatherConditions) Severity {
	d := Diff(old, new)
	for _, tier := range severityTable {
		if d.Rain > tier.rain || d.TempMax > tier.temp || d.Wind > tier.wind {
			return tier.severity
		}
	}
	return SeverityLow
}

// Describe summarizes every measurement that moved past its Medium threshold.
func Describe(old, new *WeatherConditions) string {
	o, n := orEmpty(old), orEmpty(new)
	d := Diff(old, new)
	medium := severityTable[len(severityTable)-1]

	var parts []string
	if d.TempMax > medium.temp && o.TempMax != nil && n.TempMax != nil {
		parts = append(parts, fmt.Sprintf("temperature %s %.1f°C.", direction(*o.TempMax, *n.TempMax), d.TempMax))
	}
	if d.Rain > medium.rain && o.Rain != nil && n.Rain != nil {
		parts = append(parts, fmt.Sprintf("rain forecast %s %.1f mm.", direction(*o.Rain, *n.Rain), d.Rain))
	}
	if d.Wind > medium.wind {
		parts = append(parts, fmt.Sprintf("wind changed by %.1f km/h.", d.Wind))
	}

	if len(parts) == 0 {
		return "conditions updated"
	}
	return strings.Join(parts, " ")
}

func direction(old, new float64) string {
	if new > old {
		return "up"
	}
	return "down"
}

func absDiff(a, b *float64) float64 {
	if a == nil || b == nil {
		return 0
	}
	return math.Abs(*b - *a)
}

func orEmpty(c *WeatherConditions) WeatherConditions {
	if c == nil {
		return WeatherConditions{}
	}
	return *c
}
