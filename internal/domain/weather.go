package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity ranks how far a forecast moved. Tiers are totally ordered.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (s Severity) String() string {
	if s < SeverityLow || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity accepts the upper- or lower-case tier name.
func ParseSeverity(s string) (Severity, error) {
	for i, name := range severityNames {
		if strings.EqualFold(s, name) {
			return Severity(i), nil
		}
	}
	return SeverityLow, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if name == "" {
		*s = SeverityLow
		return nil
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// WeatherConditions is one forecast snapshot. Any measurement may be absent.
type WeatherConditions struct {
	TempMax *float64  `json:"temperatureMax,omitempty"`
	TempMin *float64  `json:"temperatureMin,omitempty"`
	Rain    *float64  `json:"pluiePrevue,omitempty"` // mm
	Wind    *float64  `json:"vent,omitempty"`        // km/h
	Date    LocalTime `json:"date"`
}

// WeatherChangeEvent reports that a station's forecast changed.
type WeatherChangeEvent struct {
	StationID   int64              `json:"stationId" validate:"required"`
	StationName string             `json:"stationNom,omitempty"`
	Old         *WeatherConditions `json:"oldConditions"`
	New         *WeatherConditions `json:"newConditions" validate:"required"`
	Timestamp   LocalTime          `json:"timestamp"`
	Severity    Severity           `json:"severity"`
	Description string             `json:"description,omitempty"`
}

// EffectiveDate is the forecast date the event refers to, falling back to the
// emission timestamp when the snapshot carries none.
func (e WeatherChangeEvent) EffectiveDate() time.Time {
	if e.New != nil && !e.New.Date.IsZero() {
		return e.New.Date.Time
	}
	return e.Timestamp.Time
}

// LocalTime decodes both RFC 3339 timestamps and zone-less local date-times,
// which are interpreted as UTC.
type LocalTime struct {
	time.Time
}

var localTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

func (t LocalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

func (t *LocalTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		if string(data) == "null" {
			t.Time = time.Time{}
			return nil
		}
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range localTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q", s)
}

// RawEvent represents an unprocessed message from the weather topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// StationKey is the message key the forecast producer uses for a station.
func StationKey(stationID int64) string {
	return fmt.Sprintf("station-%d", stationID)
}

// Float returns a pointer to v, for building conditions in code.
func Float(v float64) *float64 {
	return &v
}
