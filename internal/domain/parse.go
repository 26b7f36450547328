package domain

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseWeatherEvent decodes and validates a weather change message.
// Any failure wraps ErrInvalidEvent: such a message can never be applied.
func ParseWeatherEvent(raw RawEvent) (WeatherChangeEvent, error) {
	var event WeatherChangeEvent
	if err := json.Unmarshal(raw.Value, &event); err != nil {
		return WeatherChangeEvent{}, fmt.Errorf("%w: decode: %v", ErrInvalidEvent, err)
	}
	if err := validate.Struct(event); err != nil {
		return WeatherChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.Old == nil {
		event.Old = &WeatherConditions{}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = LocalTime{raw.Timestamp.UTC()}
	}
	return event, nil
}

// Reclassify recomputes severity and description from the two snapshots and
// reports whether the producer's severity disagreed.
func Reclassify(event WeatherChangeEvent) (WeatherChangeEvent, bool) {
	computed := Classify(event.Old, event.New)
	disagreed := computed != event.Severity
	event.Severity = computed
	event.Description = Describe(event.Old, event.New)
	return event, disagreed
}
