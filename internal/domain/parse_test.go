package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeatherEvent(t *testing.T) {
	received := time.Date(2025, 3, 1, 18, 20, 0, 0, time.UTC)

	t.Run("producer payload", func(t *testing.T) {
		data := []byte(`{"stationId":7,"stationNom":"Meknes",
			"oldConditions":{"temperatureMax":24.0,"temperatureMin":11.0,"pluiePrevue":0.0,"vent":10.0,"date":"2025-03-02T00:00:00"},
			"newConditions":{"temperatureMax":26.5,"pluiePrevue":25.0,"vent":12.0,"date":"2025-03-02T00:00:00"},
			"timestamp":"2025-03-01T18:20:00.123","severity":"CRITICAL","description":"rain"}`)

		event, err := ParseWeatherEvent(RawEvent{Value: data, Timestamp: received})
		require.NoError(t, err)

		assert.Equal(t, int64(7), event.StationID)
		assert.Equal(t, "Meknes", event.StationName)
		assert.Equal(t, SeverityCritical, event.Severity)
		require.NotNil(t, event.New.Rain)
		assert.InDelta(t, 25.0, *event.New.Rain, 1e-9)
		assert.Nil(t, event.New.TempMin)
		assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), event.New.Date.Time)
		assert.Equal(t, time.Date(2025, 3, 1, 18, 20, 0, 123000000, time.UTC), event.Timestamp.Time)
		assert.Equal(t, event.New.Date.Time, event.EffectiveDate())
	})

	t.Run("missing old conditions", func(t *testing.T) {
		data := []byte(`{"stationId":3,"newConditions":{"pluiePrevue":4.0}}`)
		event, err := ParseWeatherEvent(RawEvent{Value: data, Timestamp: received})
		require.NoError(t, err)
		require.NotNil(t, event.Old)
		assert.Equal(t, received, event.Timestamp.Time)
		assert.Equal(t, received, event.EffectiveDate())
		assert.Equal(t, SeverityLow, event.Severity)
	})

	t.Run("missing station", func(t *testing.T) {
		_, err := ParseWeatherEvent(RawEvent{Value: []byte(`{"newConditions":{}}`)})
		require.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("missing new conditions", func(t *testing.T) {
		_, err := ParseWeatherEvent(RawEvent{Value: []byte(`{"stationId":1}`)})
		require.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseWeatherEvent(RawEvent{Value: []byte("{invalid")})
		require.ErrorIs(t, err, ErrInvalidEvent)
		assert.Contains(t, err.Error(), "decode")
	})

	t.Run("unknown severity", func(t *testing.T) {
		_, err := ParseWeatherEvent(RawEvent{Value: []byte(`{"stationId":1,"newConditions":{},"severity":"EXTREME"}`)})
		require.ErrorIs(t, err, ErrInvalidEvent)
	})
}

func TestReclassify(t *testing.T) {
	event := WeatherChangeEvent{
		StationID: 9,
		Old:       conditions(20, 0, 10),
		New:       conditions(20, 15, 10),
		Severity:  SeverityCritical,
	}

	got, disagreed := Reclassify(event)
	assert.True(t, disagreed)
	assert.Equal(t, SeverityHigh, got.Severity)
	assert.Equal(t, "rain forecast up 15.0 mm.", got.Description)

	again, disagreed := Reclassify(got)
	assert.False(t, disagreed)
	assert.Equal(t, got, again)
}

func TestWeatherChangeEvent_JSONRoundTrip(t *testing.T) {
	event := WeatherChangeEvent{
		StationID: 2,
		Old:       conditions(20, 0, 10),
		New:       &WeatherConditions{Rain: Float(30), Date: LocalTime{time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)}},
		Severity:  SeverityHigh,
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"severity":"HIGH"`)
	assert.Contains(t, string(data), `"pluiePrevue":30`)

	parsed, err := ParseWeatherEvent(RawEvent{Value: data})
	require.NoError(t, err)
	assert.Equal(t, event.New.Date.Time, parsed.New.Date.Time)
	assert.Equal(t, SeverityHigh, parsed.Severity)
}

func TestStationKey(t *testing.T) {
	assert.Equal(t, "station-42", StationKey(42))
}
