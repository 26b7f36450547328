package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusApply(t *testing.T) {
	tests := []struct {
		from    Status
		t       Transition
		want    Status
		illegal bool
	}{
		{StatusScheduled, Claim, StatusRunning, false},
		{StatusScheduled, Cancel, StatusCancelled, false},
		{StatusScheduled, Complete, StatusScheduled, true},
		{StatusScheduled, Release, StatusScheduled, true},
		{StatusRunning, Complete, StatusCompleted, false},
		{StatusRunning, Release, StatusScheduled, false},
		{StatusRunning, Cancel, StatusCancelled, false},
		{StatusRunning, Claim, StatusRunning, true},
		{StatusCompleted, Claim, StatusCompleted, true},
		{StatusCompleted, Cancel, StatusCompleted, true},
		{StatusCancelled, Claim, StatusCancelled, true},
		{StatusCancelled, Release, StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.t), func(t *testing.T) {
			got, err := tt.from.Apply(tt.t)
			if tt.illegal {
				require.ErrorIs(t, err, ErrIllegalTransition)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusScheduled.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("running")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s)

	_, err = ParseStatus("archived")
	require.Error(t, err)
}

func TestProgramTransition_IllegalKeepsStatus(t *testing.T) {
	p := Program{ID: 4, Status: StatusCompleted}
	err := p.Transition(Claim)
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Contains(t, err.Error(), "program 4")
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestProgramScaling(t *testing.T) {
	p := Program{PlannedVolume: 20, DurationMinutes: 45}

	p.ScaleVolume(0.5)
	assert.InDelta(t, 10.0, p.PlannedVolume, 1e-9)

	p.ScaleDuration(1.1)
	assert.Equal(t, 49, p.DurationMinutes, "duration truncates to whole minutes")

	p.ScaleVolume(-2)
	p.ScaleDuration(-1)
	assert.Zero(t, p.PlannedVolume)
	assert.Zero(t, p.DurationMinutes)
}

func TestClaimOutcomeString(t *testing.T) {
	assert.Equal(t, "claimed", Claimed.String())
	assert.Equal(t, "skipped", ClaimSkipped.String())
	assert.Equal(t, "not_found", ClaimNotFound.String())
}
