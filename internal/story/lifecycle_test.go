package story

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/models"
)

func TestFire(t *testing.T) {
	tests := []struct {
		from models.StoryState
		ev   Event
		want models.StoryState
	}{
		{models.StateInactive, EventStart, models.StateInProgress},
		{models.StateInProgress, EventFinish, models.StatePendingApproval},
		{models.StatePendingApproval, EventApprove, models.StateApproved},
		{models.StatePendingApproval, EventReject, models.StateInProgress},
		{models.StateInactive, EventCancel, models.StateCancelled},
		{models.StateInProgress, EventCancel, models.StateCancelled},
		{models.StatePendingApproval, EventCancel, models.StateCancelled},
		{models.StateApproved, EventCancel, models.StateCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+string(tt.ev), func(t *testing.T) {
			got, err := Fire(tt.from, tt.ev, "s1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFire_RejectsIllegalEvents(t *testing.T) {
	tests := []struct {
		from models.StoryState
		ev   Event
	}{
		{models.StateInactive, EventApprove},
		{models.StateInProgress, EventApprove},
		{models.StateInProgress, EventStart},
		{models.StateApproved, EventReject},
		{models.StateApproved, EventStart},
		{models.StateCancelled, EventCancel},
		{models.StateCancelled, EventStart},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+string(tt.ev), func(t *testing.T) {
			got, err := Fire(tt.from, tt.ev, "s1")
			assert.ErrorIs(t, err, apperrors.ErrWrongState)
			assert.Equal(t, tt.from, got)
		})
	}
}
