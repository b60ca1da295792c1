package sickness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// TRANSITION TABLE COMPLETENESS
// =============================================================================

func TestTransitionTable_CoversEveryStatus(t *testing.T) {
	for _, st := range AllStatuses {
		_, ok := transitionTable[st]
		assert.True(t, ok, "status %s has no entry in the transition table", st)
	}
	assert.Len(t, transitionTable, len(AllStatuses), "table has entries for unknown statuses")
}

func TestTransitionTable_OnlyKnownActionsAndTargets(t *testing.T) {
	for from, edges := range transitionTable {
		for action, to := range edges {
			assert.True(t, action.Valid(), "%s: unknown action %s", from, action)
			assert.True(t, to.Valid(), "%s --%s--> unknown status %s", from, action, to)
		}
	}
}

func TestTransitionTable_Lifecycle(t *testing.T) {
	// GIVEN: a case walked through the whole lifecycle and reopened
	// THEN: each step lands on the documented status
	steps := []struct {
		from   Status
		action Action
		to     Status
	}{
		{StatusReported, ActionAcknowledge, StatusTracking},
		{StatusTracking, ActionReceiveFitNote, StatusFitNoteReceived},
		{StatusFitNoteReceived, ActionScheduleRTW, StatusRTWScheduled},
		{StatusRTWScheduled, ActionCompleteRTW, StatusRTWCompleted},
		{StatusRTWCompleted, ActionCloseCase, StatusClosed},
		{StatusClosed, ActionReopen, StatusTracking},
	}
	for _, s := range steps {
		to, ok := Next(s.from, s.action)
		require.True(t, ok, "%s --%s--> should be allowed", s.from, s.action)
		assert.Equal(t, s.to, to)
	}
}

func TestNext_RejectsEveryPairNotInTable(t *testing.T) {
	allowed := 0
	for _, st := range AllStatuses {
		for _, a := range AllActions {
			_, ok := Next(st, a)
			_, inTable := transitionTable[st][a]
			assert.Equal(t, inTable, ok, "Next(%s, %s)", st, a)
			if ok {
				allowed++
			}
		}
	}
	assert.Equal(t, 6, allowed)

	_, ok := Next(StatusReported, ActionReport)
	assert.False(t, ok, "report is not a requestable action")
}

func TestAvailableActions(t *testing.T) {
	assert.Equal(t, []Action{ActionAcknowledge}, AvailableActions(StatusReported))
	assert.Equal(t, []Action{ActionReopen}, AvailableActions(StatusClosed))
	assert.Empty(t, AvailableActions(Status("ARCHIVED")))

	for _, st := range AllStatuses {
		assert.NotEmpty(t, AvailableActions(st), "%s has no way out", st)
	}
}

func TestParseLiterals(t *testing.T) {
	st, err := ParseStatus("FIT_NOTE_RECEIVED")
	require.NoError(t, err)
	assert.Equal(t, StatusFitNoteReceived, st)

	_, err = ParseStatus("fit_note_received")
	assert.True(t, errors.Is(err, generic.ErrValidation))

	_, err = ParseAction("report")
	assert.True(t, errors.Is(err, generic.ErrValidation), "report is recorded, never requested")

	_, err = ParseAbsenceType("FLU")
	assert.True(t, errors.Is(err, generic.ErrValidation))

	_, err = ParseActionStatus("DONE")
	assert.True(t, errors.Is(err, generic.ErrValidation))
}
