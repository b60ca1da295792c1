package sickness

// =============================================================================
// TRANSITION TABLE
// =============================================================================

// transitionTable is the complete case lifecycle. Any (status, action) pair
// not listed here is rejected with InvalidTransitionError.
//
//	REPORTED -> TRACKING -> FIT_NOTE_RECEIVED -> RTW_SCHEDULED -> RTW_COMPLETED -> CLOSED
//	                ^                                                               |
//	                +---------------------------- reopen ---------------------------+
var transitionTable = map[Status]map[Action]Status{
	StatusReported:        {ActionAcknowledge: StatusTracking},
	StatusTracking:        {ActionReceiveFitNote: StatusFitNoteReceived},
	StatusFitNoteReceived: {ActionScheduleRTW: StatusRTWScheduled},
	StatusRTWScheduled:    {ActionCompleteRTW: StatusRTWCompleted},
	StatusRTWCompleted:    {ActionCloseCase: StatusClosed},
	StatusClosed:          {ActionReopen: StatusTracking},
}

// Next returns the status action leads to from status, or false when the
// pair is not in the table.
func Next(from Status, action Action) (Status, bool) {
	to, ok := transitionTable[from][action]
	return to, ok
}

// AvailableActions returns the actions allowed from status, in lifecycle
// order. Unknown statuses have none.
func AvailableActions(status Status) []Action {
	edges := transitionTable[status]
	actions := make([]Action, 0, len(edges))
	for _, a := range AllActions {
		if _, ok := edges[a]; ok {
			actions = append(actions, a)
		}
	}
	return actions
}
