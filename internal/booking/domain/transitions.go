package domain

// transitions is the single source of truth for the state machine. Every
// edge not present here fails with ErrInvalidTransition.
var transitions = map[Status]map[Action]Status{
	StatusDraft: {
		ActionSubmit: StatusPendingOwnerApproval, // instant-book overridden in Next
	},
	StatusPendingOwnerApproval: {
		ActionApprove:         StatusPendingPayment,
		ActionReject:          StatusCancelled,
		ActionTimeoutApproval: StatusCancelled,
		ActionCancel:          StatusCancelled,
	},
	StatusPendingPayment: {
		ActionConfirmPayment: StatusConfirmed,
		ActionFailPayment:    StatusCancelled,
		ActionTimeoutPayment: StatusCancelled,
		ActionCancel:         StatusCancelled,
	},
	StatusConfirmed: {
		ActionCheckIn: StatusActive,
		ActionCancel:  StatusCancelled,
	},
	StatusActive: {
		ActionRecordCheckIn: StatusInProgress,
		ActionCancel:        StatusCancelled,
	},
	StatusInProgress: {
		ActionInitiateReturn: StatusAwaitingReturnInspection,
	},
	StatusAwaitingReturnInspection: {
		ActionCompleteInspection: StatusCompleted,
		ActionOpenDispute:        StatusDisputed,
	},
	StatusCompleted: {
		ActionSettle:      StatusSettled,
		ActionOpenDispute: StatusDisputed,
	},
	StatusDisputed: {
		ActionResolveSettle: StatusSettled,
		ActionResolveRefund: StatusRefunded,
	},
}

// restricted actions may not be requested by renters or owners; the
// scheduler and the dispute workflow reach them through ForceTransitionTx.
var restricted = map[Action]bool{
	ActionTimeoutApproval: true,
	ActionTimeoutPayment:  true,
	ActionSettle:          true,
	ActionOpenDispute:     true,
	ActionResolveSettle:   true,
	ActionResolveRefund:   true,
}

// Next resolves the destination state for an action, or ErrInvalidTransition
// when the edge is not in the table. Submit is the one mode-dependent edge.
func Next(from Status, action Action, mode Mode) (Status, error) {
	edges, ok := transitions[from]
	if !ok {
		return "", ErrInvalidTransition
	}
	to, ok := edges[action]
	if !ok {
		return "", ErrInvalidTransition
	}
	if from == StatusDraft && action == ActionSubmit && mode == ModeInstantBook {
		return StatusPendingPayment, nil
	}
	return to, nil
}

// Restricted reports whether an action is reserved for internal callers.
func Restricted(action Action) bool { return restricted[action] }
