package workflow

import "strings"

const (
	CommandStatusPending    = "pending"
	CommandStatusProcessing = "processing"
	CommandStatusCompleted  = "completed"
	CommandStatusFailed     = "failed"
)

const (
	CommandEventQueued    = "command_queued"
	CommandEventClaimed   = "command_claimed"
	CommandEventCompleted = "command_completed"
	CommandEventFailed    = "command_failed"
)

// Terminal statuses never transition again; a command moves forward only.
var commandTransitions = map[string]map[string]string{
	CommandStatusPending: {
		CommandStatusProcessing: CommandEventClaimed,
	},
	CommandStatusProcessing: {
		CommandStatusCompleted: CommandEventCompleted,
		CommandStatusFailed:    CommandEventFailed,
		// Stale-claim reclaim: a crashed worker's claim goes back to pending.
		CommandStatusPending: CommandEventQueued,
	},
}

func NormalizeCommandStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func CanTransition(fromStatus string, toStatus string) bool {
	fromStatus = NormalizeCommandStatus(fromStatus)
	toStatus = NormalizeCommandStatus(toStatus)
	if fromStatus == toStatus {
		return true
	}
	next := commandTransitions[fromStatus]
	if next == nil {
		return false
	}
	_, ok := next[toStatus]
	return ok
}

func EventTypeForTransition(fromStatus string, toStatus string) string {
	fromStatus = NormalizeCommandStatus(fromStatus)
	toStatus = NormalizeCommandStatus(toStatus)
	if fromStatus == toStatus {
		return ""
	}
	next := commandTransitions[fromStatus]
	if next == nil {
		return ""
	}
	return next[toStatus]
}

func IsTerminal(status string) bool {
	switch NormalizeCommandStatus(status) {
	case CommandStatusCompleted, CommandStatusFailed:
		return true
	default:
		return false
	}
}

func AllCommandStatuses() []string {
	return []string{
		CommandStatusPending,
		CommandStatusProcessing,
		CommandStatusCompleted,
		CommandStatusFailed,
	}
}
