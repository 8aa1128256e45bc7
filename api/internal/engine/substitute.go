package engine

import (
	"strconv"
	"strings"
)

const (
	fallbackUnknown = "Unknown"
	fallbackNone    = "None"
	fallbackZero    = "0"
)

// Substitute renders a template against the trigger context and any
// fetched live state. Placeholders with absent data render as literal
// defaults rather than surviving into the output.
func Substitute(template string, ec Context, live *LiveState) string {
	if template == "" || !strings.ContainsAny(template, "{%") {
		return template
	}

	playerName, playerID := fallbackUnknown, fallbackUnknown
	if ec.Player != nil {
		if ec.Player.Name != "" {
			playerName = ec.Player.Name
		}
		if ec.Player.ID != "" {
			playerID = ec.Player.ID
		}
	}

	punishmentType, reason, moderator := fallbackNone, fallbackNone, fallbackUnknown
	if ec.Punishment != nil {
		if ec.Punishment.Type != "" {
			punishmentType = ec.Punishment.Type
		}
		if ec.Punishment.Reason != "" {
			reason = ec.Punishment.Reason
		}
		if ec.Punishment.Moderator != "" {
			moderator = ec.Punishment.Moderator
		}
	}

	serverName, playerCount := fallbackUnknown, fallbackZero
	if live != nil {
		if live.ServerName != "" {
			serverName = live.ServerName
		}
		playerCount = strconv.Itoa(live.PlayerCount)
	}

	pairs := []string{
		"{player_name}", playerName,
		"{player_id}", playerID,
		"{server_name}", serverName,
		"{player_count}", playerCount,
		"{punishment_type}", punishmentType,
		"{punishment_reason}", reason,
		"{reason}", reason,
		"{moderator_name}", moderator,
		// Legacy token form kept for rules imported from the old
		// dashboard export format.
		"%player_name%", playerName,
		"%player_id%", playerID,
		"%name%", playerName,
		"%id%", playerID,
		"%server_name%", serverName,
		"%player_count%", playerCount,
		"%reason%", reason,
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
