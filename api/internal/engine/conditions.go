package engine

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// PlayerInfo is the player that caused the trigger, if any.
type PlayerInfo struct {
	ID         string
	Name       string
	Permission int
	Team       string
}

type PunishmentInfo struct {
	Type      string
	Reason    string
	Moderator string
}

// Context carries the firing event's data. It is ephemeral and never
// persisted.
type Context struct {
	GuildID    uuid.UUID
	ServerID   *uuid.UUID
	Player     *PlayerInfo
	Punishment *PunishmentInfo
	Details    map[string]string
}

// LiveState is fetched from the game server on demand, only when a
// rule actually references server.* fields or placeholders.
type LiveState struct {
	ServerName  string
	PlayerCount int
	MaxPlayers  int
}

// resolveField maps a dotted path to a value. Unknown paths return
// ("", false); comparisons against them fail without panicking.
func resolveField(field string, ec Context, live *LiveState) (string, bool) {
	field = strings.ToLower(strings.TrimSpace(field))
	switch {
	case strings.HasPrefix(field, "player."):
		if ec.Player == nil {
			return "", false
		}
		switch field {
		case "player.id":
			return ec.Player.ID, true
		case "player.name":
			return ec.Player.Name, true
		case "player.permission":
			return strconv.Itoa(ec.Player.Permission), true
		case "player.team":
			return ec.Player.Team, true
		}
	case strings.HasPrefix(field, "punishment."):
		if ec.Punishment == nil {
			return "", false
		}
		switch field {
		case "punishment.type":
			return ec.Punishment.Type, true
		case "punishment.reason":
			return ec.Punishment.Reason, true
		case "punishment.moderator":
			return ec.Punishment.Moderator, true
		}
	case strings.HasPrefix(field, "server."):
		if live == nil {
			return "", false
		}
		switch field {
		case "server.name":
			return live.ServerName, true
		case "server.player_count":
			return strconv.Itoa(live.PlayerCount), true
		case "server.max_players":
			return strconv.Itoa(live.MaxPlayers), true
		}
	case strings.HasPrefix(field, "details."):
		v, ok := ec.Details[strings.TrimPrefix(field, "details.")]
		return v, ok
	}
	return "", false
}

// evaluate applies one condition. Numeric operators coerce both sides
// to floats and fail the condition when either side is not a number.
func evaluate(cond Condition, ec Context, live *LiveState) bool {
	actual, ok := resolveField(cond.Field, ec, live)
	switch cond.Operator {
	case OpEquals:
		return ok && strings.EqualFold(strings.TrimSpace(actual), strings.TrimSpace(cond.Value))
	case OpNotEquals:
		return !ok || !strings.EqualFold(strings.TrimSpace(actual), strings.TrimSpace(cond.Value))
	case OpGreaterThan, OpLessThan:
		if !ok {
			return false
		}
		left, lerr := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		right, rerr := strconv.ParseFloat(strings.TrimSpace(cond.Value), 64)
		if lerr != nil || rerr != nil {
			return false
		}
		if cond.Operator == OpGreaterThan {
			return left > right
		}
		return left < right
	case OpContains:
		return ok && strings.Contains(strings.ToLower(actual), strings.ToLower(cond.Value))
	default:
		return false
	}
}

// conditionsMatch is the implicit AND over the rule's clause list.
func conditionsMatch(conds []Condition, ec Context, live *LiveState) bool {
	for _, cond := range conds {
		if !evaluate(cond, ec, live) {
			return false
		}
	}
	return true
}

// needsLiveState reports whether evaluating or rendering the rule will
// touch server.* data, so the fetch can be skipped otherwise.
func needsLiveState(rule Rule) bool {
	for _, cond := range rule.Conditions {
		if strings.HasPrefix(strings.ToLower(cond.Field), "server.") {
			return true
		}
	}
	for _, action := range rule.Actions {
		for _, s := range []string{action.Content, action.Target} {
			if strings.Contains(s, "{server_name}") || strings.Contains(s, "{player_count}") ||
				strings.Contains(s, "%server_name%") || strings.Contains(s, "%player_count%") {
				return true
			}
		}
	}
	return false
}
