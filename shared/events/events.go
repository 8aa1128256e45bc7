package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	GuildID       uuid.UUID       `json:"guild_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

const (
	TopicPunishments  = "moderation.punishments"
	TopicPlayerEvents = "player.events"
	TopicServerStatus = "server.status"
	TopicAlerts       = "moderation.alerts"
	TopicCommands     = "command.events"
)

const (
	EventPunishmentIssued = "punishment_issued"
	EventPlayerJoined     = "player_joined"
	EventPlayerLeft       = "player_left"
	EventServerCommand    = "server_command"
	EventCommandQueued    = "command_queued"
	EventCommandCompleted = "command_completed"
	EventCommandFailed    = "command_failed"
)

// PunishmentPayload is the payload of TopicPunishments events.
type PunishmentPayload struct {
	PunishmentID string `json:"punishment_id"`
	ServerID     string `json:"server_id"`
	PlayerID     string `json:"player_id"`
	PlayerName   string `json:"player_name"`
	Type         string `json:"type"`
	Reason       string `json:"reason,omitempty"`
	Moderator    string `json:"moderator,omitempty"`
}

// PlayerPayload is the payload of TopicPlayerEvents events.
type PlayerPayload struct {
	ServerID   string `json:"server_id"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Team       string `json:"team,omitempty"`
	Permission int    `json:"permission,omitempty"`
}

// AlertPayload is the payload of TopicAlerts events, forwarded to the
// Discord webhook by the notifier service.
type AlertPayload struct {
	Kind     string `json:"kind"`
	ServerID string `json:"server_id,omitempty"`
	Message  string `json:"message"`
}
