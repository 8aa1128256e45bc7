package models

import (
	"time"

	"github.com/google/uuid"
)

type Guild struct {
	GuildID   uuid.UUID
	Slug      string
	Name      string
	CreatedAt time.Time
}

// GameServer is one Roblox game server owned by a guild. ServerKey is
// the PRC credential used for all API calls against that server.
type GameServer struct {
	ServerID  uuid.UUID
	GuildID   uuid.UUID
	Name      string
	ServerKey string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type QueuedCommand struct {
	CommandID       uuid.UUID
	ServerID        uuid.UUID
	GuildID         uuid.UUID
	Command         string
	Priority        int
	Status          string
	Source          string
	RelatedPlayerID *string
	LastError       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     *time.Time
}

// Automation is a stored trigger/condition/action rule. Conditions and
// Actions are JSON documents parsed by the engine at load time.
type Automation struct {
	AutomationID    uuid.UUID
	GuildID         uuid.UUID
	Name            string
	Trigger         string
	Conditions      []byte
	Actions         []byte
	Enabled         bool
	IntervalMinutes int
	LastRunAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Punishment struct {
	PunishmentID uuid.UUID
	GuildID      uuid.UUID
	ServerID     *uuid.UUID
	PlayerID     string
	PlayerName   string
	Type         string
	Reason       string
	Moderator    string
	IssuedAt     time.Time
}

type Notification struct {
	NotificationID uuid.UUID
	GuildID        uuid.UUID
	Kind           string
	// Target is who or what the notification is about (a player, a
	// server), distinct from the display title.
	Target    string
	Title     string
	Body      string
	ReadAt    *time.Time
	CreatedAt time.Time
}

type ServerStatusSnapshot struct {
	SnapshotID  uuid.UUID
	ServerID    uuid.UUID
	GuildID     uuid.UUID
	PlayerCount int
	MaxPlayers  int
	QueuedJoins int
	CapturedAt  time.Time
}

type AuditLog struct {
	AuditID      uuid.UUID
	OccurredAt   time.Time
	GuildID      uuid.UUID
	Subject      string
	Action       string
	ResourceType *string
	ResourceID   *string
	RequestID    string
	Method       string
	Path         string
	StatusCode   int
	DurationMS   int64
	ClientIP     string
	UserAgent    string
	Details      []byte
}
