// Package sinks adapts the repositories to the narrow write interfaces the
// automation engine and queue dispatcher depend on.
package sinks

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"overwatch-command-core/api/internal/models"
	"overwatch-command-core/api/internal/repos"
)

type CommandSink struct {
	Repo *repos.CommandRepo
	Pool *pgxpool.Pool
}

func (s CommandSink) Enqueue(ctx context.Context, cmd models.QueuedCommand) (models.QueuedCommand, error) {
	return s.Repo.Enqueue(ctx, s.Pool, cmd)
}

type NotificationSink struct {
	Repo *repos.NotificationRepo
	Pool *pgxpool.Pool
}

func (s NotificationSink) Notify(ctx context.Context, guildID uuid.UUID, kind string, target string, body string) error {
	_, err := s.Repo.Insert(ctx, s.Pool, models.Notification{
		GuildID: guildID,
		Kind:    kind,
		Target:  target,
		Body:    body,
	})
	return err
}

type PunishmentSink struct {
	Repo *repos.PunishmentRepo
	Pool *pgxpool.Pool
}

func (s PunishmentSink) RecordWarning(ctx context.Context, p models.Punishment) error {
	_, err := s.Repo.Insert(ctx, s.Pool, p)
	return err
}

type AuditSink struct {
	Repo *repos.AuditRepo
}

func (s AuditSink) Record(ctx context.Context, entry models.AuditLog) error {
	return s.Repo.Insert(ctx, entry)
}
