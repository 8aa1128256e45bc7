package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"overwatch-command-core/api/internal/models"
	"overwatch-command-core/shared/workflow"
)

type CommandRepo struct {
	pool *pgxpool.Pool
}

func NewCommandRepo(pool *pgxpool.Pool) *CommandRepo {
	return &CommandRepo{pool: pool}
}

const commandColumns = `command_id, server_id, guild_id, command, priority, status, source, related_player_id, last_error, created_at, updated_at, processed_at`

func scanCommand(row interface{ Scan(...any) error }, c *models.QueuedCommand) error {
	return row.Scan(
		&c.CommandID, &c.ServerID, &c.GuildID, &c.Command, &c.Priority, &c.Status,
		&c.Source, &c.RelatedPlayerID, &c.LastError, &c.CreatedAt, &c.UpdatedAt, &c.ProcessedAt,
	)
}

func (r *CommandRepo) Enqueue(ctx context.Context, db DBTX, cmd models.QueuedCommand) (models.QueuedCommand, error) {
	if cmd.CommandID == uuid.Nil {
		cmd.CommandID = uuid.New()
	}
	if cmd.Status == "" {
		cmd.Status = workflow.CommandStatusPending
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	if cmd.UpdatedAt.IsZero() {
		cmd.UpdatedAt = cmd.CreatedAt
	}

	row := db.QueryRow(ctx, `
		INSERT INTO queued_commands (
			`+commandColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		RETURNING `+commandColumns+`
	`, cmd.CommandID, cmd.ServerID, cmd.GuildID, cmd.Command, cmd.Priority, cmd.Status,
		cmd.Source, cmd.RelatedPlayerID, cmd.LastError, cmd.CreatedAt, cmd.UpdatedAt, cmd.ProcessedAt)
	if err := scanCommand(row, &cmd); err != nil {
		return models.QueuedCommand{}, err
	}
	return cmd, nil
}

func (r *CommandRepo) GetByID(ctx context.Context, commandID uuid.UUID) (models.QueuedCommand, error) {
	var cmd models.QueuedCommand
	err := scanCommand(r.pool.QueryRow(ctx, `
		SELECT `+commandColumns+`
		FROM queued_commands
		WHERE command_id = $1
	`, commandID), &cmd)
	return cmd, err
}

// ListByServer returns a server's queue in dispatch order: highest
// priority first, oldest first within a priority.
func (r *CommandRepo) ListByServer(ctx context.Context, serverID uuid.UUID, statuses []string, limit int) ([]models.QueuedCommand, error) {
	if limit <= 0 {
		limit = 100
	}
	if len(statuses) == 0 {
		statuses = workflow.AllCommandStatuses()
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+commandColumns+`
		FROM queued_commands
		WHERE server_id = $1 AND status = ANY($2)
		ORDER BY priority DESC, created_at ASC
		LIMIT $3
	`, serverID, statuses, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cmds := make([]models.QueuedCommand, 0, limit)
	for rows.Next() {
		var cmd models.QueuedCommand
		if err := scanCommand(rows, &cmd); err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// ServersWithPending returns the distinct servers that currently have
// pending commands, so the scan loop only touches live queues.
func (r *CommandRepo) ServersWithPending(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT server_id
		FROM queued_commands
		WHERE status = $1
	`, workflow.CommandStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimBatch atomically moves up to limit pending commands for one
// server to processing and returns them. Concurrent workers skip each
// other's rows instead of double-claiming.
func (r *CommandRepo) ClaimBatch(ctx context.Context, serverID uuid.UUID, limit int) ([]models.QueuedCommand, error) {
	if limit <= 0 {
		limit = 2
	}
	rows, err := r.pool.Query(ctx, `
		WITH candidates AS (
			SELECT command_id
			FROM queued_commands
			WHERE server_id = $1 AND status = $2
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		UPDATE queued_commands q
		SET status = $4, updated_at = now()
		FROM candidates c
		WHERE q.command_id = c.command_id
		RETURNING q.command_id, q.server_id, q.guild_id, q.command, q.priority, q.status,
			q.source, q.related_player_id, q.last_error, q.created_at, q.updated_at, q.processed_at
	`, serverID, workflow.CommandStatusPending, limit, workflow.CommandStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cmds := make([]models.QueuedCommand, 0, limit)
	for rows.Next() {
		var cmd models.QueuedCommand
		if err := scanCommand(rows, &cmd); err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (r *CommandRepo) MarkCompleted(ctx context.Context, commandID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE queued_commands
		SET status = $2, processed_at = now(), last_error = NULL, updated_at = now()
		WHERE command_id = $1 AND status = $3
	`, commandID, workflow.CommandStatusCompleted, workflow.CommandStatusProcessing)
	return err
}

func (r *CommandRepo) MarkFailed(ctx context.Context, commandID uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE queued_commands
		SET status = $2, processed_at = now(), last_error = $3, updated_at = now()
		WHERE command_id = $1 AND status = $4
	`, commandID, workflow.CommandStatusFailed, reason, workflow.CommandStatusProcessing)
	return err
}

// ReclaimStale returns commands stuck in processing longer than maxAge
// back to pending. Covers workers that died mid-batch.
func (r *CommandRepo) ReclaimStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queued_commands
		SET status = $1, updated_at = now()
		WHERE status = $2 AND updated_at < now() - $3::interval
	`, workflow.CommandStatusPending, workflow.CommandStatusProcessing, maxAge.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *CommandRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM queued_commands WHERE status = $1
	`, workflow.CommandStatusPending).Scan(&n)
	return n, err
}
