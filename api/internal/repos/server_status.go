package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"overwatch-command-core/api/internal/models"
)

type ServerStatusRepo struct {
	pool *pgxpool.Pool
}

func NewServerStatusRepo(pool *pgxpool.Pool) *ServerStatusRepo {
	return &ServerStatusRepo{pool: pool}
}

func (r *ServerStatusRepo) Insert(ctx context.Context, snapshot models.ServerStatusSnapshot) (models.ServerStatusSnapshot, error) {
	if snapshot.SnapshotID == uuid.Nil {
		snapshot.SnapshotID = uuid.New()
	}
	if snapshot.CapturedAt.IsZero() {
		snapshot.CapturedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO server_status_snapshots (snapshot_id, server_id, guild_id, player_count, max_players, queued_joins, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING snapshot_id
	`, snapshot.SnapshotID, snapshot.ServerID, snapshot.GuildID, snapshot.PlayerCount,
		snapshot.MaxPlayers, snapshot.QueuedJoins, snapshot.CapturedAt).
		Scan(&snapshot.SnapshotID)
	return snapshot, err
}

func (r *ServerStatusRepo) Latest(ctx context.Context, serverID uuid.UUID) (models.ServerStatusSnapshot, error) {
	var snapshot models.ServerStatusSnapshot
	err := r.pool.QueryRow(ctx, `
		SELECT snapshot_id, server_id, guild_id, player_count, max_players, queued_joins, captured_at
		FROM server_status_snapshots
		WHERE server_id = $1
		ORDER BY captured_at DESC
		LIMIT 1
	`, serverID).Scan(
		&snapshot.SnapshotID, &snapshot.ServerID, &snapshot.GuildID, &snapshot.PlayerCount,
		&snapshot.MaxPlayers, &snapshot.QueuedJoins, &snapshot.CapturedAt,
	)
	return snapshot, err
}

// Prune drops snapshots older than the retention window.
func (r *ServerStatusRepo) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM server_status_snapshots
		WHERE captured_at < now() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
