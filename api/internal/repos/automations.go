package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"overwatch-command-core/api/internal/models"
)

type AutomationRepo struct {
	pool *pgxpool.Pool
}

func NewAutomationRepo(pool *pgxpool.Pool) *AutomationRepo {
	return &AutomationRepo{pool: pool}
}

const automationColumns = `automation_id, guild_id, name, trigger, conditions, actions, enabled, interval_minutes, last_run_at, created_at, updated_at`

func scanAutomation(row interface{ Scan(...any) error }, a *models.Automation) error {
	return row.Scan(
		&a.AutomationID, &a.GuildID, &a.Name, &a.Trigger, &a.Conditions, &a.Actions,
		&a.Enabled, &a.IntervalMinutes, &a.LastRunAt, &a.CreatedAt, &a.UpdatedAt,
	)
}

func (r *AutomationRepo) Create(ctx context.Context, db DBTX, automation models.Automation) (models.Automation, error) {
	if automation.AutomationID == uuid.Nil {
		automation.AutomationID = uuid.New()
	}
	now := time.Now().UTC()
	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}
	if automation.UpdatedAt.IsZero() {
		automation.UpdatedAt = now
	}
	row := db.QueryRow(ctx, `
		INSERT INTO automations (`+automationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+automationColumns+`
	`, automation.AutomationID, automation.GuildID, automation.Name, automation.Trigger,
		automation.Conditions, automation.Actions, automation.Enabled, automation.IntervalMinutes,
		automation.LastRunAt, automation.CreatedAt, automation.UpdatedAt)
	if err := scanAutomation(row, &automation); err != nil {
		return models.Automation{}, err
	}
	return automation, nil
}

func (r *AutomationRepo) GetByID(ctx context.Context, automationID uuid.UUID) (models.Automation, error) {
	var automation models.Automation
	err := scanAutomation(r.pool.QueryRow(ctx, `
		SELECT `+automationColumns+`
		FROM automations
		WHERE automation_id = $1
	`, automationID), &automation)
	return automation, err
}

// ListEnabledByTrigger returns every enabled rule for a trigger across
// all guilds; callers filter by guild when dispatching an event.
func (r *AutomationRepo) ListEnabledByTrigger(ctx context.Context, trigger string) ([]models.Automation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+automationColumns+`
		FROM automations
		WHERE enabled AND trigger = $1
		ORDER BY created_at ASC
	`, trigger)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAutomations(rows)
}

func (r *AutomationRepo) ListByGuild(ctx context.Context, guildID uuid.UUID) ([]models.Automation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+automationColumns+`
		FROM automations
		WHERE guild_id = $1
		ORDER BY created_at ASC
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAutomations(rows)
}

func (r *AutomationRepo) SetEnabled(ctx context.Context, automationID uuid.UUID, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE automations
		SET enabled = $2, updated_at = now()
		WHERE automation_id = $1
	`, automationID, enabled)
	return err
}

// TouchLastRun records that the rule fired. Set after all actions were
// attempted so one bad action does not suppress the run record.
func (r *AutomationRepo) TouchLastRun(ctx context.Context, automationID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE automations
		SET last_run_at = $2, updated_at = now()
		WHERE automation_id = $1
	`, automationID, at.UTC())
	return err
}

func collectAutomations(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]models.Automation, error) {
	var automations []models.Automation
	for rows.Next() {
		var automation models.Automation
		if err := scanAutomation(rows, &automation); err != nil {
			return nil, err
		}
		automations = append(automations, automation)
	}
	return automations, rows.Err()
}
