package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"overwatch-command-core/api/internal/models"
	"overwatch-command-core/shared/clients/prc"
	"overwatch-command-core/shared/logx"
	"overwatch-command-core/shared/metricsx"
	"overwatch-command-core/shared/workflow"
)

type CommandStore interface {
	ReclaimStale(ctx context.Context, maxAge time.Duration) (int64, error)
	ServersWithPending(ctx context.Context) ([]uuid.UUID, error)
	ClaimBatch(ctx context.Context, serverID uuid.UUID, limit int) ([]models.QueuedCommand, error)
	MarkCompleted(ctx context.Context, commandID uuid.UUID) error
	MarkFailed(ctx context.Context, commandID uuid.UUID, reason string) error
	CountPending(ctx context.Context) (int, error)
}

type ServerStore interface {
	GetByID(ctx context.Context, serverID uuid.UUID) (models.GameServer, error)
	ListByGuild(ctx context.Context, guildID uuid.UUID) ([]models.GameServer, error)
}

// Executor is the slice of the PRC client the processor needs: a
// reachability probe and command execution.
type Executor interface {
	GetPlayers(ctx context.Context, serverKey string) ([]prc.Player, error)
	ExecuteCommand(ctx context.Context, serverKey string, command string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, cmd models.QueuedCommand) (models.QueuedCommand, error)
}

// Processor drains per-server command queues in bounded batches with a
// pacing delay between commands, so a burst of queued moderation work
// cannot blow through the remote rate budget.
type Processor struct {
	logger   logx.Logger
	store    CommandStore
	servers  ServerStore
	executor Executor
	enqueuer Enqueuer

	batchSize    int
	commandDelay time.Duration
	staleAge     time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

type Config struct {
	BatchSize       int
	CommandDelay    time.Duration
	ProcessingStale time.Duration
}

func NewProcessor(logger logx.Logger, store CommandStore, servers ServerStore, executor Executor, enqueuer Enqueuer, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2
	}
	if cfg.CommandDelay <= 0 {
		cfg.CommandDelay = 6 * time.Second
	}
	if cfg.ProcessingStale <= 0 {
		cfg.ProcessingStale = 10 * time.Minute
	}
	return &Processor{
		logger:       logger,
		store:        store,
		servers:      servers,
		executor:     executor,
		enqueuer:     enqueuer,
		batchSize:    cfg.BatchSize,
		commandDelay: cfg.CommandDelay,
		staleAge:     cfg.ProcessingStale,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// ScanOnce is one pass of the outer scheduling loop: reclaim stale
// claims, then drain every server that has pending work. A failure on
// one server never aborts the scan of the others.
func (p *Processor) ScanOnce(ctx context.Context) error {
	if reclaimed, err := p.store.ReclaimStale(ctx, p.staleAge); err != nil {
		p.logger.Error(ctx, "queue_reclaim_failed", "failed to reclaim stale processing commands",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()))
	} else if reclaimed > 0 {
		p.logger.Warn(ctx, "queue_reclaimed_stale", "returned stale commands to pending",
			slog.Int64("count", reclaimed))
	}

	serverIDs, err := p.store.ServersWithPending(ctx)
	if err != nil {
		return err
	}
	for _, serverID := range serverIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.DrainServer(ctx, serverID); err != nil {
			p.logger.Error(ctx, "queue_drain_failed", "server drain failed, continuing scan",
				slog.String("error_code", "DEPENDENCY_UNAVAILABLE"),
				slog.String("server_id", serverID.String()),
				slog.String("error", err.Error()))
		}
	}

	if pending, err := p.store.CountPending(ctx); err == nil {
		metricsx.SetCommandQueueDepth(pending)
	}
	return nil
}

// DrainServer executes one bounded batch for a single server. The
// server must be reachable and have players online; an empty or
// unreachable server leaves its queue untouched for the next scan.
func (p *Processor) DrainServer(ctx context.Context, serverID uuid.UUID) error {
	server, err := p.servers.GetByID(ctx, serverID)
	if err != nil {
		return err
	}
	if !server.Enabled {
		return nil
	}

	if !p.probe(ctx, server) {
		p.logger.Debug(ctx, "queue_server_not_ready", "server empty or unreachable, deferring drain",
			slog.String("server_id", serverID.String()))
		return nil
	}

	batch, err := p.store.ClaimBatch(ctx, serverID, p.batchSize)
	if err != nil {
		return err
	}

	for i, cmd := range batch {
		if i > 0 {
			if err := p.sleep(ctx, p.commandDelay); err != nil {
				// Shutdown mid-batch: the stale reclaim will recover
				// whatever is still marked processing.
				return err
			}
		}
		p.execute(ctx, server, cmd)
	}
	return nil
}

// probe treats a failed players fetch as "not ready". A server with
// zero players is skipped too: commands against an empty server are
// no-ops at best.
func (p *Processor) probe(ctx context.Context, server models.GameServer) bool {
	players, err := p.executor.GetPlayers(ctx, server.ServerKey)
	if err != nil {
		return false
	}
	return len(players) > 0
}

// execute runs one claimed command to a terminal status. Failures are
// isolated: the caller continues with the rest of the batch.
func (p *Processor) execute(ctx context.Context, server models.GameServer, cmd models.QueuedCommand) {
	if err := p.executor.ExecuteCommand(ctx, server.ServerKey, cmd.Command); err != nil {
		if markErr := p.store.MarkFailed(ctx, cmd.CommandID, err.Error()); markErr != nil {
			p.logger.Error(ctx, "queue_mark_failed_error", "could not record command failure",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("command_id", cmd.CommandID.String()),
				slog.String("error", markErr.Error()))
		}
		metricsx.IncCommandProcessed(workflow.CommandStatusFailed)
		p.logger.Warn(ctx, "queue_command_failed", "queued command execution failed",
			slog.String("command_id", cmd.CommandID.String()),
			slog.String("server_id", server.ServerID.String()),
			slog.String("error", err.Error()))
		return
	}
	if err := p.store.MarkCompleted(ctx, cmd.CommandID); err != nil {
		p.logger.Error(ctx, "queue_mark_completed_error", "could not record command completion",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("command_id", cmd.CommandID.String()),
			slog.String("error", err.Error()))
	}
	metricsx.IncCommandProcessed(workflow.CommandStatusCompleted)
}

// Broadcast fans a command out to every enabled server in the guild
// except the origin. Per server it executes immediately when the server
// is ready, otherwise enqueues; a probe failure defaults to enqueue
// rather than assuming the command landed.
func (p *Processor) Broadcast(ctx context.Context, guildID uuid.UUID, originServerID uuid.UUID, command string, priority int, source string) error {
	servers, err := p.servers.ListByGuild(ctx, guildID)
	if err != nil {
		return err
	}
	for _, server := range servers {
		if !server.Enabled || server.ServerID == originServerID {
			continue
		}
		if p.probe(ctx, server) {
			if err := p.executor.ExecuteCommand(ctx, server.ServerKey, command); err == nil {
				continue
			}
			// Direct send failed; fall through to the durable path.
		}
		if _, err := p.enqueuer.Enqueue(ctx, models.QueuedCommand{
			ServerID: server.ServerID,
			GuildID:  guildID,
			Command:  command,
			Priority: priority,
			Source:   source,
		}); err != nil {
			p.logger.Error(ctx, "broadcast_enqueue_failed", "could not enqueue broadcast command",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("server_id", server.ServerID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
