package dispatch

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"overwatch-command-core/api/internal/models"
	"overwatch-command-core/shared/clients/prc"
	"overwatch-command-core/shared/logx"
	"overwatch-command-core/shared/workflow"
)

type fakeStore struct {
	pendingByServer map[uuid.UUID][]models.QueuedCommand
	completed       []uuid.UUID
	failed          map[uuid.UUID]string
	reclaimed       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pendingByServer: map[uuid.UUID][]models.QueuedCommand{},
		failed:          map[uuid.UUID]string{},
	}
}

func (s *fakeStore) ReclaimStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	return s.reclaimed, nil
}

func (s *fakeStore) ServersWithPending(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, cmds := range s.pendingByServer {
		if len(cmds) > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) ClaimBatch(ctx context.Context, serverID uuid.UUID, limit int) ([]models.QueuedCommand, error) {
	pending := s.pendingByServer[serverID]
	// Highest priority first, insertion order within a tier, matching
	// the repo's claim ordering.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority > pending[j].Priority
	})
	if len(pending) > limit {
		s.pendingByServer[serverID] = pending[limit:]
		pending = pending[:limit]
	} else {
		s.pendingByServer[serverID] = nil
	}
	return pending, nil
}

func (s *fakeStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	s.completed = append(s.completed, id)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	s.failed[id] = reason
	return nil
}

func (s *fakeStore) CountPending(ctx context.Context) (int, error) {
	n := 0
	for _, cmds := range s.pendingByServer {
		n += len(cmds)
	}
	return n, nil
}

type fakeServers struct {
	servers map[uuid.UUID]models.GameServer
}

func (s *fakeServers) GetByID(ctx context.Context, id uuid.UUID) (models.GameServer, error) {
	server, ok := s.servers[id]
	if !ok {
		return models.GameServer{}, errors.New("not found")
	}
	return server, nil
}

func (s *fakeServers) ListByGuild(ctx context.Context, guildID uuid.UUID) ([]models.GameServer, error) {
	var out []models.GameServer
	for _, server := range s.servers {
		if server.GuildID == guildID {
			out = append(out, server)
		}
	}
	return out, nil
}

type fakeExec struct {
	playersByKey map[string][]prc.Player
	probeErrs    map[string]error
	executed     []string
	failCommands map[string]error
}

func (e *fakeExec) GetPlayers(ctx context.Context, serverKey string) ([]prc.Player, error) {
	if err := e.probeErrs[serverKey]; err != nil {
		return nil, err
	}
	return e.playersByKey[serverKey], nil
}

func (e *fakeExec) ExecuteCommand(ctx context.Context, serverKey string, command string) error {
	if err := e.failCommands[command]; err != nil {
		return err
	}
	e.executed = append(e.executed, serverKey+"|"+command)
	return nil
}

type fakeEnqueuer struct {
	enqueued []models.QueuedCommand
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, cmd models.QueuedCommand) (models.QueuedCommand, error) {
	e.enqueued = append(e.enqueued, cmd)
	return cmd, nil
}

type fixture struct {
	proc     *Processor
	store    *fakeStore
	servers  *fakeServers
	exec     *fakeExec
	enqueuer *fakeEnqueuer
	sleeps   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		servers:  &fakeServers{servers: map[uuid.UUID]models.GameServer{}},
		exec:     &fakeExec{playersByKey: map[string][]prc.Player{}, probeErrs: map[string]error{}, failCommands: map[string]error{}},
		enqueuer: &fakeEnqueuer{},
	}
	f.proc = NewProcessor(logx.New("dispatch-test", "test", "", "error"),
		f.store, f.servers, f.exec, f.enqueuer,
		Config{BatchSize: 2, CommandDelay: 6 * time.Second, ProcessingStale: 10 * time.Minute})
	f.proc.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func (f *fixture) addServer(guildID uuid.UUID, key string, online int, enabled bool) uuid.UUID {
	id := uuid.New()
	f.servers.servers[id] = models.GameServer{
		ServerID: id, GuildID: guildID, Name: "srv-" + key, ServerKey: key, Enabled: enabled,
	}
	players := make([]prc.Player, online)
	for i := range players {
		players[i] = prc.Player{Player: "P:1"}
	}
	f.exec.playersByKey[key] = players
	return id
}

func (f *fixture) addPending(serverID uuid.UUID, command string, priority int) uuid.UUID {
	id := uuid.New()
	f.store.pendingByServer[serverID] = append(f.store.pendingByServer[serverID], models.QueuedCommand{
		CommandID: id, ServerID: serverID, Command: command, Priority: priority,
		Status: workflow.CommandStatusPending,
	})
	return id
}

func TestDrainExecutesBatchWithPacing(t *testing.T) {
	f := newFixture(t)
	guild := uuid.New()
	server := f.addServer(guild, "sk-1", 3, true)
	a := f.addPending(server, ":ban 1", 0)
	b := f.addPending(server, ":ban 2", 0)
	f.addPending(server, ":ban 3", 0)

	if err := f.proc.DrainServer(context.Background(), server); err != nil {
		t.Fatalf("DrainServer: %v", err)
	}
	if len(f.exec.executed) != 2 {
		t.Fatalf("batch size 2 must execute exactly 2 commands, got %v", f.exec.executed)
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != 6*time.Second {
		t.Fatalf("expected one 6s pacing delay between commands, got %v", f.sleeps)
	}
	if len(f.store.completed) != 2 || f.store.completed[0] != a || f.store.completed[1] != b {
		t.Fatalf("expected %v and %v completed in order, got %v", a, b, f.store.completed)
	}
	if n, _ := f.store.CountPending(context.Background()); n != 1 {
		t.Fatalf("third command must stay pending, %d left", n)
	}
}

func TestDrainClaimsHighestPriorityFirst(t *testing.T) {
	f := newFixture(t)
	guild := uuid.New()
	server := f.addServer(guild, "sk-1", 3, true)
	lowFirst := f.addPending(server, ":ban low-first", 1)
	high := f.addPending(server, ":ban high", 5)
	f.addPending(server, ":ban low-second", 1)

	if err := f.proc.DrainServer(context.Background(), server); err != nil {
		t.Fatalf("DrainServer: %v", err)
	}
	want := []string{"sk-1|:ban high", "sk-1|:ban low-first"}
	if len(f.exec.executed) != 2 || f.exec.executed[0] != want[0] || f.exec.executed[1] != want[1] {
		t.Fatalf("expected priority order %v, got %v", want, f.exec.executed)
	}
	if len(f.store.completed) != 2 || f.store.completed[0] != high || f.store.completed[1] != lowFirst {
		t.Fatalf("expected %v then %v completed, got %v", high, lowFirst, f.store.completed)
	}
	// The claimed commands left the pending set, so a second drain can
	// only pick up the remaining low-priority command.
	if n, _ := f.store.CountPending(context.Background()); n != 1 {
		t.Fatalf("expected one command left pending, got %d", n)
	}
}

func TestDrainSkipsEmptyServer(t *testing.T) {
	f := newFixture(t)
	guild := uuid.New()
	server := f.addServer(guild, "sk-1", 0, true)
	f.addPending(server, ":ban 1", 0)

	if err := f.proc.DrainServer(context.Background(), server); err != nil {
		t.Fatalf("DrainServer: %v", err)
	}
	if len(f.exec.executed) != 0 {
		t.Fatalf("empty server must not execute, got %v", f.exec.executed)
	}
	if n, _ := f.store.CountPending(context.Background()); n != 1 {
		t.Fatalf("command must remain pending")
	}
}

func TestDrainSkipsUnreachableServer(t *testing.T) {
	f := newFixture(t)
	guild := uuid.New()
	server := f.addServer(guild, "sk-1", 5, true)
	f.exec.probeErrs["sk-1"] = errors.New("timeout")
	f.addPending(server, ":ban 1", 0)

	if err := f.proc.DrainServer(context.Background(), server); err != nil {
		t.Fatalf("DrainServer: %v", err)
	}
	if len(f.exec.executed) != 0 {
		t.Fatalf("unreachable server must not execute")
	}
}

func TestPerItemFailureIsolation(t *testing.T) {
	f := newFixture(t)
	guild := uuid.New()
	server := f.addServer(guild, "sk-1", 3, true)
	bad := f.addPending(server, ":ban bad", 0)
	good := f.addPending(server, ":ban good", 0)
	f.exec.failCommands[":ban bad"] = errors.New("boom")

	if err := f.proc.DrainServer(context.Background(), server); err != nil {
		t.Fatalf("DrainServer: %v", err)
	}
	if _, ok := f.store.failed[bad]; !ok {
		t.Fatalf("first command must be marked failed")
	}
	if len(f.store.completed) != 1 || f.store.completed[0] != good {
		t.Fatalf("second command must still complete, got %v", f.store.completed)
	}
}

func TestScanIsolatesServerFailures(t *testing.T) {
	f := newFixture(t)
	guild := uuid.New()
	broken := f.addServer(guild, "sk-broken", 2, true)
	healthy := f.addServer(guild, "sk-ok", 2, true)
	f.exec.probeErrs["sk-broken"] = errors.New("down")
	f.addPending(broken, ":ban 1", 0)
	f.addPending(healthy, ":ban 2", 0)

	if err := f.proc.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if len(f.exec.executed) != 1 || f.exec.executed[0] != "sk-ok|:ban 2" {
		t.Fatalf("healthy server must still drain, got %v", f.exec.executed)
	}
}

func TestBroadcastExecutesOrEnqueues(t *testing.T) {
	f := newFixture(t)
	guild := uuid.New()
	origin := f.addServer(guild, "sk-origin", 3, true)
	ready := f.addServer(guild, "sk-ready", 3, true)
	empty := f.addServer(guild, "sk-empty", 0, true)
	probeFail := f.addServer(guild, "sk-down", 3, true)
	f.exec.probeErrs["sk-down"] = errors.New("timeout")
	disabled := f.addServer(guild, "sk-disabled", 3, false)

	if err := f.proc.Broadcast(context.Background(), guild, origin, ":ban 123", 3, "broadcast"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(f.exec.executed) != 1 || f.exec.executed[0] != "sk-ready|:ban 123" {
		t.Fatalf("only the ready server executes directly, got %v", f.exec.executed)
	}

	enqueuedServers := map[uuid.UUID]bool{}
	for _, cmd := range f.enqueuer.enqueued {
		enqueuedServers[cmd.ServerID] = true
	}
	if !enqueuedServers[empty] || !enqueuedServers[probeFail] {
		t.Fatalf("empty and probe-failed servers must be enqueued, got %v", enqueuedServers)
	}
	if enqueuedServers[origin] || enqueuedServers[disabled] || enqueuedServers[ready] {
		t.Fatalf("origin/disabled/ready servers must not be enqueued, got %v", enqueuedServers)
	}
}
