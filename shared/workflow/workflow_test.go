package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	if !CanTransition(CommandStatusPending, CommandStatusProcessing) {
		t.Fatalf("expected pending -> processing to be allowed")
	}
	if !CanTransition(CommandStatusProcessing, CommandStatusCompleted) {
		t.Fatalf("expected processing -> completed to be allowed")
	}
	if CanTransition(CommandStatusCompleted, CommandStatusProcessing) {
		t.Fatalf("expected completed -> processing to be blocked")
	}
	if CanTransition(CommandStatusFailed, CommandStatusPending) {
		t.Fatalf("expected failed -> pending to be blocked")
	}
}

func TestReclaimTransition(t *testing.T) {
	if !CanTransition(CommandStatusProcessing, CommandStatusPending) {
		t.Fatalf("expected processing -> pending (stale reclaim) to be allowed")
	}
}

func TestEventTypeForTransition(t *testing.T) {
	ev := EventTypeForTransition(CommandStatusPending, CommandStatusProcessing)
	if ev != CommandEventClaimed {
		t.Fatalf("expected %q, got %q", CommandEventClaimed, ev)
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(CommandStatusPending) || IsTerminal(CommandStatusProcessing) {
		t.Fatalf("pending/processing must not be terminal")
	}
	if !IsTerminal(CommandStatusCompleted) || !IsTerminal(CommandStatusFailed) {
		t.Fatalf("completed/failed must be terminal")
	}
}
