package config

import "testing"

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestParseAnyCSV(t *testing.T) {
	raw := []any{"x", " ", "y"}
	got := parseAnyCSV(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	cfg, problems := Load("svc", 8080)
	for _, p := range problems {
		if p.Field == "ENV" {
			t.Fatalf("ENV should be satisfied: %#v", problems)
		}
	}
	if cfg.PRCTimeoutMS != 8000 {
		t.Fatalf("expected default PRC_TIMEOUT_MS 8000, got %d", cfg.PRCTimeoutMS)
	}
	if cfg.QueueBatchSize != 2 {
		t.Fatalf("expected default QUEUE_BATCH_SIZE 2, got %d", cfg.QueueBatchSize)
	}
	if cfg.QueueCommandDelayMS != 6000 {
		t.Fatalf("expected default QUEUE_COMMAND_DELAY_MS 6000, got %d", cfg.QueueCommandDelayMS)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("PRC_RETRY_MAX", "5")
	t.Setenv("QUEUE_SCAN_SECONDS", "15")
	cfg, _ := Load("svc", 8080)
	if cfg.PRCRetryMax != 5 {
		t.Fatalf("expected PRC_RETRY_MAX 5, got %d", cfg.PRCRetryMax)
	}
	if cfg.QueueScanSec != 15 {
		t.Fatalf("expected QUEUE_SCAN_SECONDS 15, got %d", cfg.QueueScanSec)
	}
}

func TestLoadRejectsBadInt(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("QUEUE_BATCH_SIZE", "two")
	cfg, problems := Load("svc", 8080)
	found := false
	for _, p := range problems {
		if p.Field == "QUEUE_BATCH_SIZE" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a QUEUE_BATCH_SIZE problem, got %#v", problems)
	}
	if cfg.QueueBatchSize != 2 {
		t.Fatalf("expected fallback batch size 2, got %d", cfg.QueueBatchSize)
	}
}
