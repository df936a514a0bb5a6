package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CLINIC_TIMEZONE", "")
	t.Setenv("SLOT_DURATION", "")
	t.Setenv("INTENT_HISTORY_WINDOW", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.SlotDuration != 30*time.Minute {
		t.Fatalf("expected 30m slot, got %s", cfg.SlotDuration)
	}
	if cfg.IntentWindow != 5 {
		t.Fatalf("expected intent window 5, got %d", cfg.IntentWindow)
	}
	if cfg.ReminderSameDayLead != 3*time.Hour {
		t.Fatalf("expected 3h same-day lead, got %s", cfg.ReminderSameDayLead)
	}
	if cfg.ClinicTimezone != "America/Sao_Paulo" {
		t.Fatalf("expected Sao Paulo timezone, got %s", cfg.ClinicTimezone)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LLM_PROVIDER", "  Bedrock ")
	t.Setenv("NLP_TIMEOUT", "4s")
	t.Setenv("PII_MIGRATE_LEGACY", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("REMINDER_DAY_BEFORE_HOUR", "18")
	t.Setenv("WORKER_COUNT", "not-a-number")

	cfg := Load()
	if cfg.Port != "9090" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.LLMProvider != "bedrock" {
		t.Fatalf("expected normalized provider, got %q", cfg.LLMProvider)
	}
	if cfg.NLPTimeout != 4*time.Second {
		t.Fatalf("expected 4s timeout, got %s", cfg.NLPTimeout)
	}
	if !cfg.PIIMigrateLegacy {
		t.Fatal("expected legacy migration enabled")
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected 2.5 rps, got %v", cfg.RateLimitRPS)
	}
	if cfg.ReminderDayBeforeHour != 18 {
		t.Fatalf("expected hour 18, got %d", cfg.ReminderDayBeforeHour)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected default worker count for invalid value, got %d", cfg.WorkerCount)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{ClinicTimezone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback")
	}
}
