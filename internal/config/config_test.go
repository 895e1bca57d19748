package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Polling.Interval != 500*time.Millisecond {
		t.Errorf("Polling.Interval = %v, want 500ms", cfg.Polling.Interval)
	}
	if cfg.Edge.MinEdgeStrong != 0.05 || cfg.Edge.MinEdgeUnreliable != 0.30 {
		t.Errorf("edge ladder = %+v", cfg.Edge)
	}
	if cfg.Terminal.MaxBetUSDC != 30 || cfg.Terminal.MaxBetsPerWindow != 1 {
		t.Errorf("terminal = %+v", cfg.Terminal)
	}
	if !cfg.Exit.OnlyStrongConfidence || cfg.Exit.MinSecondsRemaining != 300 {
		t.Errorf("exit = %+v", cfg.Exit)
	}
	if cfg.Terminal.TakeProfit.Enabled {
		t.Error("take profit should be disabled by default")
	}
	if n := len(cfg.Terminal.TakeProfit.Targets); n != 3 {
		t.Errorf("take profit targets = %d, want 3", n)
	}
	if cfg.Coordination.KeyPrefix != "btc_bot:" {
		t.Errorf("KeyPrefix = %q", cfg.Coordination.KeyPrefix)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")
	path := writeYAML(t, `
polling:
  interval: 250ms
exit_strategy:
  enabled: false
  only_strong_confidence: false
terminal_strategy:
  min_edge: 0.2
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Polling.Interval != 250*time.Millisecond {
		t.Errorf("Polling.Interval = %v", cfg.Polling.Interval)
	}
	if cfg.Exit.Enabled || cfg.Exit.OnlyStrongConfidence {
		t.Errorf("explicit false must survive defaults: %+v", cfg.Exit)
	}
	if cfg.Terminal.MinEdge != 0.2 {
		t.Errorf("Terminal.MinEdge = %f", cfg.Terminal.MinEdge)
	}
	if cfg.Terminal.CooldownSeconds != 30 {
		t.Errorf("unset fields keep defaults, got cooldown %d", cfg.Terminal.CooldownSeconds)
	}
	if cfg.Secrets.RedisURL != "redis://localhost:6379/0" || cfg.Secrets.TelegramChatID != 12345 {
		t.Errorf("secrets = %+v", cfg.Secrets)
	}
}

func TestValidateRejectsBadLadders(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "edges not increasing",
			yaml: "edge:\n  min_edge_strong: 0.10\n  min_edge_moderate: 0.07\n",
			want: "min edges",
		},
		{
			name: "multipliers not increasing",
			yaml: "betting:\n  confidence_multipliers:\n    weak: 0.7\n    moderate: 0.6\n",
			want: "multipliers",
		},
		{
			name: "empty entry window",
			yaml: "timing:\n  min_seconds_elapsed: 600\n  min_seconds_remaining: 300\n",
			want: "entry window",
		},
		{
			name: "kelly fraction out of range",
			yaml: "betting:\n  kelly_fraction: 1.5\n",
			want: "KellyFraction",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeYAML(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLiveModeRequiresKey(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("ETH_PRIVATE_KEY", "")
	if _, err := LoadFile(""); err == nil || !strings.Contains(err.Error(), "ETH_PRIVATE_KEY") {
		t.Fatalf("err = %v, want missing key error", err)
	}
}
