package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradeguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/tradeguard")

	cfg, err := load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDriver != DriverPostgres || cfg.Port != "8080" || cfg.WorkerInterval != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	s, err := cfg.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.MinWithdrawal != 100 || s.HoldTTL != 168*time.Hour {
		t.Fatalf("unexpected settings %+v", s)
	}
	if got := s.Fees.PlatformFee(2300); got != 115 {
		t.Fatalf("expected fee 115, got %d", got)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeYAML(t, `
db_driver: sqlite
db_source: /var/lib/tradeguard/ledger.db
port: "9090"
log:
  level: debug
reputation:
  base_url: http://reputation.internal
  timeout: 5s
policy:
  platform_fee_rate: "0.07"
  min_withdrawal: 500
  hold_ttl: 48h
  release:
    auto_trust: 4.7
    auto_reliability: 98
    otp_trust: 4.1
`)
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("REPUTATION_API_KEY", "secret")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDriver != DriverSQLite || cfg.DBSource != "/var/lib/tradeguard/ledger.db" {
		t.Fatalf("unexpected db settings %+v", cfg)
	}
	if cfg.Port != "7070" {
		t.Fatalf("expected env to win for port, got %s", cfg.Port)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Reputation.BaseURL != "http://reputation.internal" || cfg.Reputation.APIKey != "secret" || cfg.Reputation.Timeout != 5*time.Second {
		t.Fatalf("unexpected reputation config %+v", cfg.Reputation)
	}

	s, err := cfg.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.MinWithdrawal != 500 || s.HoldTTL != 48*time.Hour || s.Thresholds.AutoTrust != 4.7 {
		t.Fatalf("unexpected settings %+v", s)
	}
	if got := s.Fees.PlatformFee(1000); got != 70 {
		t.Fatalf("expected fee 70, got %d", got)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing source", map[string]string{}},
		{"unknown driver", map[string]string{"DB_SOURCE": "x", "DB_DRIVER": "mysql"}},
		{"bad minimum", map[string]string{"DB_SOURCE": "x", "MIN_WITHDRAWAL": "0"}},
		{"bad duration", map[string]string{"DB_SOURCE": "x", "HOLD_TTL": "soon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DB_SOURCE", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := load(""); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestSettingsRejectsBadRates(t *testing.T) {
	cases := []struct {
		name, fee, retention string
	}{
		{"fee not a number", "five", "0.2"},
		{"fee of one", "1", "0.2"},
		{"negative retention", "0.05", "-0.1"},
		{"retention above one", "0.05", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Policy.PlatformFeeRate = tc.fee
			cfg.Policy.BoostCancelRetention = tc.retention
			if _, err := cfg.Settings(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
