package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shizukutanaka/Kagami/internal/algorithm"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
pool:
  url: wss://pool.example.com:3333
  user: wallet
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.Algorithm != "randomx" {
		t.Errorf("default algorithm = %q, want randomx", cfg.General.Algorithm)
	}
	if cfg.General.BatchSize != 1000 {
		t.Errorf("default batch_size = %d, want 1000", cfg.General.BatchSize)
	}
	if cfg.ResolveThreads() < 1 {
		t.Error("auto-detected thread count must be at least 1")
	}
	if cfg.AlgorithmKind() != algorithm.RandomX {
		t.Errorf("AlgorithmKind = %v, want RandomX", cfg.AlgorithmKind())
	}
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "unknown algorithm",
			content: `
general:
  algorithm: scrypt
pool:
  url: wss://p
  user: u
`,
			wantErr: "unknown algorithm",
		},
		{
			name: "no backend",
			content: `
general:
  algorithm: randomx
`,
			wantErr: "no backend",
		},
		{
			name: "pool missing user",
			content: `
pool:
  url: wss://p
`,
			wantErr: "pool.user",
		},
		{
			name: "node missing wallet",
			content: `
node:
  rpc_url: http://127.0.0.1:18081/json_rpc
`,
			wantErr: "wallet_address",
		},
		{
			name: "zero batch size",
			content: `
general:
  batch_size: 0
pool:
  url: wss://p
  user: u
`,
			wantErr: "batch_size",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestPoolTakesPrecedenceOverNode(t *testing.T) {
	path := writeConfig(t, `
pool:
  url: wss://pool.example.com:3333
  user: wallet
node:
  rpc_url: http://127.0.0.1:18081/json_rpc
  wallet_address: wallet
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.PoolActive() {
		t.Error("pool must take precedence when both backends are configured")
	}
}

func TestExplicitThreadCountWins(t *testing.T) {
	path := writeConfig(t, `
general:
  worker_threads: 3
pool:
  url: wss://p
  user: u
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.ResolveThreads(); got != 3 {
		t.Errorf("ResolveThreads = %d, want 3", got)
	}
}

func TestTemplateParsesAndValidates(t *testing.T) {
	for _, tc := range []struct{ pool, node bool }{
		{pool: true},
		{node: true},
		{pool: true, node: true},
	} {
		path := writeConfig(t, Template(tc.pool, tc.node))
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("template (pool=%v node=%v) does not load: %v", tc.pool, tc.node, err)
		}
		if tc.pool != cfg.PoolActive() {
			t.Errorf("template (pool=%v node=%v): PoolActive = %v", tc.pool, tc.node, cfg.PoolActive())
		}
	}

	// The backend-less template documents settings but cannot mine.
	if _, err := Load(writeConfig(t, Template(false, false))); err == nil {
		t.Error("backend-less template should fail validation")
	}
}
