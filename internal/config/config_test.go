package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/registry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
data_dir: /tmp/budgeteer
user_id: user-1
remote:
  base_url: https://api.example.com
  token: secret
tables:
  - name: transactions
    strategy: merge
    merge_fields: [description]
    priority_fields: [amount]
  - name: budgets
`

// TestLoad verifies file values and defaults.
func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DataDir != "/tmp/budgeteer" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Remote.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q", cfg.Remote.BaseURL)
	}

	// Defaults fill the gaps.
	if cfg.Storage != "sqlite" {
		t.Errorf("default Storage = %q, want sqlite", cfg.Storage)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("default Sync.Interval = %v", cfg.Sync.Interval)
	}
	if cfg.Remote.Timeout != 30*time.Second {
		t.Errorf("default Remote.Timeout = %v", cfg.Remote.Timeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q", cfg.Log.Level)
	}

	if len(cfg.Tables) != 2 {
		t.Fatalf("Tables = %+v", cfg.Tables)
	}
	if cfg.Tables[0].Strategy != "merge" || cfg.Tables[0].PriorityFields[0] != "amount" {
		t.Errorf("Tables[0] = %+v", cfg.Tables[0])
	}
}

// TestLoad_envOverride verifies BUDGETEER_* variables supply values the
// file omits, including keys that have no default.
func TestLoad_envOverride(t *testing.T) {
	t.Setenv("BUDGETEER_USER_ID", "env-user")
	t.Setenv("BUDGETEER_REMOTE_TOKEN", "env-token")
	t.Setenv("BUDGETEER_STORAGE", "file")

	cfg, err := Load(writeConfig(t, `
remote:
  base_url: https://api.example.com
tables:
  - name: transactions
`))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.UserID != "env-user" {
		t.Errorf("UserID = %q, want env-user", cfg.UserID)
	}
	if cfg.Remote.Token != "env-token" {
		t.Errorf("Remote.Token = %q, want env-token", cfg.Remote.Token)
	}
	if cfg.Storage != "file" {
		t.Errorf("Storage = %q, want file", cfg.Storage)
	}
}

// TestLoad_validation verifies the required fields.
func TestLoad_validation(t *testing.T) {
	cases := map[string]string{
		"missing base_url": `
user_id: user-1
tables: [{name: transactions}]
`,
		"missing user_id": `
remote: {base_url: https://api.example.com}
tables: [{name: transactions}]
`,
		"no tables": `
user_id: user-1
remote: {base_url: https://api.example.com}
`,
		"bad storage": `
storage: redis
user_id: user-1
remote: {base_url: https://api.example.com}
tables: [{name: transactions}]
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); !errors.Is(err, errors.ErrConfig) {
				t.Errorf("err = %v, want CONFIG_ERROR", err)
			}
		})
	}
}

// TestLoad_missingFile verifies a bad path is an error.
func TestLoad_missingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); !errors.Is(err, errors.ErrConfig) {
		t.Errorf("err = %v, want CONFIG_ERROR", err)
	}
}

// TestRegistry verifies the table registry is built from config.
func TestRegistry(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("Registry() failed: %v", err)
	}

	p, err := reg.Lookup("transactions")
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	if p.Strategy != registry.StrategyMerge {
		t.Errorf("Strategy = %q", p.Strategy)
	}

	// Unset strategy falls back to server-wins.
	p, err = reg.Lookup("budgets")
	if err != nil {
		t.Fatalf("Lookup(budgets) failed: %v", err)
	}
	if p.Strategy != registry.StrategyServer {
		t.Errorf("budgets Strategy = %q, want server", p.Strategy)
	}
}

// TestRegistry_badStrategy verifies registration failures surface.
func TestRegistry_badStrategy(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
user_id: user-1
remote: {base_url: https://api.example.com}
tables: [{name: transactions, strategy: newest-wins}]
`))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if _, err := cfg.Registry(); !errors.Is(err, errors.ErrConfig) {
		t.Errorf("err = %v, want CONFIG_ERROR", err)
	}
}
