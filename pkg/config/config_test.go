package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copilot-relay.toml")

	cfg, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if cfg.AccountType != AccountTypeIndividual {
		t.Fatalf("expected individual account type, got %q", cfg.AccountType)
	}
	if cfg.OAuth.ClientID == "" {
		t.Fatal("expected default oauth client id")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written config: %v", err)
	}
	if !strings.Contains(string(b), "device_code_url") {
		t.Fatalf("written config missing oauth section:\n%s", b)
	}

	// Second call must read the file back rather than rewrite it.
	again, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate again: %v", err)
	}
	if again.OAuth.ClientID != cfg.OAuth.ClientID {
		t.Fatalf("reloaded client id mismatch: %q vs %q", again.OAuth.ClientID, cfg.OAuth.ClientID)
	}
}

func TestAPIBaseURLFollowsAccountType(t *testing.T) {
	cfg := NewDefaultConfig()
	cases := []struct {
		accountType string
		want        string
	}{
		{"individual", cfg.API.Individual},
		{"business", cfg.API.Business},
		{"enterprise", cfg.API.Enterprise},
		{"ENTERPRISE", cfg.API.Enterprise},
		{"", cfg.API.Individual},
		{"bogus", cfg.API.Individual},
	}
	for _, tc := range cases {
		cfg.AccountType = tc.accountType
		if got := cfg.APIBaseURL(); got != tc.want {
			t.Errorf("account type %q: got %q want %q", tc.accountType, got, tc.want)
		}
	}
}

func TestNormalizeFillsEmptyFields(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()
	if cfg.ListenAddr == "" {
		t.Fatal("expected listen addr default")
	}
	if cfg.DefaultModel != "gpt-4o" {
		t.Fatalf("unexpected default model %q", cfg.DefaultModel)
	}
	if cfg.TokenRefreshBufferSeconds <= 0 {
		t.Fatal("expected positive refresh buffer")
	}
	if cfg.AccountType != AccountTypeIndividual {
		t.Fatalf("unexpected account type %q", cfg.AccountType)
	}
}

func TestValidateRejectsMissingClientID(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.OAuth.ClientID = " "
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty client id")
	}
}

func TestValidateRejectsTLSWithoutDomain(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.Domain = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for tls without domain")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "copilot-relay.toml")
	body := `
listen_addr = "127.0.0.1:9999"
account_type = "business"
default_model = "claude-3.5-sonnet"

[oauth]
  client_id = "Iv1.deadbeef"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.AccountType != AccountTypeBusiness {
		t.Fatalf("unexpected account type %q", cfg.AccountType)
	}
	if cfg.OAuth.ClientID != "Iv1.deadbeef" {
		t.Fatalf("unexpected client id %q", cfg.OAuth.ClientID)
	}
	// Untouched sections keep their defaults.
	if cfg.OAuth.DeviceCodeURL == "" {
		t.Fatal("expected default device code url to survive override")
	}
}
