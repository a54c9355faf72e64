package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Sizing.Debounce != 500*time.Millisecond {
		t.Errorf("debounce = %v, want 500ms", cfg.Sizing.Debounce)
	}
	if cfg.Sizing.Precision != 6 {
		t.Errorf("precision = %d, want 6", cfg.Sizing.Precision)
	}
	if cfg.Matching.PushInterval != 501*time.Millisecond {
		t.Errorf("push interval = %v, want 501ms", cfg.Matching.PushInterval)
	}
	if cfg.Matching.Decimals != 18 {
		t.Errorf("decimals = %d, want 18", cfg.Matching.Decimals)
	}
	if cfg.Matching.OrderExpiry != 7*24*time.Hour {
		t.Errorf("order expiry = %v, want 1 week", cfg.Matching.OrderExpiry)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("SIZING_DEBOUNCE_MS", "50")
	t.Setenv("MATCHING_PUSH_INTERVAL_MS", "10")
	t.Setenv("API_ALLOWED_ORIGINS", "http://a,http://b")
	t.Setenv("SIGNER_PRIVATE_KEY", "0xabcdef")
	t.Setenv("CHAIN_ID", "1337")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	if cfg.Sizing.Debounce != 50*time.Millisecond {
		t.Errorf("debounce = %v, want 50ms", cfg.Sizing.Debounce)
	}
	if cfg.Matching.PushInterval != 10*time.Millisecond {
		t.Errorf("push interval = %v, want 10ms", cfg.Matching.PushInterval)
	}
	if len(cfg.API.AllowedOrigins) != 2 || cfg.API.AllowedOrigins[1] != "http://b" {
		t.Errorf("allowed origins = %v", cfg.API.AllowedOrigins)
	}
	if cfg.Chain.PrivateKeyHex != "abcdef" {
		t.Errorf("private key = %q, want 0x prefix stripped", cfg.Chain.PrivateKeyHex)
	}
	if cfg.Chain.ChainID != 1337 {
		t.Errorf("chain id = %d, want 1337", cfg.Chain.ChainID)
	}
}

func TestLoadFromEnv_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MATCHING_PAIR=ZRX-DAI\n"), 0644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("MATCHING_PAIR") })

	cfg := LoadFromEnv(path)
	if cfg.Matching.Pair != "ZRX-DAI" {
		t.Errorf("pair = %q, want ZRX-DAI", cfg.Matching.Pair)
	}
}

func TestLoadFromEnv_BadDurationKeepsDefault(t *testing.T) {
	t.Setenv("SIZING_DEBOUNCE_MS", "soon")
	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if cfg.Sizing.Debounce != 500*time.Millisecond {
		t.Errorf("debounce = %v, want default", cfg.Sizing.Debounce)
	}
}
