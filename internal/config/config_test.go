package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "INITIAL_GRANT_CREDITS")
	unsetEnvWithCleanup(t, "GENERATION_COST_CREDITS")
	unsetEnvWithCleanup(t, "CREDITS_PER_PACK")
	unsetEnvWithCleanup(t, "PACK_PRICE_CENTS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("expected default ServerPort 8080, got %q", cfg.ServerPort)
	}
	if cfg.InitialGrantCredits != 25 {
		t.Errorf("expected default InitialGrantCredits 25, got %d", cfg.InitialGrantCredits)
	}
	if cfg.GenerationCostCredits != 1 {
		t.Errorf("expected default GenerationCostCredits 1, got %d", cfg.GenerationCostCredits)
	}
	if cfg.CreditsPerPack != 100 || cfg.PackPriceCents != 500 {
		t.Errorf("expected default pack of 100 credits at 500 cents, got %d at %d", cfg.CreditsPerPack, cfg.PackPriceCents)
	}
	if cfg.RedisRateLimitPrefix != "creditsvc:rate_limit" {
		t.Errorf("expected default rate limit prefix, got %q", cfg.RedisRateLimitPrefix)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to override SERVER_PORT, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesBadCreditValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INITIAL_GRANT_CREDITS", "-10")
	setEnvWithCleanup(t, "GENERATION_COST_CREDITS", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InitialGrantCredits != 0 {
		t.Errorf("expected negative grant coerced to 0, got %d", cfg.InitialGrantCredits)
	}
	if cfg.GenerationCostCredits != 1 {
		t.Errorf("expected zero generation cost coerced to 1, got %d", cfg.GenerationCostCredits)
	}
}

func TestLoadConfig_TrimsAppBaseURL(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "APP_BASE_URL", "https://app.example.com/ ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AppBaseURL != "https://app.example.com" {
		t.Fatalf("expected trimmed AppBaseURL, got %q", cfg.AppBaseURL)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
