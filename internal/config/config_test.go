package config

import (
	"testing"
	"time"
)

func TestLoadServerRequiresSigningSecret(testContext *testing.T) {
	configViper := NewViper()
	if _, err := LoadServer(configViper); err == nil {
		testContext.Fatalf("expected missing signing secret error")
	}

	configViper.Set("auth.signing_secret", "secret")
	cfg, err := LoadServer(configViper)
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		testContext.Fatalf("expected default address, got %q", cfg.HTTPAddress)
	}
	if cfg.TokenTTL != 720*time.Minute {
		testContext.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
}

func TestLoadServerReadsEnvironment(testContext *testing.T) {
	testContext.Setenv("CLASSNOTES_AUTH_SIGNING_SECRET", "from-env")
	testContext.Setenv("CLASSNOTES_DATABASE_PATH", "/tmp/portal.db")

	cfg, err := LoadServer(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.SigningSecret != "from-env" || cfg.DatabasePath != "/tmp/portal.db" {
		testContext.Fatalf("environment not applied: %+v", cfg)
	}
}

func TestLoadClientDefaults(testContext *testing.T) {
	cfg, err := LoadClient(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.RemoteURL != defaultRemoteURL {
		testContext.Fatalf("unexpected remote url %q", cfg.RemoteURL)
	}
	if cfg.SyncMaxAttempts != 1 {
		testContext.Fatalf("expected single sync attempt, got %d", cfg.SyncMaxAttempts)
	}
	if cfg.ViewportWidth != defaultViewportWidth || cfg.ViewportHeight != defaultViewportHeight {
		testContext.Fatalf("unexpected viewport %vx%v", cfg.ViewportWidth, cfg.ViewportHeight)
	}
}

func TestLoadClientRejectsInvalidValues(testContext *testing.T) {
	cases := map[string]func(values map[string]any){
		"relative url":  func(values map[string]any) { values["remote.url"] = "portal.local" },
		"zero attempts": func(values map[string]any) { values["sync.max_attempts"] = 0 },
		"empty local":   func(values map[string]any) { values["local.path"] = " " },
		"zero viewport": func(values map[string]any) { values["viewport.height"] = 0 },
	}
	for name, mutate := range cases {
		testContext.Run(name, func(t *testing.T) {
			values := map[string]any{}
			mutate(values)
			configViper := NewViper()
			for key, value := range values {
				configViper.Set(key, value)
			}
			if _, err := LoadClient(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadServerSplitsAllowedOrigins(testContext *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("http.allowed_origins", []string{"https://school.example.com", "https://staff.example.com"})

	cfg, err := LoadServer(configViper)
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://staff.example.com" {
		testContext.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadAdminNeedsOnlyDatabase(testContext *testing.T) {
	cfg, err := LoadAdmin(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		testContext.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}

	configViper := NewViper()
	configViper.Set("database.path", "")
	if _, err := LoadAdmin(configViper); err == nil {
		testContext.Fatalf("expected an empty database path to be rejected")
	}
}
