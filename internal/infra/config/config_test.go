package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Resolver.APIHost != "api.fxtwitter.com" {
		t.Errorf("APIHost = %q", cfg.Resolver.APIHost)
	}
	if cfg.Bot.StatusReply != "IKIRU" {
		t.Errorf("StatusReply = %q", cfg.Bot.StatusReply)
	}
	if cfg.Bot.RestartDelay != 10*time.Second {
		t.Errorf("RestartDelay = %v", cfg.Bot.RestartDelay)
	}
	if cfg.HTTP.ConnectTimeout != 10*time.Second || cfg.HTTP.Timeout != 140*time.Second {
		t.Errorf("HTTP timeouts = %v / %v", cfg.HTTP.ConnectTimeout, cfg.HTTP.Timeout)
	}
	if !cfg.Matrix.Autojoin {
		t.Error("Autojoin should default to true")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Resolver.GIFHost != "gif.fxtwitter.com" {
		t.Errorf("GIFHost = %q", cfg.Resolver.GIFHost)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
matrix:
  homeserver: https://matrix.example.org
  database: /var/lib/fxbot/fxbot.db
  autojoin: false
resolver:
  api_host: api.example.com
logger:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Matrix.Homeserver != "https://matrix.example.org" {
		t.Errorf("Homeserver = %q", cfg.Matrix.Homeserver)
	}
	if cfg.Matrix.Autojoin {
		t.Error("autojoin should be false")
	}
	if cfg.Resolver.APIHost != "api.example.com" {
		t.Errorf("APIHost = %q", cfg.Resolver.APIHost)
	}
	// Untouched fields keep their defaults.
	if cfg.Resolver.GIFHost != "gif.fxtwitter.com" {
		t.Errorf("GIFHost = %q", cfg.Resolver.GIFHost)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logger.Level)
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	// os.WriteFile's mode is subject to the process umask; force the
	// insecure permissions this test depends on.
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error for 0666 config")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FXBOT_MATRIX_HOMESERVER", "https://hs.example")
	t.Setenv("FXBOT_BOT_TYPING_GRACE", "2500ms")
	t.Setenv("FXBOT_MATRIX_AUTOJOIN", "false")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Matrix.Homeserver != "https://hs.example" {
		t.Errorf("Homeserver = %q", cfg.Matrix.Homeserver)
	}
	if cfg.Bot.TypingGrace != 2500*time.Millisecond {
		t.Errorf("TypingGrace = %v", cfg.Bot.TypingGrace)
	}
	if cfg.Matrix.Autojoin {
		t.Error("autojoin override not applied")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("syt_secret_token", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if enc == "syt_secret_token" {
		t.Fatal("value not encrypted")
	}

	dec, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if dec != "syt_secret_token" {
		t.Errorf("decrypted = %q", dec)
	}

	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptSecretsRequiresKey(t *testing.T) {
	enc, err := EncryptValue("tok", "pw")
	if err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	cfg.Matrix.AccessToken = "enc:" + enc

	t.Setenv("FXBOT_CONFIG_KEY", "")
	if err := decryptSecrets(cfg); err == nil {
		t.Fatal("expected error without FXBOT_CONFIG_KEY")
	}

	t.Setenv("FXBOT_CONFIG_KEY", "pw")
	cfg.Matrix.AccessToken = "enc:" + enc
	if err := decryptSecrets(cfg); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.Matrix.AccessToken != "tok" {
		t.Errorf("AccessToken = %q", cfg.Matrix.AccessToken)
	}
}
