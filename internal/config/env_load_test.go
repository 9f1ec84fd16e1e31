package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvFilesProvideToken(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, "bot.env")
	if err := os.WriteFile(dotenv, []byte("# bot secrets\nREFORGE_TEST_FILE_TOKEN=from-file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	// t.Setenv registers cleanup so the value loaded below does not leak
	t.Setenv("REFORGE_TEST_FILE_TOKEN", "")
	if err := os.Unsetenv("REFORGE_TEST_FILE_TOKEN"); err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "reforge.toml")
	data := "env_files = [\"" + filepath.ToSlash(dotenv) + "\", \"" + filepath.ToSlash(filepath.Join(dir, "missing.env")) + "\"]\n" +
		"[chat]\ntoken_env = \"REFORGE_TEST_FILE_TOKEN\"\n"
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.ResolveToken(); got != "from-file" {
		t.Fatalf("token = %q", got)
	}
}

func TestEnvFilesDoNotOverride(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	if err := os.WriteFile(dotenv, []byte("REFORGE_TEST_KEEP=file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REFORGE_TEST_KEEP", "process")
	if err := LoadEnvFiles([]string{dotenv, ""}); err != nil {
		t.Fatalf("load env files: %v", err)
	}
	if os.Getenv("REFORGE_TEST_KEEP") != "process" {
		t.Fatalf("existing variable overridden: %q", os.Getenv("REFORGE_TEST_KEEP"))
	}
}

func TestExplicitTokenWins(t *testing.T) {
	t.Setenv("REFORGE_TEST_TOKEN_ENV", "env")
	c := &Config{Chat: ChatConfig{Token: " inline ", TokenEnv: "REFORGE_TEST_TOKEN_ENV"}}
	if c.ResolveToken() != "inline" {
		t.Fatalf("token = %q", c.ResolveToken())
	}
	c.Chat.Token = ""
	if c.ResolveToken() != "env" {
		t.Fatalf("token = %q", c.ResolveToken())
	}
}
