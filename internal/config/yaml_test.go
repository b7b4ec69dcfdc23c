package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datagate.yaml")

	content := `
server:
  host: gateway.internal
  port: 9090
  listeners:
    relational-mysql: 3310
auth:
  jwt_secret: test-secret
normalizer:
  public_host: gateway.example.com
  public_port: 443
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}

	if cfg.Server.Host != "gateway.internal" {
		t.Errorf("host = %q, want gateway.internal", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Listeners["relational-mysql"] != 3310 {
		t.Errorf("listeners = %v, want relational-mysql:3310", cfg.Server.Listeners)
	}
	if cfg.Auth.JWTSecret != "test-secret" {
		t.Errorf("jwt_secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Normalizer.PublicHost != "gateway.example.com" {
		t.Errorf("public_host = %q", cfg.Normalizer.PublicHost)
	}

	// Fields the file omits keep their defaults.
	if cfg.Server.ShutdownTimeout != "30s" {
		t.Errorf("shutdown_timeout = %q, want default 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Registry.DataDir != "./data" {
		t.Errorf("data_dir = %q, want default ./data", cfg.Registry.DataDir)
	}
	if len(cfg.Normalizer.InternalPorts) == 0 {
		t.Error("internal_ports default missing")
	}
}

func TestLoadYAMLConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_DATAGATE_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "datagate.yaml")
	content := "auth:\n  jwt_secret: ${TEST_DATAGATE_SECRET}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt_secret = %q, want from-env", cfg.Auth.JWTSecret)
	}
}

func TestLoadYAMLConfigMissingFile(t *testing.T) {
	if _, err := LoadYAMLConfig("/nonexistent/datagate.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datagate.yaml")

	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.MCP.Transport != "stdio" {
		t.Errorf("mcp transport = %q, want stdio", cfg.MCP.Transport)
	}
}
