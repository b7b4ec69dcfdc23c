package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/datagate-io/datagate/internal/auth"
	"github.com/datagate-io/datagate/internal/config"
	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/normalize"
	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/proxy/apiproxy"
	"github.com/datagate-io/datagate/internal/proxy/document"
	"github.com/datagate-io/datagate/internal/proxy/objectstore"
	"github.com/datagate-io/datagate/internal/proxy/relational"
	"github.com/datagate-io/datagate/internal/registry"
	"github.com/datagate-io/datagate/internal/vault"
)

// EnvEncryptionKey names the environment variable holding the vault key.
// There is no flag or config fallback: the key must never land on disk.
const EnvEncryptionKey = "DATAGATE_ENCRYPTION_KEY"

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// DATAGATE_DATA_DIR env var, or ~/.datagate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("DATAGATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.datagate"
}

// openStore opens the SQLite registry store in the resolved data directory.
func openStore() (*registry.Store, error) {
	return registry.NewStore(resolveDataDir())
}

// openStoreAt opens the registry store in an explicit directory, used by
// serve which resolves the directory from the config file.
func openStoreAt(dir string) (*registry.Store, error) {
	if dir == "" {
		dir = resolveDataDir()
	}
	return registry.NewStore(dir)
}

// openVault builds the credential vault from the environment. A missing key
// is a hard startup error: running with unreadable credentials would turn
// every dispatch into a late failure.
func openVault() (*vault.Vault, error) {
	v, err := vault.New(os.Getenv(EnvEncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvEncryptionKey, err)
	}
	return v, nil
}

// newAdapterSet wires one adapter per supported connector family. This is
// the single place the supported set is defined.
func newAdapterSet() (*proxy.Set, error) {
	return proxy.NewSet(
		relational.NewMySQL(),
		relational.NewPostgres(),
		relational.NewClickHouse(),
		document.New(),
		objectstore.New(),
		apiproxy.New(http.DefaultClient),
	)
}

// typePorts converts the config's string-keyed listener map into proxy
// types, rejecting unknown families.
func typePorts(listeners map[string]int) (map[model.ProxyType]int, error) {
	if len(listeners) == 0 {
		return nil, nil
	}
	out := make(map[model.ProxyType]int, len(listeners))
	for name, port := range listeners {
		t := model.ProxyType(name)
		if !t.IsConnectorFamily() {
			return nil, fmt.Errorf("listener %q is not a connector family", name)
		}
		out[t] = port
	}
	return out, nil
}

// newRewriter builds the URL normalizer from config, defaulting the public
// address to the server address.
func newRewriter(cfg *config.YAMLConfig) *normalize.Rewriter {
	host := cfg.Normalizer.PublicHost
	if host == "" {
		host = cfg.Server.Host
	}
	port := cfg.Normalizer.PublicPort
	if port == 0 {
		port = cfg.Server.Port
	}
	return normalize.New(host, port, cfg.Normalizer.InternalPorts)
}

// jwtSecret resolves the management API secret, tolerating a dev default
// only when none is configured.
func jwtSecret(cfg *config.YAMLConfig) string {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret
	}
	return "datagate-dev-secret-change-me"
}

// loadConfig reads the YAML config, falling back to defaults when no file
// exists.
func loadConfig() *config.YAMLConfig {
	path := cfgFile
	if path == "" {
		path = "datagate.yaml"
	}
	if _, err := os.Stat(path); err != nil {
		return config.DefaultYAMLConfig()
	}
	cfg, err := config.LoadYAMLConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v (using defaults)\n", err)
		return config.DefaultYAMLConfig()
	}
	return cfg
}

// mustAuth assembles the auth service for CLI commands that touch tokens.
func mustAuth(store *registry.Store, cfg *config.YAMLConfig) *auth.Service {
	return auth.NewService(store, jwtSecret(cfg))
}

// newCLILogger is a quieter logger for one-shot CLI commands.
func newCLILogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// connectorByIDOrName resolves a CLI argument to a connector, accepting
// either the numeric ID or the connector name.
func connectorByIDOrName(store *registry.Store, arg string) (*model.Connector, error) {
	ctx := context.Background()
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return store.GetConnector(ctx, id)
	}
	return store.GetConnectorByName(ctx, arg)
}
