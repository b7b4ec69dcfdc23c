package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage DataGate configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default datagate.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

const defaultConfig = `# DataGate Configuration

server:
  host: 0.0.0.0
  port: 8080
  shutdown_timeout: 30s
  cors:
    allowed_origins:
      - "*"
  # Dedicated per-family listeners. Requests on these ports accept only
  # the named proxy type; the main port serves every family.
  # listeners:
  #   relational-mysql: 3310
  #   object-storage: 9010

# SQLite registry (connectors, tokens, share links, admins)
registry:
  data_dir: ./data

# Management API authentication.
# The credential vault key is NOT configurable here: set the
# DATAGATE_ENCRYPTION_KEY environment variable before starting.
auth:
  jwt_secret: ""  # Set via DATAGATE_AUTH_JWT_SECRET env var
  jwt_expiry: 24h

# Proxied-payload URL rewriting
normalizer:
  public_host: ""   # defaults to server.host
  public_port: 0    # defaults to server.port

# MCP server
mcp:
  enabled: false
  transport: stdio

# Logging
logging:
  level: info    # debug, info, warn, error
  format: text   # text or json
`

func runConfigInit(force bool) error {
	path := "datagate.yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Edit the file to taste, export DATAGATE_ENCRYPTION_KEY, then run 'datagate serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigShow() error {
	// Ensure config is loaded
	initConfig()

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("Config file: %s\n", configFile)
	} else {
		fmt.Println("Config file: (none found, using defaults)")
	}
	fmt.Println()

	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("No configuration settings loaded.")
		fmt.Println("Run 'datagate config init' to create a default configuration file.")
		return nil
	}

	for key, value := range settings {
		fmt.Printf("  %s: %v\n", key, value)
	}

	return nil
}
