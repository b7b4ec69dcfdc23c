package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datagate",
		Short: "Unified proxy gateway for databases, object stores, and APIs",
		Long: `DataGate: one gateway in front of all your data backends.

DataGate registers connectors for MySQL, PostgreSQL, ClickHouse, MongoDB,
S3-compatible object stores, and HTTP APIs, stores their credentials
encrypted, and exposes every backend through one uniform token-protected
HTTP surface. Consumers never see a connection string.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./datagate.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the registry database (default: ~/.datagate)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd(version))
	cmd.AddCommand(newConnectorCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newShareCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("datagate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.datagate")
	}

	viper.SetEnvPrefix("DATAGATE")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
