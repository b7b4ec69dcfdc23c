package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxy"
)

func newConnectorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connector",
		Short: "Manage data connectors",
		Long:  "Register, list, test, and remove the backend connectors DataGate proxies.",
	}

	cmd.AddCommand(newConnectorAddCmd())
	cmd.AddCommand(newConnectorListCmd())
	cmd.AddCommand(newConnectorTestCmd())
	cmd.AddCommand(newConnectorRemoveCmd())

	return cmd
}

// ---------- connector add ----------

func newConnectorAddCmd() *cobra.Command {
	var (
		name         string
		typ          string
		alias        string
		host         string
		port         int
		database     string
		bucket       string
		region       string
		baseURL      string
		endpoint     string
		useTLS       bool
		username     string
		accessKey    string
		readOnly     bool
		defaultQuery string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new connector",
		Long: `Register a backend connector. The secret part of the credentials
(password, secret key, or API key) is always prompted, never passed as a
flag, so it cannot leak through shell history.`,
		Example: `  datagate connector add --name OrdersDB --type relational-mysql \
      --host db.internal --database orders --username reader
  datagate connector add --name Exports --type object-storage \
      --bucket exports --region eu-west-1 --access-key AKIA...
  datagate connector add --name Billing --type generic-api \
      --base-url https://billing.internal/api --endpoint v1/invoices`,
		RunE: func(cmd *cobra.Command, args []string) error {
			proxyType := model.ProxyType(typ)
			if !proxyType.IsConnectorFamily() {
				return fmt.Errorf("unsupported type %q (valid: %s)", typ, joinTypes())
			}

			secret, err := promptSecret(secretLabel(proxyType))
			if err != nil {
				return err
			}

			cfg := model.ConnectionConfig{
				Host:     host,
				Port:     port,
				Database: database,
				Bucket:   bucket,
				Region:   region,
				BaseURL:  baseURL,
				Endpoint: endpoint,
				UseTLS:   useTLS,
			}
			creds := model.Credentials{Username: username, AccessKey: accessKey}
			switch proxyType {
			case model.TypeObjectS3:
				creds.SecretKey = secret
			case model.TypeGenericAPI:
				creds.APIKey = secret
			default:
				creds.Password = secret
			}

			return runConnectorAdd(name, proxyType, alias, readOnly, defaultQuery, cfg, creds)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Connector name, used as the resource path segment (required)")
	cmd.Flags().StringVar(&typ, "type", "", "Proxy type: "+joinTypes()+" (required)")
	cmd.Flags().StringVar(&alias, "alias", "", "Default table/collection/prefix for queries")
	cmd.Flags().StringVar(&host, "host", "", "Backend host")
	cmd.Flags().IntVar(&port, "port", 0, "Backend port (0 = family default)")
	cmd.Flags().StringVar(&database, "database", "", "Database name")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket name (object-storage)")
	cmd.Flags().StringVar(&region, "region", "", "Region (object-storage)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL (generic-api) or custom S3 endpoint")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Default endpoint path (generic-api) or S3 endpoint URL")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "Connect to the backend over TLS")
	cmd.Flags().StringVar(&username, "username", "", "Backend username")
	cmd.Flags().StringVar(&accessKey, "access-key", "", "Access key ID (object-storage)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Refuse mutating queries through this connector")
	cmd.Flags().StringVar(&defaultQuery, "default-query", "", "Query to run when the caller supplies none")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("type")

	return cmd
}

func runConnectorAdd(name string, typ model.ProxyType, alias string, readOnly bool, defaultQuery string, cfg model.ConnectionConfig, creds model.Credentials) error {
	v, err := openVault()
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cfgCipher, err := v.EncryptConfig(cfg)
	if err != nil {
		return fmt.Errorf("encrypt config: %w", err)
	}
	credsCipher, err := v.EncryptCredentials(creds)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	conn := &model.Connector{
		Name:         name,
		Type:         typ,
		Alias:        alias,
		ConfigCipher: cfgCipher,
		CredsCipher:  credsCipher,
		ReadOnly:     readOnly,
		IsActive:     true,
		DefaultQuery: defaultQuery,
	}
	if err := store.CreateConnector(context.Background(), conn); err != nil {
		return err
	}

	fmt.Printf("Registered connector %q (id %d, type %s)\n", name, conn.ID, typ)
	fmt.Printf("Mint a token with: datagate token mint --connector %d\n", conn.ID)
	return nil
}

// ---------- connector list ----------

func newConnectorListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnectorList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runConnectorList(jsonOutput bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	conns, err := store.ListConnectors(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		type row struct {
			ID         int64           `json:"id"`
			Name       string          `json:"name"`
			Type       model.ProxyType `json:"type"`
			ReadOnly   bool            `json:"read_only"`
			IsActive   bool            `json:"is_active"`
			TestStatus string          `json:"test_status"`
		}
		rows := make([]row, len(conns))
		for i, c := range conns {
			rows[i] = row{c.ID, c.Name, c.Type, c.ReadOnly, c.IsActive, c.TestStatus}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(conns) == 0 {
		fmt.Println("No connectors registered. Use 'datagate connector add' to register one.")
		return nil
	}

	fmt.Printf("%-5s %-24s %-22s %-10s %-8s %-10s\n", "ID", "NAME", "TYPE", "READ-ONLY", "ACTIVE", "TEST")
	for _, c := range conns {
		fmt.Printf("%-5d %-24s %-22s %-10v %-8v %-10s\n", c.ID, c.Name, c.Type, c.ReadOnly, c.IsActive, c.TestStatus)
	}
	return nil
}

// ---------- connector test ----------

func newConnectorTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <connector-id>",
		Short: "Probe a connector's backend and record the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnectorTest(args[0])
		},
	}
	return cmd
}

func runConnectorTest(idArg string) error {
	v, err := openVault()
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	conn, err := connectorByIDOrName(store, idArg)
	if err != nil {
		return err
	}

	adapters, err := newAdapterSet()
	if err != nil {
		return err
	}
	cfg := loadConfig()
	dispatcher := proxy.NewDispatcher(
		proxy.DispatcherConfig{ProxyHost: cfg.Server.Host, ProxyPort: cfg.Server.Port},
		store, v, mustAuth(store, cfg), adapters, newRewriter(cfg), newCLILogger(),
	)

	if err := dispatcher.Probe(context.Background(), conn); err != nil {
		fmt.Printf("Connector %q test FAILED: %v\n", conn.Name, err)
		return nil
	}
	fmt.Printf("Connector %q test OK\n", conn.Name)
	return nil
}

// ---------- connector remove ----------

func newConnectorRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <connector-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a connector (deactivates it when tokens or shares still reference it)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnectorRemove(args[0])
		},
	}
	return cmd
}

func runConnectorRemove(idArg string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	conn, err := connectorByIDOrName(store, idArg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := store.DeleteConnector(ctx, conn.ID); err != nil {
		if derr := store.DeactivateConnector(ctx, conn.ID); derr != nil {
			return derr
		}
		fmt.Printf("Connector %q is still referenced; deactivated instead of removed\n", conn.Name)
		return nil
	}
	fmt.Printf("Removed connector %q\n", conn.Name)
	return nil
}

// promptSecret reads a secret from the terminal without echo.
func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	fmt.Println()
	return string(raw), nil
}

func secretLabel(t model.ProxyType) string {
	switch t {
	case model.TypeObjectS3:
		return "Secret access key"
	case model.TypeGenericAPI:
		return "API key (empty for none)"
	default:
		return "Password"
	}
}

func joinTypes() string {
	types := model.ConnectorTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
