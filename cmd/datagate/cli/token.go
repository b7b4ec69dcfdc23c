package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/datagate-io/datagate/internal/auth"
	"github.com/datagate-io/datagate/internal/model"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
		Long: `Mint, list, and revoke the bearer tokens callers present on proxy
requests. The raw token is printed exactly once at mint time; only its
hash is stored.`,
	}

	cmd.AddCommand(newTokenMintCmd())
	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenRevokeCmd())

	return cmd
}

// ---------- token mint ----------

func newTokenMintCmd() *cobra.Command {
	var (
		connector string
		resource  string
		label     string
		expiresIn string
	)

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a new access token for a connector",
		Example: `  datagate token mint --connector OrdersDB --label reporting
  datagate token mint --connector 3 --resource orders --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenMint(connector, resource, label, expiresIn)
		},
	}

	cmd.Flags().StringVar(&connector, "connector", "", "Connector ID or name the token grants access to (required)")
	cmd.Flags().StringVar(&resource, "resource", "", "Restrict the token to one table/collection/prefix")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Token lifetime as a Go duration, e.g. 720h (default: never)")
	cmd.MarkFlagRequired("connector")

	return cmd
}

func runTokenMint(connector, resource, label, expiresIn string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	conn, err := connectorByIDOrName(store, connector)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if expiresIn != "" {
		d, err := time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("invalid --expires-in %q: %w", expiresIn, err)
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}

	raw, err := auth.GenerateToken()
	if err != nil {
		return err
	}

	tok := &model.AccessToken{
		TokenHash:   auth.HashToken(raw),
		TokenPrefix: auth.TokenPrefix(raw),
		ConnectorID: conn.ID,
		Resource:    resource,
		Label:       label,
		IsActive:    true,
		ExpiresAt:   expiresAt,
	}
	if err := store.CreateToken(context.Background(), tok); err != nil {
		return err
	}

	fmt.Printf("Minted token %d for connector %q\n\n", tok.ID, conn.Name)
	fmt.Printf("  %s\n\n", raw)
	fmt.Println("This is the only time the token is shown. Store it now.")
	return nil
}

// ---------- token list ----------

func newTokenListCmd() *cobra.Command {
	var (
		connector  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List access tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenList(connector, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&connector, "connector", "", "Only tokens for this connector ID or name")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runTokenList(connector string, jsonOutput bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	var connectorID int64
	if connector != "" {
		conn, err := connectorByIDOrName(store, connector)
		if err != nil {
			return err
		}
		connectorID = conn.ID
	}

	tokens, err := store.ListTokens(ctx, connectorID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tokens)
	}

	if len(tokens) == 0 {
		fmt.Println("No tokens. Use 'datagate token mint' to create one.")
		return nil
	}

	fmt.Printf("%-5s %-14s %-12s %-16s %-20s %-8s %-16s\n", "ID", "PREFIX", "CONNECTOR", "RESOURCE", "LABEL", "ACTIVE", "EXPIRES")
	for _, t := range tokens {
		expires := "never"
		if t.ExpiresAt != nil {
			expires = t.ExpiresAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-5d %-14s %-12d %-16s %-20s %-8v %-16s\n",
			t.ID, t.TokenPrefix, t.ConnectorID, t.Resource, t.Label, t.IsActive, expires)
	}
	return nil
}

// ---------- token revoke ----------

func newTokenRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke an access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid token id %q", args[0])
			}
			return runTokenRevoke(id)
		},
	}
	return cmd
}

func runTokenRevoke(id int64) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RevokeToken(context.Background(), id); err != nil {
		return err
	}
	fmt.Printf("Revoked token %d\n", id)
	return nil
}
