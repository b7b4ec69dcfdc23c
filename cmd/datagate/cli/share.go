package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/datagate-io/datagate/internal/auth"
	"github.com/datagate-io/datagate/internal/model"
)

// defaultShareTTL mirrors the management API default of one week.
const defaultShareTTL = 168 * time.Hour

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Manage share links",
		Long: `Mint, list, and revoke public share links. A share link grants
read-only access to one connector resource until it expires; no token
is required to use it.`,
	}

	cmd.AddCommand(newShareMintCmd())
	cmd.AddCommand(newShareListCmd())
	cmd.AddCommand(newShareRevokeCmd())

	return cmd
}

// ---------- share mint ----------

func newShareMintCmd() *cobra.Command {
	var (
		connector string
		resource  string
		expiresIn string
	)

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a new share link for a connector resource",
		Example: `  datagate share mint --connector OrdersDB --resource orders
  datagate share mint --connector 3 --resource exports/2026 --expires-in 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareMint(connector, resource, expiresIn)
		},
	}

	cmd.Flags().StringVar(&connector, "connector", "", "Connector ID or name (required)")
	cmd.Flags().StringVar(&resource, "resource", "", "Table/collection/prefix the link exposes (required)")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Link lifetime as a Go duration (default 168h)")
	cmd.MarkFlagRequired("connector")
	cmd.MarkFlagRequired("resource")

	return cmd
}

func runShareMint(connector, resource, expiresIn string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	conn, err := connectorByIDOrName(store, connector)
	if err != nil {
		return err
	}

	ttl := defaultShareTTL
	if expiresIn != "" {
		ttl, err = time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("invalid --expires-in %q: %w", expiresIn, err)
		}
	}

	link := &model.ShareLink{
		ShareID:     auth.GenerateShareID(),
		ConnectorID: conn.ID,
		Resource:    resource,
		ExpiresAt:   time.Now().UTC().Add(ttl),
		IsActive:    true,
	}
	if err := store.CreateShareLink(context.Background(), link); err != nil {
		return err
	}

	fmt.Printf("Minted share link for %q/%s\n\n", conn.Name, resource)
	fmt.Printf("  /shared/%s\n\n", link.ShareID)
	fmt.Printf("Expires %s\n", link.ExpiresAt.Format(time.RFC3339))
	return nil
}

// ---------- share list ----------

func newShareListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List share links",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runShareList(jsonOutput bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	links, err := store.ListShareLinks(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(links)
	}

	if len(links) == 0 {
		fmt.Println("No share links. Use 'datagate share mint' to create one.")
		return nil
	}

	now := time.Now()
	fmt.Printf("%-24s %-12s %-20s %-8s %-6s %-16s\n", "SHARE ID", "CONNECTOR", "RESOURCE", "ACTIVE", "USES", "EXPIRES")
	for _, l := range links {
		expires := l.ExpiresAt.Format("2006-01-02 15:04")
		if l.Expired(now) {
			expires += " (expired)"
		}
		fmt.Printf("%-24s %-12d %-20s %-8v %-6d %-16s\n",
			l.ShareID, l.ConnectorID, l.Resource, l.IsActive, l.UseCount, expires)
	}
	return nil
}

// ---------- share revoke ----------

func newShareRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <share-id>",
		Short: "Revoke a share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareRevoke(args[0])
		},
	}
	return cmd
}

func runShareRevoke(shareID string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RevokeShareLink(context.Background(), shareID); err != nil {
		return err
	}
	fmt.Printf("Revoked share link %s\n", shareID)
	return nil
}
