package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/datagate-io/datagate/internal/auth"
	"github.com/datagate-io/datagate/internal/model"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
		Long:  "Create and list the operator accounts that can manage DataGate through the management API.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new admin account",
		Example: `  datagate admin create --email ops@example.com   # prompts for password
  datagate admin create --email ops@example.com --password <pw>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (prompted if omitted)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runAdminCreate(email, password string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	// Prompt for password if not provided
	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	admin := &model.Admin{
		Email:        email,
		PasswordHash: auth.HashToken(password),
		IsActive:     true,
	}
	if err := store.CreateAdmin(context.Background(), admin); err != nil {
		return err
	}

	fmt.Printf("Created admin account %q (id %d)\n", email, admin.ID)
	return nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all admin accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(jsonOutput bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	admins, err := store.ListAdmins(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(admins)
	}

	if len(admins) == 0 {
		fmt.Println("No admin accounts. Use 'datagate admin create' to add one.")
		return nil
	}

	fmt.Printf("%-5s %-32s %-8s %-20s\n", "ID", "EMAIL", "ACTIVE", "LAST LOGIN")
	for _, a := range admins {
		lastLogin := "never"
		if a.LastLoginAt != nil {
			lastLogin = a.LastLoginAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-5d %-32s %-8v %-20s\n", a.ID, a.Email, a.IsActive, lastLogin)
	}
	return nil
}
