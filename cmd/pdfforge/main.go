package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcourtman/pdfforge/internal/auth"
	"github.com/rcourtman/pdfforge/internal/config"
	"github.com/rcourtman/pdfforge/internal/plans"
	"github.com/rcourtman/pdfforge/internal/server"
	"github.com/rcourtman/pdfforge/internal/store"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var runServer = server.Run

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pdfforge",
		Short:        "PDFForge - metered HTML to PDF rendering API",
		Version:      Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), Version)
		},
	}
	root.AddCommand(newServeCmd(), newVersionCmd(), newAccountCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), Version)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "PDFForge %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func newAccountCmd() *cobra.Command {
	account := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	var email, plan string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account with an active plan and print its first API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, ok := plans.ParseTier(plan)
			if !ok {
				return fmt.Errorf("unknown plan %q (want starter, professional or enterprise)", plan)
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return createAccount(cmd.Context(), cmd.OutOrStdout(), cfg, email, tier)
		},
	}
	create.Flags().StringVar(&email, "email", "", "account email")
	create.Flags().StringVar(&plan, "plan", string(plans.Starter), "plan tier")
	_ = create.MarkFlagRequired("email")

	account.AddCommand(create)
	return account
}

func createAccount(ctx context.Context, out io.Writer, cfg *config.ServiceConfig, email string, tier plans.Tier) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	p, err := auth.Provision(ctx, db, email, tier)
	if err != nil {
		return fmt.Errorf("provision account: %w", err)
	}
	fmt.Fprintf(out, "Account: %s\n", p.AccountID)
	fmt.Fprintf(out, "Plan:    %s\n", p.Tier)
	fmt.Fprintf(out, "API key: %s\n", p.Secret)
	fmt.Fprintln(out, "Store this key now; it cannot be shown again.")
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
