package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"bankbridge/internal/domain/banksync"
	"bankbridge/internal/domain/tenant"
	"bankbridge/internal/domain/webhook"
	"bankbridge/internal/infrastructure/postgres"
	"bankbridge/internal/shared/config"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := postgres.New(cfg.Database.ConnectionString())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	var (
		tenantID string
		all      bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync transactions|accounts",
		Short: "Run a sync job now and record it like a scheduled run",
		Long: `Run a transaction or account sync for one tenant or all tenants.

Examples:
  admin sync transactions --tenant acme
  admin sync accounts --all --timeout 10m`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(banksync.JobTransactions), string(banksync.JobAccounts)},
		RunE: func(cmd *cobra.Command, args []string) error {
			jobType, err := banksync.ParseJobType(args[0])
			if err != nil || jobType == banksync.JobReconciliation {
				return fmt.Errorf("unknown sync type %q (expected transactions or accounts)", args[0])
			}
			return runJobs(cmd, jobType, tenantID, all, timeout)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().BoolVar(&all, "all", false, "run for every configured tenant")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "timeout for the whole run")

	return cmd
}

func reconcileCmd() *cobra.Command {
	var (
		tenantID string
		all      bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match completed transactions against unpaid invoices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd, banksync.JobReconciliation, tenantID, all, timeout)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().BoolVar(&all, "all", false, "run for every configured tenant")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "timeout for the whole run")

	return cmd
}

func runJobs(cmd *cobra.Command, jobType banksync.JobType, tenantID string, all bool, timeout time.Duration) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	tenants, err := a.resolveTenants(tenantID, all)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	jobs := a.runner.RunAll(ctx, jobType, tenants)

	out := cmd.OutOrStdout()
	failed := 0
	for _, job := range jobs {
		fmt.Fprintf(out, "%-12s %-15s %-9s synced=%d skipped=%d failed=%d",
			job.TenantID, job.JobType, job.Status, job.RecordsSynced, job.RecordsSkipped, job.RecordsFailed)
		if job.Error != "" {
			fmt.Fprintf(out, " error=%q", job.Error)
			failed++
		}
		fmt.Fprintln(out)
	}

	if failed > 0 || len(jobs) < len(tenants) {
		return fmt.Errorf("%d of %d %s jobs did not complete", len(tenants)-len(jobs)+failed, len(tenants), jobType)
	}
	return nil
}

func statsCmd() *cobra.Command {
	var (
		tenantID string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print account balances and recent transaction totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			tenants, err := a.resolveTenants(tenantID, all)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, id := range tenants {
				stats, err := a.stats.Stats(ctx, id)
				if err != nil {
					return err
				}
				if err := enc.Encode(stats); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().BoolVar(&all, "all", false, "report every configured tenant")

	return cmd
}

func cleanupCmd() *cobra.Command {
	var (
		tenantID  string
		all       bool
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete synced transactions past the retention period",
		Long: `Delete stored transactions created before now minus --older-than.
Durations use Go syntax, so 90 days is 2160h.

Example:
  admin cleanup --all --older-than 2160h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			tenants, err := a.resolveTenants(tenantID, all)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			out := cmd.OutOrStdout()
			for _, id := range tenants {
				res, err := a.cleanup.Cleanup(ctx, id, olderThan)
				if err != nil {
					return fmt.Errorf("cleanup %s: %w", id, err)
				}
				fmt.Fprintf(out, "%-12s deleted=%d cutoff=%s\n", res.TenantID, res.Deleted, res.Cutoff.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().BoolVar(&all, "all", false, "clean every configured tenant")
	cmd.Flags().DurationVar(&olderThan, "older-than", banksync.DefaultRetention, "delete transactions created before this long ago")

	return cmd
}

func tokenStatusCmd() *cobra.Command {
	var (
		tenantID string
		refresh  bool
	)

	cmd := &cobra.Command{
		Use:   "token-status",
		Short: "Show the OAuth token state of each tenant",
		Long: `Show the OAuth token state of each tenant. Tokens are only visible across
processes when ENCRYPTION_KEY is set; --refresh obtains a fresh token first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			tenants := a.tenants.IDs()
			if tenantID != "" {
				if tenants, err = a.resolveTenants(tenantID, false); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, id := range tenants {
				if refresh {
					if err := a.credentials.ForceRefresh(ctx, id); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "refresh %s: %v\n", id, err)
					}
				}
				if err := enc.Encode(a.credentials.Status(ctx, id)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "only this tenant")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "force a token refresh before reporting")

	return cmd
}

func webhookSignCmd() *cobra.Command {
	var (
		tenantID string
		file     string
		secret   string
	)

	cmd := &cobra.Command{
		Use:   "webhook-sign",
		Short: "Compute the signature header for a webhook payload",
		Long: `Compute the X-Revolut-Signature value for a payload, for testing the
webhook endpoint with curl. The secret comes from the tenant registry unless
--secret is given.

Example:
  admin webhook-sign --tenant acme --file event.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			body, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}

			if secret == "" {
				if tenantID == "" {
					return fmt.Errorf("either --tenant or --secret is required")
				}
				secret, err = tenantSecret(tenantID)
				if err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", webhook.SignatureHeader, webhook.Sign(secret, body))
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant whose webhook secret signs the payload")
	cmd.Flags().StringVar(&file, "file", "", "payload file")
	cmd.Flags().StringVar(&secret, "secret", "", "sign with this secret instead of the tenant's")

	return cmd
}

func tenantSecret(tenantID string) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	cred, ok := tenant.NewRegistry(cfg.Tenants).Get(tenantID)
	if !ok {
		return "", fmt.Errorf("unknown tenant %q", tenantID)
	}
	if cred.WebhookSecret == "" {
		return "", fmt.Errorf("tenant %s has no webhook secret", cred.TenantID)
	}
	return cred.WebhookSecret, nil
}
