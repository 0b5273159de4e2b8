package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmynk/pocketledger/internal/identity"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/seed"
	"github.com/mmynk/pocketledger/internal/session"
	"github.com/mmynk/pocketledger/internal/storage/sqlite"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Re-run default data seeding for the active identity",
		Long: `Insert the currency list, starter categories and default preferences
that the active identity is missing. Existing rows are left alone, so the
command is safe to run repeatedly. Do not run it while ledgerd serve is
using the same database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := slog.Default()

			store, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			ids := identity.NewManager(store, logger)
			active := ids.ActiveIdentity(ctx)
			if active.IsZero() {
				return errors.New("no identity on this device yet; run ledgerd serve first")
			}
			variant := schema.LocalOnly
			if v, ok, err := store.Get(ctx, session.KeySyncEnabled); err == nil && ok && v == "true" {
				variant = schema.Synced
			}
			d := schema.For(variant)
			if err := store.UpdateSchema(ctx, d); err != nil {
				return fmt.Errorf("failed to prepare %s schema: %w", variant, err)
			}
			if err := seed.NewSeeder(store, logger, nil).SeedDefaults(ctx, active, d); err != nil {
				return err
			}
			if err := ids.MarkSeeded(ctx, active.ID); err != nil {
				logger.Warn("Failed to clear seed flag", "identity_id", active.ID, "error", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s in %s tables\n", active, variant)
			return nil
		},
	}
}
