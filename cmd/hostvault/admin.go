package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/hostvault/internal/database"
	"github.com/dukerupert/hostvault/internal/offsite"
	"github.com/dukerupert/hostvault/internal/server"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print catalog statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			srv := server.New(db, a.cfg, a.logger)
			return printJSON(cmd.OutOrStdout(), srv.Stats().Statistics())
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ensureDBDir(); err != nil {
				return err
			}
			if err := database.Migrate(a.cfg.DBPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", a.cfg.DBPath)
			return nil
		},
	}
}

func newSnapshotCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Upload a copy of the catalog database to offsite storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Offsite.Enabled() {
				return errors.New("offsite storage is not configured (set HOSTVAULT_OFFSITE_BUCKET)")
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(contextOf(cmd), 30*time.Minute)
			defer cancel()

			key, err := offsite.New(a.cfg.Offsite, a.logger).SnapshotDatabase(ctx, db, a.cfg.DBPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
