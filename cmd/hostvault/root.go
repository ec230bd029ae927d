package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dukerupert/hostvault/internal/config"
	"github.com/dukerupert/hostvault/internal/database"
	"github.com/dukerupert/hostvault/internal/logging"
)

// app holds what every subcommand needs once flags are parsed.
type app struct {
	envFile string

	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "hostvault",
		Short:         "Scheduled rsync backups of remote hosts",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger, a.closer = logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file to load (default ./.env if present)")

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newRestoreCmd(a),
		newStatsCmd(a),
		newMigrateCmd(a),
		newSnapshotCmd(a),
	)
	return root
}

func (a *app) ensureDBDir() error {
	if a.cfg.DBPath == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	return nil
}

// openDB opens the catalog, creating its directory on first use.
func (a *app) openDB() (*sql.DB, error) {
	if err := a.ensureDBDir(); err != nil {
		return nil, err
	}
	db, err := database.Open(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
