package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dukerupert/hostvault/internal/server"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a backup job once and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			srv := server.New(db, a.cfg, a.logger)
			result, err := srv.Runner().Execute(contextOf(cmd), jobID)
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("run %d failed: %s", result.RunID, result.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %d completed: %s in %d files\n",
				result.RunID, humanize.IBytes(uint64(result.SizeBytes)), result.FileCount)
			return nil
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "restore <run-id>",
		Short: "Push a run's artifact back to its host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			srv := server.New(db, a.cfg, a.logger)
			result, err := srv.Runner().Restore(contextOf(cmd), runID, path)
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("restore failed: %s", result.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "absolute destination on the host (default: the job's source path)")
	return cmd
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
