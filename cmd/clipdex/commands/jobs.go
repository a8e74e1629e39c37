package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clipdex/clipdex/errors"
	"github.com/clipdex/clipdex/job"
	"github.com/clipdex/clipdex/kv"
)

// NewJobsCommand inspects classification jobs through the ledger.
func NewJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect classification jobs",
	}
	cmd.AddCommand(newJobsGetCommand())
	cmd.AddCommand(newJobsProgressCommand())
	return cmd
}

func openLedger(cmd *cobra.Command) (*job.Ledger, *job.ProgressPublisher, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := sql.Open("sqlite3", cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "failed to open database %s", cfg.Database.Path)
	}
	store, err := kv.NewSQLite(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	ledger := job.NewLedger(store, cfg.Jobs.ActiveTTL(), cfg.Jobs.TerminalTTL())
	progress := job.NewProgressPublisher(store, cfg.Jobs.ActiveTTL())
	return ledger, progress, func() { db.Close() }, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to render output")
	}
	fmt.Println(string(out))
	return nil
}

func newJobsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job's ledger record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, _, closeDB, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			j, err := ledger.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(j)
		},
	}
}

func newJobsProgressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <owner-id>",
		Short: "Show an owner's progress projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, progress, closeDB, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			prog, err := progress.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(prog)
		},
	}
}
