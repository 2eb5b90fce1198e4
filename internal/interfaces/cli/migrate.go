package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/molcore/internal/infrastructure/database/postgres"
	"github.com/turtacn/molcore/pkg/errors"
)

// schemaMigrator is the record store schema tooling. Tests swap it out.
var schemaMigrator = struct {
	up     func(dsn string) error
	down   func(dsn string, steps int) error
	force  func(dsn string, version int) error
	reset  func(dsn string) error
	status func(dsn string) (uint, bool, error)
}{
	up:     postgres.RunMigrations,
	down:   postgres.RollbackMigration,
	force:  postgres.ForceMigrationVersion,
	reset:  postgres.ResetDatabase,
	status: postgres.MigrationStatus,
}

type migrationResult struct {
	Action  string `json:"action"`
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
}

func (r migrationResult) String() string {
	s := fmt.Sprintf("%s: schema at version %d", r.Action, r.Version)
	if r.Dirty {
		s += " (dirty)"
	}
	return s
}

func (r migrationResult) TableHeaders() []string { return []string{"Action", "Version", "Dirty"} }

func (r migrationResult) TableRows() [][]string {
	return [][]string{{r.Action, strconv.FormatUint(uint64(r.Version), 10), strconv.FormatBool(r.Dirty)}}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the record store schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, "down", func(dsn string) error { return schemaMigrator.down(dsn, steps) })
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Drop every migrated table and re-apply the migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.InvalidParam("reset deletes every record; pass --yes to confirm")
			}
			return runMigration(cmd, "reset", schemaMigrator.reset)
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "confirm dropping all data")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigration(cmd, "status", nil)
			},
		},
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigration(cmd, "up", schemaMigrator.up)
			},
		},
		down,
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark the schema as being at VERSION after a failed migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return errors.InvalidParam("version must be an integer").WithDetail(args[0])
				}
				return runMigration(cmd, "force", func(dsn string) error { return schemaMigrator.force(dsn, version) })
			},
		},
		reset,
	)
	return cmd
}

// runMigration applies action, when non-nil, then reports the schema version.
func runMigration(cmd *cobra.Command, name string, action func(dsn string) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	dsn := cliCtx.Config.Database.Postgres.DSN()
	if action != nil {
		if err := action(dsn); err != nil {
			return errors.Wrap(err, errors.CodeDatabase, "migrate "+name)
		}
		cliCtx.Logger.Info("migration applied")
	}
	version, dirty, err := schemaMigrator.status(dsn)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "read schema version")
	}
	return PrintResult(cmd, migrationResult{Action: name, Version: version, Dirty: dirty})
}
