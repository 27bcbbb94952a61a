// Package cli implements budgetteenctl, the operator tool for SQLite deployments.
package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
	sqlitestore "github.com/budgetteenhelp-blip/budgetteen-sub001/internal/store/sqlite"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/tasks"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/logging"
)

const (
	FormatHuman = "human"
	FormatJSON  = "json"
)

type RootOptions struct {
	Output   string
	Timezone string
	DBPath   string
	LogLevel string

	db *sql.DB
}

// envelope is the JSON shape every command prints with --output json.
type envelope struct {
	OK   bool `json:"ok"`
	Data any  `json:"data"`
}

func NewRootCmd() *cobra.Command {
	opts := &RootOptions{
		Output:   FormatHuman,
		Timezone: "UTC",
		DBPath:   "budgetteen.db",
		LogLevel: "warn",
	}

	cmd := &cobra.Command{
		Use:           "budgetteenctl",
		Short:         "Operate a BudgetTeen SQLite datastore",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.Output = strings.ToLower(strings.TrimSpace(opts.Output))
			if opts.Output != FormatHuman && opts.Output != FormatJSON {
				return fmt.Errorf("invalid --output value %q: supported values are %s|%s", opts.Output, FormatHuman, FormatJSON)
			}
			if _, err := time.LoadLocation(opts.Timezone); err != nil {
				return fmt.Errorf("invalid --timezone value %q: %w", opts.Timezone, err)
			}
			if cmd.Annotations["db"] == "none" {
				return nil
			}

			db, err := sqlitestore.OpenAndMigrate(cmd.Context(), opts.DBPath)
			if err != nil {
				return fmt.Errorf("initialize sqlite: %w", err)
			}
			opts.db = db
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.db != nil {
				if err := opts.db.Close(); err != nil {
					return fmt.Errorf("close sqlite db: %w", err)
				}
				opts.db = nil
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Output, "output", opts.Output, "Output format: human|json")
	cmd.PersistentFlags().StringVar(&opts.Timezone, "timezone", opts.Timezone, "Day boundary for streaks and challenges (IANA name)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db-path", opts.DBPath, "SQLite database path")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level for deferred steps: debug|info|warn|error")

	cmd.AddCommand(
		NewMigrateCmd(opts),
		NewLevelsCmd(opts),
		NewUserCmd(opts),
		NewBudgetCmd(opts),
		NewAchievementsCmd(opts),
	)
	return cmd
}

// service builds a progression service over the open database. Deferred
// steps run inline so a command's side effects are done when it returns.
func (o *RootOptions) service(errOut io.Writer) (progress.Service, error) {
	if o.db == nil {
		return nil, fmt.Errorf("database is not open")
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return nil, err
	}
	logger := logging.New(errOut, "budgetteenctl", o.LogLevel)
	return progress.NewService(
		sqlitestore.NewProgressRepo(o.db),
		tasks.Inline{Logger: logger},
		nil, nil,
		progress.Options{Location: loc, Logger: logger},
	)
}

func printResult(cmd *cobra.Command, opts *RootOptions, data any, human func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	if opts.Output == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(envelope{OK: true, Data: data})
	}
	return human(w)
}

func requireUserFlag(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}
