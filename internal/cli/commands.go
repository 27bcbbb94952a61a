package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
	sqlitestore "github.com/budgetteenhelp-blip/budgetteen-sub001/internal/store/sqlite"
)

func NewMigrateCmd(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and report the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := sqlitestore.SchemaVersion(cmd.Context(), opts.db)
			if err != nil {
				return err
			}
			data := map[string]any{"db_path": opts.DBPath, "schema_version": version}
			return printResult(cmd, opts, data, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s is at schema version %d\n", opts.DBPath, version)
				return err
			})
		},
	}
}

type levelRow struct {
	Level    int `json:"level"`
	TotalXP  int `json:"total_xp"`
	XPToNext int `json:"xp_to_next"`
}

func NewLevelsCmd(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "levels",
		Short:       "Print the XP curve",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"db": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([]levelRow, 0, progress.MaxLevel)
			for level := 1; level <= progress.MaxLevel; level++ {
				row := levelRow{Level: level, TotalXP: progress.CumulativeXPForLevel(level)}
				if level < progress.MaxLevel {
					row.XPToNext = progress.XPRequiredForLevel(level)
				}
				rows = append(rows, row)
			}
			return printResult(cmd, opts, rows, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
				fmt.Fprintln(tw, "LEVEL\tTOTAL XP\tTO NEXT\t")
				for _, row := range rows {
					next := "max"
					if row.XPToNext > 0 {
						next = humanize.Comma(int64(row.XPToNext))
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t\n", row.Level, humanize.Comma(int64(row.TotalXP)), next)
				}
				return tw.Flush()
			})
		},
	}
}

func NewUserCmd(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect and repair user progression",
	}

	var userID string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show a user's balance, level and streak",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUserFlag(userID); err != nil {
				return err
			}
			svc, err := opts.service(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			stats, err := svc.GetStats(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printResult(cmd, opts, stats, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s: level %d, %s XP (%d%% to next), balance $%s, streak %d (best %d)\n",
					stats.ID, stats.Level, humanize.Comma(int64(stats.XP)), stats.XPProgress,
					stats.CurrentBalance, stats.CurrentStreak, stats.LongestStreak)
				return err
			})
		},
	}
	show.Flags().StringVar(&userID, "user", "", "User id")

	recalc := &cobra.Command{
		Use:   "recalc-level",
		Short: "Re-derive a user's level from their XP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUserFlag(userID); err != nil {
				return err
			}
			svc, err := opts.service(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			res, err := svc.RecalculateLevel(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printResult(cmd, opts, res, func(w io.Writer) error {
				if !res.LevelChanged {
					_, err := fmt.Fprintf(w, "%s is already level %d\n", userID, res.Level)
					return err
				}
				_, err := fmt.Fprintf(w, "%s moved from level %d to %d\n", userID, res.PreviousLevel, res.Level)
				return err
			})
		},
	}
	recalc.Flags().StringVar(&userID, "user", "", "User id")

	cmd.AddCommand(show, recalc)
	return cmd
}

func NewBudgetCmd(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect budget limits",
	}

	var userID string
	status := &cobra.Command{
		Use:   "status",
		Short: "Show spend against every budget limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUserFlag(userID); err != nil {
				return err
			}
			svc, err := opts.service(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			evals, err := svc.BudgetStatuses(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printResult(cmd, opts, evals, func(w io.Writer) error {
				if len(evals) == 0 {
					_, err := fmt.Fprintln(w, "no budget limits")
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "CATEGORY\tPERIOD\tSPENT\tLIMIT\tUSED\tSTATUS")
				for _, e := range evals {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f%%\t%s\n",
						progress.CategoryLabel(e.Category), e.Period, e.Spent, e.Limit, e.Percentage, e.Status)
				}
				return tw.Flush()
			})
		},
	}
	status.Flags().StringVar(&userID, "user", "", "User id")

	cmd.AddCommand(status)
	return cmd
}

func NewAchievementsCmd(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "achievements",
		Short: "Inspect and award achievements",
	}

	var userID string
	check := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the badge catalog and award anything newly earned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUserFlag(userID); err != nil {
				return err
			}
			svc, err := opts.service(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			unlocked, err := svc.CheckAndAwardAchievements(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if unlocked == nil {
				unlocked = []progress.BadgeID{}
			}
			return printResult(cmd, opts, map[string]any{"unlocked": unlocked}, func(w io.Writer) error {
				if len(unlocked) == 0 {
					_, err := fmt.Fprintln(w, "no new achievements")
					return err
				}
				for _, id := range unlocked {
					if _, err := fmt.Fprintf(w, "unlocked %s\n", id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	check.Flags().StringVar(&userID, "user", "", "User id")

	cmd.AddCommand(check)
	return cmd
}
