package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/internal/storage"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runsOpts struct {
	limit  int
	runID  string
	asJSON bool
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List reconciliation runs stored with --db",
	Long: `Runs lists the reconciliations saved in a database, newest first.
With --run it prints the header and match groups of one run.

Examples:
  reconciler runs --db runs.db
  reconciler runs --db postgres://recon@localhost/recon --limit 5
  reconciler runs --db runs.db --run 5f0c... --json`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	flags := runsCmd.Flags()
	flags.String("db", "", "SQLite file or postgres:// database (required)")
	flags.IntVar(&runsOpts.limit, "limit", 20, "number of runs to list, 0 lists all")
	flags.StringVar(&runsOpts.runID, "run", "", "show one run and its match groups")
	flags.BoolVar(&runsOpts.asJSON, "json", false, "print JSON instead of text")
}

func runRuns(cmd *cobra.Command, args []string) error {
	// the reconcile command binds "db" to viper as well; read the flag
	// first so each command sees its own value
	dsn, _ := cmd.Flags().GetString("db")
	if dsn == "" {
		dsn = viper.GetString("db")
	}
	if strings.TrimSpace(dsn) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "db", nil, nil).
			WithSuggestion("pass the database the runs were stored in with --db")
	}

	ctx := contextOrBackground(cmd)
	store, err := storage.Open(ctx, dsn, logger.GetGlobalLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if runsOpts.runID != "" {
		run, err := store.GetRun(ctx, runsOpts.runID)
		if err != nil {
			return err
		}
		groups, err := store.ListGroups(ctx, runsOpts.runID)
		if err != nil {
			return err
		}
		if runsOpts.asJSON {
			return writeJSON(out, map[string]interface{}{"run": run, "groups": groups})
		}
		printRun(out, run, groups)
		return nil
	}

	runs, err := store.ListRuns(ctx, runsOpts.limit)
	if err != nil {
		return err
	}
	if runsOpts.asJSON {
		return writeJSON(out, runs)
	}
	printRuns(out, runs)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printRuns(w io.Writer, runs []*storage.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs stored")
		return
	}
	fmt.Fprintf(w, "%-36s  %-19s  %7s  %7s  %7s  %9s  %9s\n",
		"RUN ID", "STARTED", "BANK", "FINANCE", "GROUPS", "UNM BANK", "UNM FIN")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-19s  %7d  %7d  %7d  %9d  %9d\n",
			r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.BankRecords, r.FinanceRecords, r.MatchedGroups, r.UnmatchedBank, r.UnmatchedFinance)
	}
}

func printRun(w io.Writer, r *storage.RunRecord, groups []*models.MatchGroup) {
	fmt.Fprintf(w, "Run ID:       %s\n", r.RunID)
	fmt.Fprintf(w, "Status:       %s\n", r.Status)
	fmt.Fprintf(w, "Bank:         %s (%d records)\n", r.BankFile, r.BankRecords)
	fmt.Fprintf(w, "Finance:      %s (%d records)\n", r.FinanceFile, r.FinanceRecords)
	fmt.Fprintf(w, "Started:      %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration:     %s\n", r.FinishedAt.Sub(r.StartedAt))
	fmt.Fprintf(w, "Tolerance:    %s\n", r.Tolerance.StringFixed(2))
	fmt.Fprintf(w, "Matched Rows: %d\n", r.MatchedRows)
	fmt.Fprintf(w, "Unmatched:    %d bank, %d finance\n", r.UnmatchedBank, r.UnmatchedFinance)
	if r.TimedOut > 0 {
		fmt.Fprintf(w, "Timed out:    %d bank records\n", r.TimedOut)
	}

	fmt.Fprintf(w, "\nMatch groups (%d):\n", len(groups))
	for _, g := range groups {
		fmt.Fprintf(w, "  %s %s bank=%s finance=[%s] amount=%s\n",
			g.MatchID, g.Type, g.BankID, strings.Join(g.FinanceIDs, ", "), g.BankAmount.StringFixed(2))
	}
}
