package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"time"

	"fixme/internal/intent"
	"fixme/internal/store"
	"fixme/internal/tactile"

	"github.com/spf13/cobra"
)

var (
	classifyLang  string
	fixesPlatform string
	fixesJSON     bool
	historyLimit  int
)

var classifyCmd = &cobra.Command{
	Use:   "classify [reply]",
	Short: "Classify a spoken permission reply",
	Long: `Runs a transcribed reply through the locale table and prints whether it
reads as affirmative, negative, abort or unrecognized.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

var fixesCmd = &cobra.Command{
	Use:   "fixes",
	Short: "List the quick-fix catalog for a platform",
	Args:  cobra.NoArgs,
	RunE:  runFixes,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent command executions and fix runs from the audit store",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	classifyCmd.Flags().StringVarP(&classifyLang, "lang", "l", "en", "Locale of the reply")
	fixesCmd.Flags().StringVar(&fixesPlatform, "platform", runtime.GOOS, "Target platform (darwin, windows, linux)")
	fixesCmd.Flags().BoolVar(&fixesJSON, "json", false, "Print the catalog as JSON")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
}

func runClassify(cmd *cobra.Command, args []string) error {
	table, err := intent.LoadTable(cfg.Intent.LocalesFile)
	if err != nil {
		return err
	}
	reply := strings.Join(args, " ")
	got := intent.NewClassifier(table).Classify(reply, classifyLang)
	fmt.Fprintln(cmd.OutOrStdout(), got)
	return nil
}

func runFixes(cmd *cobra.Command, args []string) error {
	fixes := tactile.CatalogFor(fixesPlatform)
	out := cmd.OutOrStdout()

	if fixesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(fixes)
	}

	tbl := newTable("", "ID", "LABEL", "ADMIN", "COMMANDS")
	for _, f := range fixes {
		tbl.addRow(f.ID, f.Label, strconv.FormatBool(f.NeedsAdmin), strconv.Itoa(len(f.Commands)))
	}
	_, err := fmt.Fprint(out, tbl.render(fmt.Sprintf("No fixes for platform %q", fixesPlatform)))
	return err
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.Store.Disabled {
		fmt.Fprintln(cmd.OutOrStdout(), "Audit store is disabled")
		return nil
	}
	if historyLimit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", historyLimit)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	execs, err := st.RecentExecutions(ctx, historyLimit)
	if err != nil {
		return err
	}
	runs, err := st.RecentRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), execs, runs)
}

func printHistory(out io.Writer, execs []store.Execution, runs []store.Run) error {
	runTbl := newTable("RUNS", "STARTED", "STATE", "APPLIED", "DIAGNOSIS")
	for _, r := range runs {
		runTbl.addRow(r.StartedAt.Local().Format(time.DateTime), r.State,
			fmt.Sprintf("%d/%d", r.Applied, r.Total), r.Diagnosis)
	}

	execTbl := newTable("EXECUTIONS", "STARTED", "SOURCE", "STATUS", "COMMAND")
	for _, e := range execs {
		status := "ok"
		if !e.Success {
			status = "failed"
			if e.Fault != "" {
				status = e.Fault
			}
		}
		execTbl.addRow(e.StartedAt.Local().Format(time.DateTime), e.Source, status, e.Command)
	}

	_, err := fmt.Fprint(out, runTbl.render("(none)")+"\n"+execTbl.render("(none)"))
	return err
}
