package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bookvoice/internal/api"
	"bookvoice/internal/apiclient"
	"bookvoice/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var local bool

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show past generation runs",
		Long:  "Show the run ledger. The daemon is asked first; when it is not reachable (or with --local) the database is read directly.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := loadHistory(cmd, ctx, limit, local)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, api.HistoryResponse{Runs: runs})
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderHistoryTable(runs))
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	historyCmd.Flags().BoolVar(&local, "local", false, "Read the history database directly")

	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))
	return historyCmd
}

func loadHistory(cmd *cobra.Command, ctx *commandContext, limit int, local bool) ([]api.HistoryRun, error) {
	if limit <= 0 {
		return nil, errors.New("--limit must be positive")
	}
	if !local {
		client, err := apiclient.New(ctx.apiBind(), ctx.apiToken())
		if err != nil {
			return nil, err
		}
		resp, err := client.History(cmd.Context(), limit)
		if err == nil {
			return resp.Runs, nil
		}
		if !apiclient.IsAPIUnavailable(err) {
			return nil, err
		}
	}
	store, err := openHistory(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	runs, err := store.List(cmd.Context(), limit)
	if err != nil {
		return nil, err
	}
	return api.FromHistoryRuns(runs), nil
}

func openHistory(ctx *commandContext) (*history.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, errors.New("history is disabled (history.enabled = false)")
	}
	return history.Open(cfg.History.Path)
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run from the history database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			run, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			entry := api.FromHistoryRuns([]history.Run{*run})[0]
			if ctx.jsonOutput() {
				return writeJSON(cmd, entry)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderStatusLine("Run", statusInfo, entry.RunID, colorize))
			fmt.Fprintln(out, renderStatusLine("Book", statusInfo, entry.BookTitle, colorize))
			fmt.Fprintln(out, renderStatusLine("Status", kindForStatus(entry.Status), entry.Status, colorize))
			fmt.Fprintln(out, renderStatusLine("Chapters", statusInfo,
				fmt.Sprintf("%d/%d", entry.CompletedFiles, entry.TotalFiles), colorize))
			if entry.Voice != "" {
				fmt.Fprintln(out, renderStatusLine("Voice", statusInfo, entry.Voice, colorize))
			}
			if entry.Error != "" {
				fmt.Fprintln(out, renderStatusLine("Error", statusError, entry.Error, colorize))
			}
			if entry.ArchivePath != "" {
				fmt.Fprintln(out, renderStatusLine("Archive", statusOK, entry.ArchivePath, colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Started", statusInfo, entry.StartedAt, colorize))
			if entry.FinishedAt != "" {
				fmt.Fprintln(out, renderStatusLine("Finished", statusInfo, entry.FinishedAt, colorize))
			}
			return nil
		},
	}
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all runs from the history database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			removed, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs\n", removed)
			return nil
		},
	}
}

func renderHistoryTable(runs []api.HistoryRun) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.RunID),
			run.BookTitle,
			run.Status,
			fmt.Sprintf("%d/%d", run.CompletedFiles, run.TotalFiles),
			formatRunDuration(run),
			run.ArchiveName,
			formatStarted(run.StartedAt),
		})
	}
	return renderTable([]string{"Run", "Book", "Status", "Chapters", "Elapsed", "Archive", "Started"}, rows, 4, 5)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatStarted(value string) string {
	t, err := api.ParseTime(value)
	if err != nil || t.IsZero() {
		return value
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatRunDuration(run api.HistoryRun) string {
	started, err := api.ParseTime(run.StartedAt)
	if err != nil || started.IsZero() {
		return "-"
	}
	end := run.FinishedAt
	if end == "" {
		end = run.UpdatedAt
	}
	finished, err := api.ParseTime(end)
	if err != nil || finished.IsZero() || finished.Before(started) {
		return "-"
	}
	d := finished.Sub(started).Round(time.Second)
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	return d.String()
}
