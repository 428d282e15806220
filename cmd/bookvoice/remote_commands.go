package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bookvoice/internal/api"
	"bookvoice/internal/apiclient"
	"bookvoice/internal/book"
	"bookvoice/internal/config"
	"bookvoice/internal/fileutil"
	"bookvoice/internal/services/speech"
)

func newRemoteCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStatusCommand(ctx),
		newStartCommand(ctx),
		newActionCommand(ctx, "cancel", "Cancel the daemon's active run", (*apiclient.Client).Cancel),
		newActionCommand(ctx, "partial", "Archive the chapters the last run finished", (*apiclient.Client).Partial),
		newActionCommand(ctx, "reset", "Discard the current run and return to idle", (*apiclient.Client).Reset),
		newWatchCommand(ctx),
		newArchiveCommand(ctx),
		newDownloadCommand(ctx),
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and generator status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bind := ctx.apiBind()
			client, err := apiclient.New(bind, ctx.apiToken())
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil && !apiclient.IsAPIUnavailable(err) {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running at "+bind, colorize))
				return nil
			}
			printDaemonStatus(out, status, colorize)
			return nil
		},
	}
}

func printDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	fmt.Fprintln(out, paint("== Daemon ==", ansiBlue, colorize))
	fmt.Fprintln(out, renderStatusLine("Running", statusOK, "pid "+strconv.Itoa(status.PID), colorize))
	fmt.Fprintln(out, renderStatusLine("Output directory", statusInfo, status.OutputDir, colorize))
	if status.HistoryDBPath != "" {
		fmt.Fprintln(out, renderStatusLine("History", statusInfo, status.HistoryDBPath, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("History", statusWarn, "disabled", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Redis relay", statusInfo, yesNo(status.RelayEnabled), colorize))

	fmt.Fprintln(out, paint("== Generator ==", ansiBlue, colorize))
	gen := status.Generator
	fmt.Fprintln(out, renderStatusLine("Status", kindForStatus(gen.Status), gen.Status, colorize))
	if gen.BookTitle != "" {
		fmt.Fprintln(out, renderStatusLine("Book", statusInfo, gen.BookTitle, colorize))
		fmt.Fprintln(out, renderStatusLine("Progress", statusInfo,
			fmt.Sprintf("%.0f%% (%d/%d chapters)", gen.Progress, gen.CompletedFiles, gen.TotalFiles), colorize))
	}
	if gen.Message != "" {
		fmt.Fprintln(out, renderStatusLine("Message", statusInfo, gen.Message, colorize))
	}
	if gen.Error != nil && *gen.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, *gen.Error, colorize))
	}
	if gen.ArchiveName != "" {
		fmt.Fprintln(out, renderStatusLine("Archive", statusOK, gen.ArchiveName, colorize))
	}

	if len(status.Checks) == 0 {
		return
	}
	fmt.Fprintln(out, paint("== Checks ==", ansiBlue, colorize))
	for _, check := range status.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	var voice string
	var watch bool
	cmd := &cobra.Command{
		Use:   "start <manifest>",
		Short: "Submit a book manifest to the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := book.Load(args[0])
			if err != nil {
				return err
			}
			req := api.FromTask(manifest.Task(""))
			if v := strings.TrimSpace(voice); v != "" {
				req.VoiceName = speech.CanonicalVoice(v)
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				ack, err := client.Start(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() && !watch {
					return writeJSON(cmd, ack)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (run %s, %d chapters)\n", ack.Message, ack.State.RunID, len(req.Chapters))
				if !watch {
					return nil
				}
				return followRun(cmd, client, ack.State.RunID, false)
			})
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "Voice name (overrides the manifest)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the run ends")
	return cmd
}

type actionFunc func(*apiclient.Client, context.Context) (api.ActionResponse, error)

func newActionCommand(ctx *commandContext, use, short string, action actionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				ack, err := action(client, cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, ack)
				}
				fmt.Fprintln(cmd.OutOrStdout(), ack.Message)
				return nil
			})
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream generator progress from the daemon",
		Long:  "Stream generator progress until the current run ends. With --follow the stream stays open across runs.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				return followRun(cmd, client, "", follow)
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming after the run ends")
	return cmd
}

// followRun prints snapshots until runID (or, when empty, any run that was
// seen in flight) reaches a terminal state.
func followRun(cmd *cobra.Command, client *apiclient.Client, runID string, follow bool) error {
	printer := newProgressPrinter(cmd.OutOrStdout())
	var final api.State
	seenActive := false
	err := client.Watch(cmd.Context(), func(st api.State) bool {
		if runID != "" && st.RunID != "" && st.RunID != runID {
			return true
		}
		if ctx := cmd.Context(); ctx.Err() != nil {
			return false
		}
		printer.print(st)
		if follow {
			return true
		}
		switch st.Status {
		case "generating", "zipping":
			seenActive = true
		case "completed", "error", "cancelled":
			if seenActive || runID != "" {
				final = st
				return false
			}
		case "idle":
			// The run ended and was reset before its terminal snapshot arrived.
			if seenActive {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	switch final.Status {
	case "error":
		msg := final.Message
		if final.Error != nil && *final.Error != "" {
			msg = *final.Error
		}
		return fmt.Errorf("generation failed: %s", msg)
	case "cancelled":
		return context.Canceled
	}
	return nil
}

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "List chapter files held for the current run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				listing, err := client.Archive(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, listing)
				}
				out := cmd.OutOrStdout()
				if len(listing.Files) == 0 {
					fmt.Fprintln(out, "No chapter files held")
					return nil
				}
				rows := make([][]string, 0, len(listing.Files))
				for _, f := range listing.Files {
					rows = append(rows, []string{
						strconv.Itoa(f.Chapter),
						f.Name,
						formatBytes(int64(f.Bytes)),
						fmt.Sprintf("%.1fs", f.DurationSeconds),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"#", "File", "Size", "Duration"}, rows, 1, 3, 4))
				return nil
			})
		},
	}
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download [archive]",
		Short: "Download a delivered archive from the daemon",
		Long:  "Download an archive by name. Without a name the archive of the current completed run is fetched.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				name := ""
				if len(args) == 1 {
					name = strings.TrimSpace(args[0])
				}
				if name == "" {
					st, err := client.State(cmd.Context())
					if err != nil {
						return err
					}
					if st.ArchiveName == "" {
						return errors.New("no completed archive; pass an archive name")
					}
					name = st.ArchiveName
				}

				target := strings.TrimSpace(output)
				if target == "-" {
					_, err := client.Download(cmd.Context(), name, cmd.OutOrStdout())
					return err
				}
				if target == "" {
					target = name
				}
				target, err := config.ExpandPath(target)
				if err != nil {
					return err
				}
				if info, err := os.Stat(target); err == nil && info.IsDir() {
					target = filepath.Join(target, name)
				}
				return downloadToFile(cmd, client, name, target)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file or directory, or '-' for stdout")
	return cmd
}

func downloadToFile(cmd *cobra.Command, client *apiclient.Client, name, target string) error {
	pr, pw := io.Pipe()
	defer pr.Close()
	go func() {
		_, err := client.Download(cmd.Context(), name, pw)
		pw.CloseWithError(err)
	}()
	n, err := fileutil.CopyToFileAtomic(target, pr, 0o644)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", target, formatBytes(n))
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
