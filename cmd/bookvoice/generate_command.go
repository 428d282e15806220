package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"bookvoice/internal/api"
	"bookvoice/internal/audio"
	"bookvoice/internal/audiobook"
	"bookvoice/internal/book"
	"bookvoice/internal/config"
	"bookvoice/internal/history"
	"bookvoice/internal/notifications"
	"bookvoice/internal/services/speech"
)

// newSynthesizer builds the speech backend for local runs. Tests swap it for
// an in-memory fake.
var newSynthesizer = func(cfg *config.Config, logger *slog.Logger) audiobook.Synthesizer {
	return speech.NewClient(speech.Config{
		APIKey:         cfg.Speech.APIKey,
		BaseURL:        cfg.Speech.BaseURL,
		Model:          cfg.Speech.Model,
		TimeoutSeconds: cfg.Speech.TimeoutSeconds,
	}, speech.WithRetryMaxAttempts(cfg.Speech.RetryAttempts), speech.WithLogger(logger))
}

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var output string
	var voice string
	var keepPartial bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "generate <manifest>",
		Short: "Narrate a book manifest in this process",
		Long: "Narrate a book manifest (TOML or JSON) without a daemon.\n\n" +
			"The archive is written to --output (default paths.output_dir); pass '-' to stream the zip to stdout.\n" +
			"Ctrl-C cancels at the next chapter boundary; with --keep-partial the chapters finished so far are still archived.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireSpeech(); err != nil {
				return err
			}
			manifest, err := book.Load(args[0])
			if err != nil {
				return err
			}
			task := manifest.Task(cfg.Speech.DefaultVoice)
			if v := strings.TrimSpace(voice); v != "" {
				task.VoiceName = speech.CanonicalVoice(v)
			}

			toStdout := strings.TrimSpace(output) == "-"
			progressOut := cmd.OutOrStdout()
			if toStdout {
				progressOut = cmd.ErrOrStderr()
			}
			if task.VoiceName != "" && !speech.IsKnownVoice(task.VoiceName) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %q is not a prebuilt voice; sending it as given\n", task.VoiceName)
			}

			logger, err := ctx.logger("generate", verbose)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			var sink audiobook.ArchiveSink
			var memory *audiobook.MemorySink
			switch {
			case toStdout:
				memory = audiobook.NewMemorySink()
				sink = memory
			case strings.TrimSpace(output) != "":
				dir, err := config.ExpandPath(strings.TrimSpace(output))
				if err != nil {
					return fmt.Errorf("resolve output directory: %w", err)
				}
				sink = audiobook.DirectorySink{Dir: dir}
			default:
				sink = audiobook.DirectorySink{Dir: cfg.Paths.OutputDir}
			}

			// Terminal states stay put until the process decides what to do.
			gen := audiobook.NewGenerator(newSynthesizer(cfg, logger), sink, audiobook.Options{
				Format: audio.Format{
					SampleRate:    cfg.Speech.SampleRate,
					Channels:      cfg.Speech.Channels,
					BitsPerSample: cfg.Speech.BitsPerSample,
				},
				Logger:   logger,
				Notifier: notifications.NewService(cfg, logger),
			})

			printer := newProgressPrinter(progressOut)
			unsubscribe := gen.Subscribe(func(st audiobook.State) {
				printer.print(api.FromState(st))
			})
			defer unsubscribe()

			if cfg.History.Enabled {
				stopRecording, err := recordLocalRun(cmd.Context(), gen, cfg.History.Path, logger)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: run history disabled: %v\n", err)
				} else {
					defer stopRecording()
				}
			}

			st, err := runLocal(cmd.Context(), gen, task, keepPartial)
			if err != nil {
				return err
			}
			return reportLocalRun(cmd, st, memory, keepPartial)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory for the archive, or '-' for stdout")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice name (overrides the manifest and speech.default_voice)")
	cmd.Flags().BoolVar(&keepPartial, "keep-partial", false, "Archive finished chapters when the run is cancelled or fails")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Mirror log output to stderr")
	return cmd
}

// runLocal drives one run to its end. An interrupt cancels the run; the
// chapters produced so far are archived when keepPartial is set.
func runLocal(parent context.Context, gen *audiobook.Generator, task audiobook.Task, keepPartial bool) (audiobook.State, error) {
	runCtx := context.WithoutCancel(parent)
	done, err := gen.Start(runCtx, task)
	if err != nil {
		return audiobook.State{}, err
	}

	signalCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-done:
	case <-signalCtx.Done():
		if err := gen.Cancel(runCtx); err != nil && !errors.Is(err, audiobook.ErrNotRunning) {
			return gen.State(), err
		}
		<-done
	}

	st := gen.State()
	if !keepPartial || (st.Status != audiobook.StatusCancelled && st.Status != audiobook.StatusError) {
		return st, nil
	}
	if len(gen.Archive()) == 0 {
		return st, nil
	}
	failed := st
	if err := gen.DownloadPartial(runCtx); err != nil {
		return failed, err
	}
	partial := gen.State()
	if partial.Status == audiobook.StatusCompleted {
		// Report the original outcome with the partial archive attached.
		failed.ArchiveName = partial.ArchiveName
		failed.ArchivePath = partial.ArchivePath
		return failed, nil
	}
	return partial, nil
}

// recordLocalRun mirrors the generator into the run ledger. The returned func
// flushes pending writes and closes the store.
func recordLocalRun(ctx context.Context, gen *audiobook.Generator, path string, logger *slog.Logger) (func(), error) {
	store, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	recordCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	recorder := history.NewRecorder(store, logger, 0)
	recorder.Start(recordCtx)
	unsubscribe := gen.Subscribe(recorder.Observe)
	return func() {
		unsubscribe()
		cancel()
		recorder.Wait()
		_ = store.Close()
	}, nil
}

func reportLocalRun(cmd *cobra.Command, st audiobook.State, memory *audiobook.MemorySink, keepPartial bool) error {
	status := cmd.OutOrStdout()
	if memory != nil {
		status = cmd.ErrOrStderr()
	}
	if memory != nil && st.ArchiveName != "" {
		data, ok := memory.Get(st.ArchiveName)
		if !ok {
			return fmt.Errorf("archive %s was not delivered", st.ArchiveName)
		}
		if err := writeAll(cmd.OutOrStdout(), data); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
	}

	switch st.Status {
	case audiobook.StatusCompleted:
		fmt.Fprintf(status, "Audiobook ready: %s\n", archiveLocation(st))
		return nil
	case audiobook.StatusCancelled:
		if st.ArchiveName != "" {
			fmt.Fprintf(status, "Generation cancelled; partial archive: %s\n", archiveLocation(st))
		} else if !keepPartial {
			fmt.Fprintln(status, "Generation cancelled (use --keep-partial to archive finished chapters)")
		}
		return context.Canceled
	case audiobook.StatusError:
		if st.ArchiveName != "" {
			fmt.Fprintf(status, "Partial archive: %s\n", archiveLocation(st))
		}
		return fmt.Errorf("generation failed: %s", st.Error)
	default:
		return fmt.Errorf("generation ended in unexpected state %q", st.Status)
	}
}

func archiveLocation(st audiobook.State) string {
	if st.ArchivePath != "" && !strings.HasPrefix(st.ArchivePath, "memory://") {
		return st.ArchivePath
	}
	return st.ArchiveName
}

func writeAll(w io.Writer, data []byte) error {
	_, err := w.Write(data)
	return err
}
