package audiobook

import (
	"context"
	"fmt"
	"time"

	"bookvoice/internal/audio"
	"bookvoice/internal/logging"
	"bookvoice/internal/notifications"
	"bookvoice/internal/services"
	"bookvoice/internal/textutil"
)

func (g *Generator) run(ctx, runCtx context.Context, runID string, acc *accumulator, task Task) {
	logger := g.logger.With(logging.String(logging.FieldRunID, runID))
	sampler := logging.NewProgressSampler(25)
	total := len(task.Chapters)
	started := time.Now()

	for i, ch := range task.Chapters {
		if runCtx.Err() != nil {
			g.stopForCancellation(ctx, runID)
			return
		}
		chapterCtx := services.WithChapter(services.WithRunID(ctx, runID), ch.Index)
		chapterLogger := logging.WithContext(chapterCtx, g.logger)

		text := textutil.FlattenMarkup(ch.Markup)
		if text == "" {
			chapterLogger.Info("chapter has no narration text; skipping",
				logging.String("chapter_title", ch.Title),
			)
		} else {
			ok := g.update(runID, func(s *State) {
				s.Message = fmt.Sprintf("Generating audio for chapter %d of %d: %s", i+1, total, ch.Title)
			})
			if !ok {
				return
			}

			wav, err := g.synthesizeChapter(chapterCtx, text, task)
			if err != nil {
				if runCtx.Err() != nil {
					g.stopForCancellation(ctx, runID)
					return
				}
				g.fail(ctx, runID, acc, fmt.Errorf("chapter %d (%s): %w", ch.Index, ch.Title, err))
				return
			}
			name := textutil.ChapterFileName(ch.Index, ch.Title)
			acc.add(name, ch.Index, wav)
			chapterLogger.Debug("chapter audio ready",
				logging.String("file", name),
				logging.Int("bytes", len(wav)),
				logging.Duration("audio_duration", g.format.Duration(len(wav)-audio.HeaderSize)),
			)
		}

		processed := i + 1
		progress := float64(processed) * 100 / float64(total)
		ok := g.update(runID, func(s *State) {
			s.CompletedFiles = processed
			s.Progress = progress
			s.Message = fmt.Sprintf("Processed %d of %d chapters", processed, total)
		})
		if !ok {
			return
		}
		if sampler.ShouldLog(progress, string(StatusGenerating)) {
			logger.Info("audiobook progress",
				logging.Int("completed", processed),
				logging.Int("total", total),
				logging.Float64("progress", progress),
			)
		}
	}

	g.mu.Lock()
	if g.runID != runID || g.pub.Snapshot().Status != StatusGenerating {
		g.mu.Unlock()
		return
	}
	g.pub.apply(func(s *State) {
		s.Status = StatusZipping
		s.Message = "Creating archive..."
	})
	g.mu.Unlock()
	g.pub.flush()

	logger.Info("all chapters processed",
		logging.Int("files", acc.len()),
		logging.Duration("elapsed", time.Since(started)),
	)
	g.finalize(ctx, runID, acc, task.BookTitle)
}

func (g *Generator) synthesizeChapter(ctx context.Context, text string, task Task) ([]byte, error) {
	encoded, err := g.synth.Synthesize(ctx, text, task.VoiceName, task.VoiceInstructions)
	if err != nil {
		return nil, err
	}
	pcm, err := audio.DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	return g.format.Encode(pcm), nil
}

// stopForCancellation handles a cancelled token observed by the run loop.
// Cancel has usually already moved the state; a cancelled caller context
// has not, so the transition happens here.
func (g *Generator) stopForCancellation(ctx context.Context, runID string) {
	g.mu.Lock()
	if g.runID != runID || g.pub.Snapshot().Status != StatusGenerating {
		g.mu.Unlock()
		return
	}
	st := g.cancelLocked("Generation cancelled")
	g.mu.Unlock()
	g.pub.flush()

	g.announceCancelled(context.WithoutCancel(ctx), st)
}

func (g *Generator) fail(ctx context.Context, runID string, acc *accumulator, cause error) {
	g.mu.Lock()
	if g.runID != runID {
		g.mu.Unlock()
		return
	}
	if status := g.pub.Snapshot().Status; status != StatusGenerating && status != StatusZipping {
		g.mu.Unlock()
		return
	}
	st := g.pub.apply(func(s *State) {
		s.Status = StatusError
		s.Error = cause.Error()
		s.Message = "Audiobook generation failed"
	})
	g.scheduleResetLocked(runID, StatusError, g.errorReset)
	g.mu.Unlock()
	g.pub.flush()

	kept := acc.len()
	logging.WarnWithContext(g.logger, "audiobook generation failed", "run_failed",
		logging.String(logging.FieldRunID, runID),
		logging.Error(cause),
		logging.String(logging.FieldErrorKind, services.Kind(cause)),
		logging.Int("files_kept", kept),
		logging.String(logging.FieldErrorHint, "download the partial archive or reset and start again"),
		logging.String(logging.FieldImpact, "remaining chapters were not generated"),
	)
	g.publish(ctx, notifications.EventRunFailed, notifications.Payload{
		"bookTitle": st.BookTitle,
		"error":     cause,
		"files":     kept,
	})
}

// finalize zips acc and hands it to the sink. It is shared by normal
// completion and DownloadPartial; the state must already be zipping.
func (g *Generator) finalize(ctx context.Context, runID string, acc *accumulator, bookTitle string) {
	name := textutil.ArchiveFileName(bookTitle)
	data, err := acc.zip()
	var location string
	if err == nil {
		location, err = g.sink.Deliver(ctx, name, data)
	}
	if err != nil {
		g.fail(ctx, runID, acc, services.Wrap(services.ErrTransient, "zipping", "finalize", "archive delivery failed", err))
		return
	}

	g.mu.Lock()
	if g.runID != runID || g.pub.Snapshot().Status != StatusZipping {
		g.mu.Unlock()
		return
	}
	g.archive = nil
	st := g.pub.apply(func(s *State) {
		s.Status = StatusCompleted
		s.Progress = 100
		s.Message = fmt.Sprintf("Audiobook ready: %s", name)
		s.Error = ""
		s.ArchiveName = name
		s.ArchivePath = location
	})
	g.scheduleResetLocked(runID, StatusCompleted, g.completedReset)
	g.mu.Unlock()
	g.pub.flush()

	g.logger.Info("audiobook archive delivered",
		logging.String(logging.FieldRunID, runID),
		logging.String("archive", name),
		logging.String("location", location),
		logging.Int("bytes", len(data)),
	)
	g.publish(ctx, notifications.EventRunCompleted, notifications.Payload{
		"bookTitle": st.BookTitle,
		"archive":   location,
	})
}
