package api

import (
	"fmt"
	"strings"
	"time"

	"bookvoice/internal/audiobook"
	"bookvoice/internal/history"
	"bookvoice/internal/preflight"
	"bookvoice/internal/services"
)

// FromState converts a generator snapshot to its API representation.
func FromState(st audiobook.State) State {
	dto := State{
		Status:         string(st.Status),
		Progress:       st.Progress,
		Message:        st.Message,
		BookTitle:      st.BookTitle,
		VoiceName:      st.VoiceName,
		TotalFiles:     st.TotalFiles,
		CompletedFiles: st.CompletedFiles,
		RunID:          st.RunID,
		ArchiveName:    st.ArchiveName,
		ArchivePath:    st.ArchivePath,
	}
	if st.Error != "" {
		msg := st.Error
		dto.Error = &msg
	}
	return dto
}

// Task validates the request and converts it to a pipeline task. An empty
// voice falls back to defaultVoice. An empty chapter list is passed through
// so the generator can reject it.
func (r StartRequest) Task(defaultVoice string) (audiobook.Task, error) {
	title := strings.TrimSpace(r.BookTitle)
	if title == "" {
		return audiobook.Task{}, services.Wrap(services.ErrValidation, "api", "start request", "bookTitle is required", nil)
	}
	voice := strings.TrimSpace(r.VoiceName)
	if voice == "" {
		voice = defaultVoice
	}

	task := audiobook.Task{
		BookTitle:         title,
		VoiceName:         voice,
		VoiceInstructions: strings.TrimSpace(r.VoiceInstructions),
		Chapters:          make([]audiobook.ChapterTask, 0, len(r.Chapters)),
	}
	seen := make(map[int]struct{}, len(r.Chapters))
	for i, ch := range r.Chapters {
		index := ch.Index
		if index < 0 {
			return audiobook.Task{}, services.Wrap(services.ErrValidation, "api", "start request",
				fmt.Sprintf("chapter %d: index must not be negative", i+1), nil)
		}
		if index == 0 {
			index = i + 1
		}
		if _, dup := seen[index]; dup {
			return audiobook.Task{}, services.Wrap(services.ErrValidation, "api", "start request",
				fmt.Sprintf("chapter %d: duplicate index %d", i+1, index), nil)
		}
		seen[index] = struct{}{}
		chTitle := strings.TrimSpace(ch.Title)
		if chTitle == "" {
			chTitle = fmt.Sprintf("Chapter %d", index)
		}
		task.Chapters = append(task.Chapters, audiobook.ChapterTask{
			Index:  index,
			Title:  chTitle,
			Markup: ch.Markup,
		})
	}
	return task, nil
}

// FromTask builds a start request from a pipeline task.
func FromTask(task audiobook.Task) StartRequest {
	req := StartRequest{
		BookTitle:         task.BookTitle,
		VoiceName:         task.VoiceName,
		VoiceInstructions: task.VoiceInstructions,
		Chapters:          make([]ChapterRequest, 0, len(task.Chapters)),
	}
	for _, ch := range task.Chapters {
		req.Chapters = append(req.Chapters, ChapterRequest{Index: ch.Index, Title: ch.Title, Markup: ch.Markup})
	}
	return req
}

// FromArchiveEntries converts the accumulator listing.
func FromArchiveEntries(entries []audiobook.ArchiveEntry) []ArchiveEntry {
	out := make([]ArchiveEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ArchiveEntry{
			Name:            e.Name,
			Chapter:         e.Chapter,
			Bytes:           e.Bytes,
			DurationSeconds: e.Duration.Seconds(),
		})
	}
	return out
}

// FromHistoryRuns converts ledger records.
func FromHistoryRuns(runs []history.Run) []HistoryRun {
	out := make([]HistoryRun, 0, len(runs))
	for _, r := range runs {
		dto := HistoryRun{
			RunID:          r.RunID,
			BookTitle:      r.BookTitle,
			Voice:          r.Voice,
			Status:         r.Status,
			TotalFiles:     r.TotalFiles,
			CompletedFiles: r.CompletedFiles,
			Progress:       r.Progress,
			Message:        r.Message,
			Error:          r.ErrorMessage,
			ArchiveName:    r.ArchiveName,
			ArchivePath:    r.ArchivePath,
			StartedAt:      formatTime(r.StartedAt),
			UpdatedAt:      formatTime(r.UpdatedAt),
		}
		if r.FinishedAt != nil {
			dto.FinishedAt = formatTime(*r.FinishedAt)
		}
		out = append(out, dto)
	}
	return out
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// ParseTime parses an API timestamp. Empty input yields the zero time.
func ParseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateTimeFormat, value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
