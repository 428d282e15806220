package api

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"bookvoice/internal/audiobook"
	"bookvoice/internal/history"
	"bookvoice/internal/services"
)

func TestFromStateEncodesMissingErrorAsNull(t *testing.T) {
	dto := FromState(audiobook.State{Status: audiobook.StatusIdle})
	data, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"error":null`) {
		t.Fatalf("expected null error, got %s", data)
	}

	dto = FromState(audiobook.State{Status: audiobook.StatusError, Error: "boom", CompletedFiles: 2})
	if dto.Error == nil || *dto.Error != "boom" {
		t.Fatalf("error = %v", dto.Error)
	}
	if dto.Status != "error" || dto.CompletedFiles != 2 {
		t.Fatalf("unexpected dto: %+v", dto)
	}
}

func TestStartRequestTask(t *testing.T) {
	req := StartRequest{
		BookTitle: "  My Book ",
		Chapters: []ChapterRequest{
			{Title: "Opening", Markup: "<p>Hi</p>"},
			{Index: 5, Title: " ", Markup: "text"},
		},
	}
	task, err := req.Task("Kore")
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if task.BookTitle != "My Book" || task.VoiceName != "Kore" {
		t.Fatalf("unexpected task header: %+v", task)
	}
	if len(task.Chapters) != 2 {
		t.Fatalf("chapters = %d", len(task.Chapters))
	}
	if task.Chapters[0].Index != 1 || task.Chapters[0].Title != "Opening" {
		t.Fatalf("first chapter = %+v", task.Chapters[0])
	}
	if task.Chapters[1].Index != 5 || task.Chapters[1].Title != "Chapter 5" {
		t.Fatalf("second chapter = %+v", task.Chapters[1])
	}
}

func TestStartRequestTaskValidation(t *testing.T) {
	tests := []struct {
		name string
		req  StartRequest
	}{
		{name: "missing title", req: StartRequest{Chapters: []ChapterRequest{{Markup: "x"}}}},
		{name: "negative index", req: StartRequest{BookTitle: "B", Chapters: []ChapterRequest{{Index: -1, Markup: "x"}}}},
		{name: "duplicate index", req: StartRequest{BookTitle: "B", Chapters: []ChapterRequest{{Index: 2, Markup: "x"}, {Markup: "y"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Task("Kore")
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestStartRequestTaskKeepsEmptyChapterList(t *testing.T) {
	task, err := StartRequest{BookTitle: "B", VoiceName: "Puck"}.Task("Kore")
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if len(task.Chapters) != 0 || task.VoiceName != "Puck" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestFromTaskRoundTripsThroughTask(t *testing.T) {
	task := audiobook.Task{
		BookTitle: "Book",
		VoiceName: "Puck",
		Chapters:  []audiobook.ChapterTask{{Index: 3, Title: "Three", Markup: "m"}},
	}
	got, err := FromTask(task).Task("Kore")
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if got.Chapters[0] != task.Chapters[0] || got.VoiceName != "Puck" {
		t.Fatalf("got %+v", got)
	}
}

func TestFromArchiveEntries(t *testing.T) {
	out := FromArchiveEntries([]audiobook.ArchiveEntry{{Name: "a.wav", Chapter: 1, Bytes: 48044, Duration: 1500 * time.Millisecond}})
	if len(out) != 1 || out[0].DurationSeconds != 1.5 {
		t.Fatalf("unexpected entries: %+v", out)
	}
	if got := FromArchiveEntries(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestFromHistoryRunsFormatsTimestamps(t *testing.T) {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	finished := started.Add(2 * time.Minute)
	runs := FromHistoryRuns([]history.Run{{
		RunID:      "r1",
		Status:     "completed",
		StartedAt:  started,
		UpdatedAt:  finished,
		FinishedAt: &finished,
	}})
	if runs[0].StartedAt != "2025-03-01T11:00:00.000Z" {
		t.Fatalf("startedAt = %q", runs[0].StartedAt)
	}
	parsed, err := ParseTime(runs[0].FinishedAt)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !parsed.Equal(finished) {
		t.Fatalf("finishedAt = %v, want %v", parsed, finished)
	}
}
