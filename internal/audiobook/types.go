package audiobook

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle position of the generation state machine.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusZipping    Status = "zipping"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Active reports whether a run is in flight and blocks a new start.
func (s Status) Active() bool {
	return s == StatusGenerating || s == StatusZipping
}

// Terminal reports whether a run has ended and is waiting for reset.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

var (
	ErrRunActive         = errors.New("audiobook generation already in progress")
	ErrNoChapters        = errors.New("no chapters to generate")
	ErrNotRunning        = errors.New("no audiobook generation in progress")
	ErrNothingToDownload = errors.New("no audio files to download")
)

// ChapterTask is one chapter of input. Index is 1-based and used for the
// file name; Markup is rich text that is flattened before synthesis.
type ChapterTask struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Markup string `json:"markup"`
}

// Task is the immutable input of one run.
type Task struct {
	BookTitle         string        `json:"bookTitle"`
	Chapters          []ChapterTask `json:"chapters"`
	VoiceName         string        `json:"voiceName"`
	VoiceInstructions string        `json:"voiceInstructions"`
}

// State is a snapshot of the generation state. Error is empty when there is
// no failure.
type State struct {
	Status         Status  `json:"status"`
	Progress       float64 `json:"progress"`
	Message        string  `json:"message"`
	Error          string  `json:"error,omitempty"`
	BookTitle      string  `json:"bookTitle"`
	VoiceName      string  `json:"voiceName,omitempty"`
	TotalFiles     int     `json:"totalFiles"`
	CompletedFiles int     `json:"completedFiles"`
	RunID          string  `json:"runId,omitempty"`
	ArchiveName    string  `json:"archiveName,omitempty"`
	ArchivePath    string  `json:"archivePath,omitempty"`
}

func idleState() State {
	return State{Status: StatusIdle}
}

// ArchiveEntry describes one WAV file held by the accumulator.
type ArchiveEntry struct {
	Name     string        `json:"name"`
	Chapter  int           `json:"chapter"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Synthesizer converts narration text into base64-encoded raw PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, instructions string) (string, error)
}

// ArchiveSink delivers a finished archive and returns where it ended up.
type ArchiveSink interface {
	Deliver(ctx context.Context, name string, data []byte) (string, error)
}
