package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// State mirrors the generator snapshot. Error is null when there is no
// failure.
type State struct {
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	Message        string  `json:"message"`
	Error          *string `json:"error"`
	BookTitle      string  `json:"bookTitle"`
	VoiceName      string  `json:"voiceName,omitempty"`
	TotalFiles     int     `json:"totalFiles"`
	CompletedFiles int     `json:"completedFiles"`
	RunID          string  `json:"runId,omitempty"`
	ArchiveName    string  `json:"archiveName,omitempty"`
	ArchivePath    string  `json:"archivePath,omitempty"`
}

// ChapterRequest is one chapter in a start request. Index is optional and
// defaults to the chapter's 1-based position.
type ChapterRequest struct {
	Index  int    `json:"index,omitempty"`
	Title  string `json:"title"`
	Markup string `json:"markup"`
}

// StartRequest is the body of POST /api/audiobook/start.
type StartRequest struct {
	BookTitle         string           `json:"bookTitle"`
	VoiceName         string           `json:"voiceName"`
	VoiceInstructions string           `json:"voiceInstructions,omitempty"`
	Chapters          []ChapterRequest `json:"chapters"`
}

// ActionResponse acknowledges a control request.
type ActionResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
	State    State  `json:"state"`
}

// ArchiveEntry describes one chapter file held for the current run.
type ArchiveEntry struct {
	Name            string  `json:"name"`
	Chapter         int     `json:"chapter"`
	Bytes           int     `json:"bytes"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// ArchiveListResponse wraps the accumulated chapter listing.
type ArchiveListResponse struct {
	RunID string         `json:"runId,omitempty"`
	Files []ArchiveEntry `json:"files"`
}

// HistoryRun is one ledger entry.
type HistoryRun struct {
	RunID          string  `json:"runId"`
	BookTitle      string  `json:"bookTitle"`
	Voice          string  `json:"voice,omitempty"`
	Status         string  `json:"status"`
	TotalFiles     int     `json:"totalFiles"`
	CompletedFiles int     `json:"completedFiles"`
	Progress       float64 `json:"progress"`
	Message        string  `json:"message,omitempty"`
	Error          string  `json:"error,omitempty"`
	ArchiveName    string  `json:"archiveName,omitempty"`
	ArchivePath    string  `json:"archivePath,omitempty"`
	StartedAt      string  `json:"startedAt,omitempty"`
	UpdatedAt      string  `json:"updatedAt,omitempty"`
	FinishedAt     string  `json:"finishedAt,omitempty"`
}

// HistoryResponse wraps a collection of ledger entries.
type HistoryResponse struct {
	Runs []HistoryRun `json:"runs"`
}

// CheckResult mirrors a preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool          `json:"running"`
	PID           int           `json:"pid"`
	LockFilePath  string        `json:"lockFilePath"`
	HistoryDBPath string        `json:"historyDbPath,omitempty"`
	OutputDir     string        `json:"outputDir"`
	RelayEnabled  bool          `json:"relayEnabled"`
	Generator     State         `json:"generator"`
	Checks        []CheckResult `json:"checks"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
