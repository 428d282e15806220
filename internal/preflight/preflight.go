package preflight

import (
	"context"

	"bookvoice/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Output directory (always checked)
	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))

	// State directory holds the lock and history database
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	results = append(results, CheckSpeech(ctx, cfg.Speech))

	if cfg.Redis.Enabled {
		results = append(results, CheckRedis(ctx, cfg.Redis))
	}

	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
