// Package speech talks to the hosted speech synthesis API (Gemini
// generateContent with audio response modality).
//
// A Client turns one chapter of narration text plus a prebuilt voice name and
// free-form style instructions into base64-encoded 16-bit PCM. Retry support
// exists for transient HTTP failures but is disabled by default: the
// audiobook pipeline stops on the first failed chapter and leaves the decision
// to retry to the user.
package speech
