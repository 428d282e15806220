// Package audio converts raw speech synthesis output into playable files.
//
// The synthesis API returns headerless little-endian PCM encoded as base64.
// DecodeBase64 recovers the bytes and BuildWAV prepends a canonical 44-byte
// RIFF/WAVE header so the result opens in any player. ParseWAVHeader reads a
// header back for verification and for providers that already return WAV.
package audio
