// Package transcription turns recordings into text through a
// whisper-compatible HTTP endpoint and stores the result beside the audio.
package transcription
