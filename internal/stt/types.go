package stt

import "context"

// Result is the raw output of one transcription request. It is scoped to a
// single audio artifact and never reused across solve attempts.
type Result struct {
	// Text is the transcript as returned by the provider, unmodified.
	Text string

	// Confidence is the provider's confidence score (0.0 to 1.0), when
	// reported.
	Confidence float64

	// Duration is the audio duration in seconds, when reported.
	Duration float64
}

// Transcriber converts a recorded audio file into text. The language
// parameter is a decoding hint ("zh" for the portal's spoken-digit
// challenges); providers that cannot honor it ignore it.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (*Result, error)

	// Name identifies the provider in logs and errors.
	Name() string
}
