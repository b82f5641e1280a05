package captcha

import (
	"errors"
	"fmt"
)

// Pipeline stage names, used in error wrapping and metrics labels.
const (
	StageTrigger    = "trigger"
	StageSource     = "source"
	StageDownload   = "download"
	StageTranscode  = "transcode"
	StageTranscribe = "transcribe"
	StageValidate   = "validate"
)

// ErrEmptyTranscript reports a transcription call that succeeded at the
// provider but decoded no text. The retry loop treats it like a provider
// failure.
var ErrEmptyTranscript = errors.New("captcha: transcription returned empty text")

// InvalidLengthError is the terminal validation failure: the mapped digit
// sequence is not exactly CodeLength digits. It is never retried, because
// re-transcribing the same clip would not change the mapping.
type InvalidLengthError struct {
	Digits string
	Length int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("captcha: mapped code %q has %d digits, want %d", e.Digits, e.Length, CodeLength)
}

// StageError tags an underlying failure with the pipeline stage it occurred
// in, so callers can tell a dead audio control apart from a dead STT
// provider without string matching.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("captcha: %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
