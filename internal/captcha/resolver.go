// Package captcha resolves the portal's audio CAPTCHA: it triggers the
// spoken rendition of the challenge, downloads and normalizes the clip,
// transcribes it, and maps the spoken-digit transcript onto the 5-digit
// code the login form expects.
package captcha

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/einvoicetw/captcha-solver/internal/audio"
	"github.com/einvoicetw/captcha-solver/internal/browser"
	"github.com/einvoicetw/captcha-solver/internal/config"
	"github.com/einvoicetw/captcha-solver/internal/observability"
	"github.com/einvoicetw/captcha-solver/internal/resilience"
	"github.com/einvoicetw/captcha-solver/internal/stt"
)

// Downloader fetches a URL into a local file. *fetch.Client satisfies it.
type Downloader interface {
	Download(ctx context.Context, url, path string) error
}

// Resolver runs the audio-challenge pipeline against a browser session.
// Collaborators are injected once and reused across Solve calls; the
// resolver itself keeps no per-attempt state.
type Resolver struct {
	cfg         *config.Config
	downloader  Downloader
	transcoder  audio.Transcoder
	transcriber stt.Transcriber
}

// NewResolver wires the pipeline's collaborators.
func NewResolver(cfg *config.Config, downloader Downloader, transcoder audio.Transcoder, transcriber stt.Transcriber) *Resolver {
	return &Resolver{
		cfg:         cfg,
		downloader:  downloader,
		transcoder:  transcoder,
		transcriber: transcriber,
	}
}

// Solve resolves the audio CAPTCHA on the session's current page and returns
// the validated 5-digit code. The session must already be positioned on a
// page carrying the challenge. Either a full code comes back or an error;
// there is no partial result, and scratch audio never outlives the call.
func (r *Resolver) Solve(ctx context.Context, session browser.Session) (string, error) {
	attemptID := observability.NewAttemptID()
	logger := observability.WithAttemptID(attemptID)
	metrics := observability.NewSolveMetrics(attemptID)

	metrics.RecordSolveStart()
	code, err := r.solve(ctx, session, attemptID, logger, metrics)
	metrics.RecordSolveEnd(err == nil)

	if err != nil {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			metrics.RecordError(stageErr.Stage, "captcha")
		}
		logger.Error().Err(err).Msg("Audio CAPTCHA solve failed")
		return "", err
	}

	logger.Info().Str("code", code).Msg("Audio CAPTCHA solved")
	return code, nil
}

func (r *Resolver) solve(ctx context.Context, session browser.Session, attemptID string, logger zerolog.Logger, metrics *observability.Metrics) (string, error) {
	// Frame focus left over from earlier page work makes the challenge
	// lookup miss. Reset before searching, and again on every exit path so
	// a failed attempt never leaks focus into whatever runs next.
	session.FocusMainFrame()
	defer session.FocusMainFrame()

	if err := session.Click(r.cfg.TriggerLocator, r.cfg.WaitTimeout); err != nil {
		metrics.RecordStageFailure(StageTrigger)
		return "", &StageError{Stage: StageTrigger, Err: err}
	}
	logger.Debug().Msg("Audio challenge triggered")

	// The clip URL is minted per challenge; read it fresh every attempt.
	src, err := session.Attribute(r.cfg.AudioLocator, "src", r.cfg.WaitTimeout)
	if err != nil {
		metrics.RecordStageFailure(StageSource)
		return "", &StageError{Stage: StageSource, Err: err}
	}
	if src == "" {
		metrics.RecordStageFailure(StageSource)
		return "", &StageError{Stage: StageSource, Err: errors.New("audio element has no src")}
	}

	scratch, err := audio.NewScratch(attemptID)
	if err != nil {
		metrics.RecordStageFailure(StageDownload)
		return "", &StageError{Stage: StageDownload, Err: err}
	}
	defer func() {
		if cerr := scratch.Cleanup(); cerr != nil {
			logger.Warn().Err(cerr).Str("dir", scratch.Dir()).Msg("Failed to remove scratch audio")
		}
	}()

	metrics.RecordDownloadStart()
	err = r.downloader.Download(ctx, src, scratch.SourcePath())
	metrics.RecordDownloadEnd(err == nil)
	if err != nil {
		metrics.RecordStageFailure(StageDownload)
		return "", &StageError{Stage: StageDownload, Err: err}
	}
	logger.Debug().Str("url", src).Msg("Challenge audio downloaded")

	clipPath := r.normalize(ctx, scratch, logger, metrics)

	text, err := r.transcribe(ctx, clipPath, logger, metrics)
	if err != nil {
		metrics.RecordStageFailure(StageTranscribe)
		return "", &StageError{Stage: StageTranscribe, Err: err}
	}

	cleaned := CleanTranscript(text)
	digits := MapDigits(cleaned)
	logger.Debug().
		Str("transcript", text).
		Str("cleaned", cleaned).
		Str("digits", digits).
		Msg("Transcript mapped to digits")

	if err := ValidateCode(digits); err != nil {
		metrics.RecordStageFailure(StageValidate)
		return "", &StageError{Stage: StageValidate, Err: err}
	}

	return digits, nil
}

// normalize transcodes the downloaded clip into the format the STT providers
// handle best. Normalization is best effort: if the transcoder is missing or
// the transcode fails, the raw download is used instead and the attempt
// continues.
func (r *Resolver) normalize(ctx context.Context, scratch *audio.Scratch, logger zerolog.Logger, metrics *observability.Metrics) string {
	if !r.transcoder.Available() {
		logger.Warn().Msg("Transcoder unavailable, using raw challenge audio")
		metrics.RecordTranscodeFallback()
		return scratch.SourcePath()
	}

	metrics.RecordTranscodeStart()
	err := r.transcoder.Transcode(ctx, scratch.SourcePath(), scratch.NormalizedPath())
	metrics.RecordTranscodeEnd(err == nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Transcode failed, using raw challenge audio")
		metrics.RecordTranscodeFallback()
		return scratch.SourcePath()
	}

	return scratch.NormalizedPath()
}

// transcribe calls the STT provider with bounded retry. Provider errors and
// empty transcripts both consume an attempt; the first non-empty text wins.
// Context cancellation is not retried.
func (r *Resolver) transcribe(ctx context.Context, clipPath string, logger zerolog.Logger, metrics *observability.Metrics) (string, error) {
	attempts := r.cfg.TranscribeAttempts
	if attempts < 1 {
		attempts = 1
	}

	retryCfg := &resilience.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	isRetryable := func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}

	var text string
	attempt := 0
	err := resilience.Retry(func() error {
		attempt++
		metrics.RecordSTTStart()
		result, terr := r.transcriber.Transcribe(ctx, clipPath, r.cfg.STTLanguage)
		if terr != nil {
			metrics.RecordSTTEnd(false)
			logger.Warn().Err(terr).Int("attempt", attempt).Msg("Transcription attempt failed")
			return terr
		}
		if result.Text == "" {
			metrics.RecordSTTEnd(false)
			logger.Warn().Int("attempt", attempt).Msg("Transcription attempt returned empty text")
			return ErrEmptyTranscript
		}
		metrics.RecordSTTEnd(true)
		text = result.Text
		return nil
	}, retryCfg, isRetryable)
	if err != nil {
		return "", err
	}

	logger.Debug().Str("provider", r.transcriber.Name()).Int("attempts", attempt).Msg("Transcription succeeded")
	return text, nil
}
