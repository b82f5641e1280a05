package captcha

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/einvoicetw/captcha-solver/internal/browser"
	"github.com/einvoicetw/captcha-solver/internal/config"
	"github.com/einvoicetw/captcha-solver/internal/stt"
)

type fakeSession struct {
	clickErr       error
	attrValue      string
	attrErr        error
	clicks         []string
	focusMainCalls int
}

func (f *fakeSession) Goto(url string) error { return nil }

func (f *fakeSession) Click(selector string, timeout time.Duration) error {
	f.clicks = append(f.clicks, selector)
	return f.clickErr
}

func (f *fakeSession) WaitVisible(selector string, timeout time.Duration) error { return nil }

func (f *fakeSession) Attribute(selector, name string, timeout time.Duration) (string, error) {
	return f.attrValue, f.attrErr
}

func (f *fakeSession) Fill(selector, value string) error { return nil }
func (f *fakeSession) FocusFrame(nameOrURL string) error { return nil }
func (f *fakeSession) FocusMainFrame()                   { f.focusMainCalls++ }
func (f *fakeSession) URL() string                       { return "https://portal.test/login" }
func (f *fakeSession) Close() error                      { return nil }

type fakeDownloader struct {
	err   error
	calls int
	paths []string
}

func (f *fakeDownloader) Download(ctx context.Context, url, path string) error {
	f.calls++
	f.paths = append(f.paths, path)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(path, []byte("fake mp3 bytes"), 0o644)
}

type fakeTranscoder struct {
	available bool
	err       error
	calls     int
}

func (f *fakeTranscoder) Available() bool { return f.available }

func (f *fakeTranscoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

type transcribeResult struct {
	text string
	err  error
}

type fakeTranscriber struct {
	results []transcribeResult
	calls   int
	paths   []string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath, language string) (*stt.Result, error) {
	idx := f.calls
	f.calls++
	f.paths = append(f.paths, audioPath)
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	r := f.results[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &stt.Result{Text: r.text, Confidence: 0.9}, nil
}

func (f *fakeTranscriber) Name() string { return "fake" }

func testConfig() *config.Config {
	return &config.Config{
		TriggerLocator:     `button[title="play audio"]`,
		AudioLocator:       "audio",
		WaitTimeout:        time.Second,
		TranscribeAttempts: 3,
		STTLanguage:        "zh",
	}
}

func newTestResolver(downloader *fakeDownloader, transcoder *fakeTranscoder, transcriber *fakeTranscriber) *Resolver {
	return NewResolver(testConfig(), downloader, transcoder, transcriber)
}

// scratchDir recovers the per-attempt scratch directory from the path the
// downloader was handed.
func scratchDir(t *testing.T, downloader *fakeDownloader) string {
	t.Helper()
	if len(downloader.paths) == 0 {
		t.Fatal("Expected at least one download before inspecting scratch dir")
	}
	return filepath.Dir(downloader.paths[0])
}

func TestResolver_Solve(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{{text: "三二一零五"}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	code, err := resolver.Solve(context.Background(), session)
	if err != nil {
		t.Fatalf("Expected solve to succeed, got %v", err)
	}
	if code != "32105" {
		t.Errorf("Expected code 32105, got %q", code)
	}
	if len(session.clicks) != 1 || session.clicks[0] != testConfig().TriggerLocator {
		t.Errorf("Expected one click on the trigger locator, got %v", session.clicks)
	}
	if transcriber.calls != 1 {
		t.Errorf("Expected 1 transcription call, got %d", transcriber.calls)
	}
	if session.focusMainCalls != 2 {
		t.Errorf("Expected frame focus reset on entry and exit, got %d resets", session.focusMainCalls)
	}

	dir := scratchDir(t, downloader)
	if _, statErr := os.Stat(dir); !os.IsNotExist(statErr) {
		t.Errorf("Expected scratch dir %s to be removed after solve", dir)
	}
}

func TestResolver_Solve_MojibakeFallback(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{{text: "E二一零五"}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	code, err := resolver.Solve(context.Background(), session)
	if err != nil {
		t.Fatalf("Expected solve to succeed, got %v", err)
	}
	if code != "12105" {
		t.Errorf("Expected code 12105, got %q", code)
	}
}

func TestResolver_Solve_RetriesThenSucceeds(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{
		{err: errors.New("stt unavailable")},
		{err: errors.New("stt unavailable")},
		{text: "三二一零五"},
	}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	code, err := resolver.Solve(context.Background(), session)
	if err != nil {
		t.Fatalf("Expected solve to succeed after retries, got %v", err)
	}
	if code != "32105" {
		t.Errorf("Expected code 32105, got %q", code)
	}
	if transcriber.calls != 3 {
		t.Errorf("Expected exactly 3 transcription calls, got %d", transcriber.calls)
	}
	if downloader.calls != 1 {
		t.Errorf("Expected a single download across retries, got %d", downloader.calls)
	}
}

func TestResolver_Solve_AllAttemptsFail(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{{err: errors.New("stt unavailable")}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	_, err := resolver.Solve(context.Background(), session)
	if err == nil {
		t.Fatal("Expected solve to fail when every transcription attempt fails")
	}
	if transcriber.calls != 3 {
		t.Errorf("Expected exactly 3 transcription calls, got %d", transcriber.calls)
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Expected StageError, got %T", err)
	}
	if stageErr.Stage != StageTranscribe {
		t.Errorf("Expected stage %q, got %q", StageTranscribe, stageErr.Stage)
	}
	if session.focusMainCalls != 2 {
		t.Errorf("Expected frame focus reset on failure exit, got %d resets", session.focusMainCalls)
	}

	dir := scratchDir(t, downloader)
	if _, statErr := os.Stat(dir); !os.IsNotExist(statErr) {
		t.Errorf("Expected scratch dir %s to be removed after failure", dir)
	}
}

func TestResolver_Solve_EmptyTranscriptConsumesAttempt(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{
		{text: ""},
		{text: ""},
		{text: "三二一零五"},
	}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	code, err := resolver.Solve(context.Background(), session)
	if err != nil {
		t.Fatalf("Expected solve to succeed on third attempt, got %v", err)
	}
	if code != "32105" {
		t.Errorf("Expected code 32105, got %q", code)
	}
	if transcriber.calls != 3 {
		t.Errorf("Expected empty transcripts to consume attempts, got %d calls", transcriber.calls)
	}
}

func TestResolver_Solve_AllEmptyTranscripts(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{{text: ""}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	_, err := resolver.Solve(context.Background(), session)
	if err == nil {
		t.Fatal("Expected solve to fail when every transcript is empty")
	}
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("Expected ErrEmptyTranscript in chain, got %v", err)
	}
	if transcriber.calls != 3 {
		t.Errorf("Expected exactly 3 transcription calls, got %d", transcriber.calls)
	}
}

func TestResolver_Solve_InvalidLengthNotRetried(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
	}{
		{name: "too short", transcript: "三二一零"},
		{name: "too long", transcript: "三二一零五六"},
		{name: "nothing mappable", transcript: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
			downloader := &fakeDownloader{}
			transcoder := &fakeTranscoder{available: true}
			transcriber := &fakeTranscriber{results: []transcribeResult{{text: tt.transcript}}}

			resolver := newTestResolver(downloader, transcoder, transcriber)
			_, err := resolver.Solve(context.Background(), session)
			if err == nil {
				t.Fatal("Expected solve to reject a wrong-length code")
			}

			var lengthErr *InvalidLengthError
			if !errors.As(err, &lengthErr) {
				t.Fatalf("Expected InvalidLengthError, got %v", err)
			}
			if transcriber.calls != 1 {
				t.Errorf("Expected no re-transcription after mapping failure, got %d calls", transcriber.calls)
			}
		})
	}
}

func TestResolver_Solve_TranscoderUnavailable(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: false}
	transcriber := &fakeTranscriber{results: []transcribeResult{{text: "三二一零五"}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	code, err := resolver.Solve(context.Background(), session)
	if err != nil {
		t.Fatalf("Expected solve to proceed without a transcoder, got %v", err)
	}
	if code != "32105" {
		t.Errorf("Expected code 32105, got %q", code)
	}
	if transcoder.calls != 0 {
		t.Errorf("Expected no transcode calls when unavailable, got %d", transcoder.calls)
	}
	if len(transcriber.paths) != 1 || !strings.HasSuffix(transcriber.paths[0], ".mp3") {
		t.Errorf("Expected transcription of the raw download, got %v", transcriber.paths)
	}
}

func TestResolver_Solve_TranscodeFailureFallsBack(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true, err: errors.New("codec exploded")}
	transcriber := &fakeTranscriber{results: []transcribeResult{{text: "三二一零五"}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	code, err := resolver.Solve(context.Background(), session)
	if err != nil {
		t.Fatalf("Expected solve to survive a failed transcode, got %v", err)
	}
	if code != "32105" {
		t.Errorf("Expected code 32105, got %q", code)
	}
	if transcoder.calls != 1 {
		t.Errorf("Expected one transcode attempt, got %d", transcoder.calls)
	}
	if len(transcriber.paths) != 1 || !strings.HasSuffix(transcriber.paths[0], ".mp3") {
		t.Errorf("Expected fallback to the raw download, got %v", transcriber.paths)
	}
}

func TestResolver_Solve_NormalizedClipUsedWhenTranscodeWorks(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{{text: "三二一零五"}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	if _, err := resolver.Solve(context.Background(), session); err != nil {
		t.Fatalf("Expected solve to succeed, got %v", err)
	}
	if len(transcriber.paths) != 1 || !strings.HasSuffix(transcriber.paths[0], "_converted.wav") {
		t.Errorf("Expected transcription of the normalized clip, got %v", transcriber.paths)
	}
}

func TestResolver_Solve_TriggerFailure(t *testing.T) {
	session := &fakeSession{clickErr: browser.ErrTimeout}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{{text: "三二一零五"}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	_, err := resolver.Solve(context.Background(), session)
	if err == nil {
		t.Fatal("Expected solve to fail when the trigger control never responds")
	}
	if !errors.Is(err, browser.ErrTimeout) {
		t.Errorf("Expected browser.ErrTimeout in chain, got %v", err)
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Expected StageError, got %T", err)
	}
	if stageErr.Stage != StageTrigger {
		t.Errorf("Expected stage %q, got %q", StageTrigger, stageErr.Stage)
	}
	if downloader.calls != 0 {
		t.Errorf("Expected no download after trigger failure, got %d", downloader.calls)
	}
	if session.focusMainCalls != 2 {
		t.Errorf("Expected frame focus reset even on trigger failure, got %d resets", session.focusMainCalls)
	}
}

func TestResolver_Solve_MissingAudioSource(t *testing.T) {
	session := &fakeSession{attrValue: ""}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{{text: "三二一零五"}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	_, err := resolver.Solve(context.Background(), session)
	if err == nil {
		t.Fatal("Expected solve to fail when the audio element has no src")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Expected StageError, got %T", err)
	}
	if stageErr.Stage != StageSource {
		t.Errorf("Expected stage %q, got %q", StageSource, stageErr.Stage)
	}
	if downloader.calls != 0 {
		t.Errorf("Expected no download without a source URL, got %d", downloader.calls)
	}
}

func TestResolver_Solve_DownloadFailure(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{err: errors.New("connection reset")}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{{text: "三二一零五"}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	_, err := resolver.Solve(context.Background(), session)
	if err == nil {
		t.Fatal("Expected solve to fail when the download fails")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Expected StageError, got %T", err)
	}
	if stageErr.Stage != StageDownload {
		t.Errorf("Expected stage %q, got %q", StageDownload, stageErr.Stage)
	}
	if downloader.calls != 1 {
		t.Errorf("Expected a single download attempt with no retry, got %d", downloader.calls)
	}
	if transcriber.calls != 0 {
		t.Errorf("Expected no transcription after download failure, got %d", transcriber.calls)
	}
}

func TestResolver_Solve_CancelledContextNotRetried(t *testing.T) {
	session := &fakeSession{attrValue: "https://portal.test/captcha/audio.mp3"}
	downloader := &fakeDownloader{}
	transcoder := &fakeTranscoder{available: true}
	transcriber := &fakeTranscriber{results: []transcribeResult{{err: context.Canceled}}}

	resolver := newTestResolver(downloader, transcoder, transcriber)
	_, err := resolver.Solve(context.Background(), session)
	if err == nil {
		t.Fatal("Expected solve to fail on cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got %v", err)
	}
	if transcriber.calls != 1 {
		t.Errorf("Expected cancellation to stop retries, got %d calls", transcriber.calls)
	}
}
