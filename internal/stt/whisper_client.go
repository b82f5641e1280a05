package stt

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/einvoicetw/captcha-solver/internal/config"
)

// WhisperClient transcribes audio through an OpenAI-compatible
// /audio/transcriptions endpoint. Pointing OPENAI_BASE_URL at a self-hosted
// Whisper-compatible server works unchanged.
type WhisperClient struct {
	client *openai.Client
	model  string
}

var _ Transcriber = (*WhisperClient)(nil)

// NewWhisperClient creates a Whisper transcription client
func NewWhisperClient(cfg *config.Config) *WhisperClient {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}

	return &WhisperClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.WhisperModel,
	}
}

// Transcribe uploads the audio file and returns the decoded text.
func (w *WhisperClient) Transcribe(ctx context.Context, audioPath, language string) (*Result, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	return &Result{
		Text:     resp.Text,
		Duration: resp.Duration,
	}, nil
}

// Name identifies the provider
func (w *WhisperClient) Name() string {
	return config.ProviderWhisper
}
