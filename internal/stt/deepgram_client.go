package stt

import (
	"context"
	"fmt"

	restv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/einvoicetw/captcha-solver/internal/config"
)

// DeepgramClient transcribes audio through Deepgram's prerecorded REST API.
// Challenge clips run a few seconds, so the one-shot REST path fits better
// than a streaming session.
type DeepgramClient struct {
	apiKey string
	model  string
}

var _ Transcriber = (*DeepgramClient)(nil)

// NewDeepgramClient creates a Deepgram prerecorded transcription client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	return &DeepgramClient{
		apiKey: cfg.DeepgramAPIKey,
		model:  cfg.DeepgramModel,
	}
}

// Transcribe uploads the audio file and returns the first alternative of
// the first channel.
func (d *DeepgramClient) Transcribe(ctx context.Context, audioPath, language string) (*Result, error) {
	tOptions := &interfaces.PreRecordedTranscriptionOptions{
		Model:    d.model,
		Language: language,
	}

	c := listenClient.NewREST(d.apiKey, &interfaces.ClientOptions{})
	dg := restv1api.New(c)

	res, err := dg.FromFile(ctx, audioPath, tOptions)
	if err != nil {
		return nil, fmt.Errorf("deepgram transcription failed: %w", err)
	}

	if res == nil || res.Results == nil ||
		len(res.Results.Channels) == 0 ||
		len(res.Results.Channels[0].Alternatives) == 0 {
		return nil, fmt.Errorf("deepgram returned no transcription alternatives")
	}

	alt := res.Results.Channels[0].Alternatives[0]

	return &Result{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
	}, nil
}

// Name identifies the provider
func (d *DeepgramClient) Name() string {
	return config.ProviderDeepgram
}
