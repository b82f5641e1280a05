package stt

import (
	"fmt"

	"github.com/einvoicetw/captcha-solver/internal/config"
)

// New selects the transcription backend named by cfg.STTProvider.
func New(cfg *config.Config) (Transcriber, error) {
	switch cfg.STTProvider {
	case config.ProviderWhisper:
		return NewWhisperClient(cfg), nil
	case config.ProviderDeepgram:
		return NewDeepgramClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.STTProvider)
	}
}
