package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Normalized output parameters expected by the speech-to-text providers:
// 16 kHz, mono, 16-bit linear PCM.
const (
	targetSampleRate = 16000
	targetChannels   = 1
	targetCodec      = "pcm_s16le"
)

// Transcoder normalizes a downloaded audio file into the sample format the
// speech-to-text providers expect. Implementations report Available so the
// pipeline can skip normalization and feed the raw audio when the utility
// is missing.
type Transcoder interface {
	// Transcode renders inPath at outPath in the normalized format,
	// overwriting any existing file.
	Transcode(ctx context.Context, inPath, outPath string) error

	// Available reports whether the transcoding utility can be invoked.
	Available() bool
}

// FFmpegTranscoder shells out to ffmpeg for normalization.
type FFmpegTranscoder struct {
	binPath string
}

var _ Transcoder = (*FFmpegTranscoder)(nil)

// NewFFmpegTranscoder creates a transcoder using the given ffmpeg binary.
// An empty binPath resolves "ffmpeg" from PATH.
func NewFFmpegTranscoder(binPath string) *FFmpegTranscoder {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &FFmpegTranscoder{binPath: binPath}
}

// Available reports whether the ffmpeg binary resolves.
func (t *FFmpegTranscoder) Available() bool {
	_, err := exec.LookPath(t.binPath)
	return err == nil
}

// Transcode renders inPath as a 16 kHz mono pcm_s16le WAV at outPath.
// ffmpeg's diagnostics are folded into the returned error.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, inPath, outPath string) error {
	cmd := exec.CommandContext(ctx, t.binPath,
		"-y",
		"-i", inPath,
		"-ar", strconv.Itoa(targetSampleRate),
		"-ac", strconv.Itoa(targetChannels),
		"-c:a", targetCodec,
		outPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail != "" {
			return fmt.Errorf("audio: ffmpeg transcode of %s failed: %w: %s", inPath, err, detail)
		}
		return fmt.Errorf("audio: ffmpeg transcode of %s failed: %w", inPath, err)
	}

	return nil
}
