package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Scratch owns the transient audio artifacts of one solve attempt: the
// challenge audio as downloaded and, when normalization succeeds, its
// 16 kHz mono PCM rendition. The whole scope is removed by Cleanup, so no
// artifact outlives the attempt that created it.
type Scratch struct {
	dir  string
	base string
}

// NewScratch creates a per-attempt scratch directory. base names the
// artifacts inside it; when empty, a timestamp is used.
func NewScratch(base string) (*Scratch, error) {
	dir, err := os.MkdirTemp("", "captcha-audio-")
	if err != nil {
		return nil, fmt.Errorf("audio: create scratch dir: %w", err)
	}
	if base == "" {
		base = time.Now().Format("20060102150405")
	}
	return &Scratch{dir: dir, base: base}, nil
}

// Dir returns the scratch directory path.
func (s *Scratch) Dir() string {
	return s.dir
}

// SourcePath is the destination for the challenge audio as downloaded.
func (s *Scratch) SourcePath() string {
	return filepath.Join(s.dir, s.base+".mp3")
}

// NormalizedPath is the destination for the transcoded rendition.
func (s *Scratch) NormalizedPath() string {
	return filepath.Join(s.dir, s.base+"_converted.wav")
}

// Cleanup removes the scratch directory and everything in it.
func (s *Scratch) Cleanup() error {
	return os.RemoveAll(s.dir)
}
