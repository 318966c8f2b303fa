package transcript

import (
	"fmt"
	"strings"
	"time"
)

// Format selects the transcript parser.
type Format string

const (
	FormatAuto  Format = "auto"
	FormatVTT   Format = "vtt"
	FormatPlain Format = "plain"
)

// ParseFormat converts a user supplied name into a Format. Empty means auto.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return FormatAuto, nil
	case "vtt", "webvtt":
		return FormatVTT, nil
	case "plain", "text", "txt":
		return FormatPlain, nil
	default:
		return "", fmt.Errorf("unknown transcript format %q (want auto, vtt or plain)", value)
	}
}

// Chunk is one speaker turn or cue. Number is the stable citation key.
type Chunk struct {
	Number    int           `json:"chunk_number"`
	Speaker   string        `json:"speaker"`
	Text      string        `json:"text"`
	Start     time.Duration `json:"-"`
	End       time.Duration `json:"-"`
	HasTiming bool          `json:"-"`
}

// ValidNumber reports whether n falls inside [1, len(chunks)].
func ValidNumber(chunks []Chunk, n int) bool {
	return n >= 1 && n <= len(chunks)
}
