package transcript

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"fieldnotes/internal/textutil"
)

const (
	maxSpeakerRunes = 40
	maxSpeakerWords = 4
	// Inputs where more than this share of bytes is invalid UTF-8 are rejected
	// rather than repaired.
	maxInvalidUTF8Ratio = 0.1
)

var (
	voiceTagPattern    = regexp.MustCompile(`<v(?:\.[^\s>]*)?\s+([^>]+)>`)
	inlineTagPattern   = regexp.MustCompile(`</?[^>]+>`)
	speakerPrefix      = regexp.MustCompile(`^([^:]{1,40}):(?:\s+(.*))?$`)
	bracketTimePrefix  = regexp.MustCompile(`^\[((?:\d{1,2}:)?\d{1,2}:\d{2}(?:[.,]\d{1,3})?)\]\s*`)
	parenTimeSpeaker   = regexp.MustCompile(`^([^:()]{1,40}?)\s*\(((?:\d{1,2}:)?\d{1,2}:\d{2}(?:[.,]\d{1,3})?)\)\s*:(?:\s*(.*))?$`)
	utf8BOM            = []byte{0xEF, 0xBB, 0xBF}
	vttSkippableBlocks = []string{"NOTE", "STYLE", "REGION"}
)

// DetectFormat reports FormatVTT when the content carries a WEBVTT header or
// any cue timing line, FormatPlain otherwise.
func DetectFormat(raw []byte) Format {
	content := bytes.TrimPrefix(raw, utf8BOM)
	if bytes.HasPrefix(bytes.TrimLeft(content, " \t\r\n"), []byte("WEBVTT")) {
		return FormatVTT
	}
	for _, line := range strings.Split(string(content), "\n") {
		if isTimingLine(line) {
			return FormatVTT
		}
	}
	return FormatPlain
}

// ParseFile reads path and parses it. With FormatAuto a .vtt extension selects
// the cue parser; anything else is detected from content.
func ParseFile(path string, format Format) ([]Chunk, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if format == "" || format == FormatAuto {
		if strings.EqualFold(filepath.Ext(path), ".vtt") {
			format = FormatVTT
		}
	}
	return Parse(raw, format)
}

// Parse converts raw transcript bytes into chunks numbered 1..N.
func Parse(raw []byte, format Format) ([]Chunk, error) {
	text, err := decodeText(raw, format)
	if err != nil {
		return nil, err
	}
	if format == "" || format == FormatAuto {
		format = DetectFormat([]byte(text))
	}

	var chunks []Chunk
	switch format {
	case FormatVTT:
		chunks, err = parseVTT(text)
	case FormatPlain:
		chunks, err = parsePlain(text)
	default:
		return nil, formatError(format, "unsupported format")
	}
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].Number = i + 1
	}
	return chunks, nil
}

func decodeText(raw []byte, format Format) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", formatError(format, "empty transcript")
	}
	if !utf8.Valid(raw) {
		repaired := bytes.ToValidUTF8(raw, nil)
		dropped := len(raw) - len(repaired)
		if float64(dropped)/float64(len(raw)) > maxInvalidUTF8Ratio {
			return "", formatError(format, "content is not valid UTF-8 text")
		}
		raw = repaired
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n"), nil
}

func parseVTT(text string) ([]Chunk, error) {
	blocks := splitBlocks(text)
	var chunks []Chunk
	for i, block := range blocks {
		lines := strings.Split(block, "\n")
		first := strings.TrimSpace(lines[0])
		if i == 0 && strings.HasPrefix(first, "WEBVTT") {
			continue
		}
		if isSkippableVTTBlock(first) {
			continue
		}
		timing := -1
		for idx, line := range lines {
			if isTimingLine(line) {
				timing = idx
				break
			}
		}
		if timing < 0 {
			continue
		}
		chunk := Chunk{}
		if start, end, err := parseTimingLine(lines[timing]); err == nil {
			chunk.Start, chunk.End, chunk.HasTiming = start, end, true
		}
		chunk.Speaker, chunk.Text = cuePayload(lines[timing+1:])
		if chunk.Text == "" {
			continue
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return nil, formatError(FormatVTT, "no cues found")
	}
	return chunks, nil
}

func splitBlocks(text string) []string {
	var (
		blocks  []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

func isSkippableVTTBlock(first string) bool {
	for _, keyword := range vttSkippableBlocks {
		if first == keyword || strings.HasPrefix(first, keyword+" ") || strings.HasPrefix(first, keyword+"\t") {
			return true
		}
	}
	return false
}

func isTimingLine(line string) bool {
	if !strings.Contains(line, "-->") {
		return false
	}
	_, _, err := parseTimingLine(line)
	return err == nil
}

func parseTimingLine(line string) (time.Duration, time.Duration, error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid cue timing %q", line)
	}
	endFields := strings.Fields(parts[1])
	if len(endFields) == 0 {
		return 0, 0, fmt.Errorf("invalid cue timing %q", line)
	}
	start, err := parseTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimestamp(endFields[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp accepts [HH:]MM:SS with an optional .mmm or ,mmm fraction.
func parseTimestamp(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ",", ".")
	clock, fraction, _ := strings.Cut(value, ".")
	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	var total time.Duration
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		total = total*60 + time.Duration(n)*time.Second
	}
	if fraction != "" {
		if len(fraction) > 3 {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		millis, err := strconv.Atoi((fraction + "00")[:3])
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		total += time.Duration(millis) * time.Millisecond
	}
	return total, nil
}

func cuePayload(lines []string) (string, string) {
	joined := strings.Join(lines, " ")
	speaker := ""
	if match := voiceTagPattern.FindStringSubmatch(joined); match != nil {
		speaker = textutil.CollapseWhitespace(match[1])
	}
	text := textutil.CollapseWhitespace(inlineTagPattern.ReplaceAllString(joined, ""))
	if speaker == "" {
		if name, rest, ok := splitSpeakerPrefix(text); ok {
			speaker, text = name, rest
		}
	}
	return speaker, text
}

func splitSpeakerPrefix(line string) (string, string, bool) {
	match := speakerPrefix.FindStringSubmatch(line)
	if match == nil || !validSpeakerName(match[1]) {
		return "", "", false
	}
	return strings.TrimSpace(match[1]), strings.TrimSpace(match[2]), true
}

func validSpeakerName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxSpeakerRunes {
		return false
	}
	if strings.ContainsAny(name, ".!?") {
		return false
	}
	if len(strings.Fields(name)) > maxSpeakerWords {
		return false
	}
	return strings.IndexFunc(name, unicode.IsLetter) >= 0
}

// plausibleNewSpeaker guards plain-text turns against continuation lines
// such as "First problem: login is slow". A multi-word name seen for the
// first time must start and end with a capitalized word or a number.
func plausibleNewSpeaker(name string) bool {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return true
	}
	return nameWord(fields[0]) && nameWord(fields[len(fields)-1])
}

func nameWord(word string) bool {
	r, _ := utf8.DecodeRuneInString(word)
	return unicode.IsUpper(r) || unicode.IsDigit(r)
}

type turn struct {
	speaker string
	start   time.Duration
	timed   bool
	lines   []string
}

func parsePlain(text string) ([]Chunk, error) {
	var (
		turns   []*turn
		current *turn
		seen    = make(map[string]bool)
	)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		speaker, body, start, timed, ok := parseSpeakerLine(line)
		if ok && (timed || seen[speaker] || plausibleNewSpeaker(speaker)) {
			seen[speaker] = true
			current = &turn{speaker: speaker, start: start, timed: timed}
			if body != "" {
				current.lines = append(current.lines, body)
			}
			turns = append(turns, current)
			continue
		}
		if current == nil {
			current = &turn{}
			turns = append(turns, current)
		}
		current.lines = append(current.lines, line)
	}
	if len(seen) == 0 {
		return nil, formatError(FormatPlain, "no speaker lines found (expected \"Name: text\")")
	}
	chunks := make([]Chunk, 0, len(turns))
	for _, t := range turns {
		body := textutil.CollapseWhitespace(strings.Join(t.lines, " "))
		if body == "" {
			continue
		}
		chunks = append(chunks, Chunk{Speaker: t.speaker, Text: body, Start: t.start, HasTiming: t.timed})
	}
	if len(chunks) == 0 {
		return nil, formatError(FormatPlain, "no speaker turns with text")
	}
	return chunks, nil
}

func parseSpeakerLine(line string) (speaker, body string, start time.Duration, timed, ok bool) {
	if loc := bracketTimePrefix.FindStringSubmatchIndex(line); loc != nil {
		if ts, err := parseTimestamp(line[loc[2]:loc[3]]); err == nil {
			start, timed = ts, true
		}
		line = line[loc[1]:]
	}
	if match := parenTimeSpeaker.FindStringSubmatch(line); match != nil && validSpeakerName(match[1]) {
		if ts, err := parseTimestamp(match[2]); err == nil {
			start, timed = ts, true
		}
		return strings.TrimSpace(match[1]), strings.TrimSpace(match[3]), start, timed, true
	}
	name, rest, found := splitSpeakerPrefix(line)
	if !found {
		return "", "", 0, false, false
	}
	return name, rest, start, timed, true
}
