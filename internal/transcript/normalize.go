package transcript

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"fieldnotes/internal/textutil"
)

const (
	DefaultMinChars   = 80
	DefaultMaxChars   = 1200
	DefaultBatchChars = 24000
)

// Unit is a prompt-sized slice of the transcript. Numbers lists the original
// chunk numbers it covers in ascending order; units never introduce numbers
// of their own.
type Unit struct {
	Numbers []int
	Speaker string
	Text    string
}

// Covers reports whether n is one of the original chunk numbers in the unit.
func (u Unit) Covers(n int) bool {
	for _, num := range u.Numbers {
		if num == n {
			return true
		}
	}
	return false
}

// Label renders the citation prefix: [n] for a single chunk, [n-m] for a merged run.
func (u Unit) Label() string {
	switch len(u.Numbers) {
	case 0:
		return "[?]"
	case 1:
		return fmt.Sprintf("[%d]", u.Numbers[0])
	default:
		return fmt.Sprintf("[%d-%d]", u.Numbers[0], u.Numbers[len(u.Numbers)-1])
	}
}

// Line renders the unit as one prompt line.
func (u Unit) Line() string {
	if u.Speaker == "" {
		return u.Label() + " " + u.Text
	}
	return u.Label() + " " + u.Speaker + ": " + u.Text
}

// NormalizeOptions bounds unit sizes in runes. Zero values use the defaults.
type NormalizeOptions struct {
	MinChars int
	MaxChars int
}

func (o NormalizeOptions) withDefaults() NormalizeOptions {
	if o.MinChars <= 0 {
		o.MinChars = DefaultMinChars
	}
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.MinChars > o.MaxChars {
		o.MinChars = o.MaxChars
	}
	return o
}

// Normalize merges runs of short same-speaker chunks until they reach
// MinChars and splits chunks longer than MaxChars at sentence boundaries.
func Normalize(chunks []Chunk, opts NormalizeOptions) []Unit {
	opts = opts.withDefaults()
	units := make([]Unit, 0, len(chunks))
	var pending *Unit
	flush := func() {
		if pending != nil {
			units = append(units, *pending)
			pending = nil
		}
	}
	for _, chunk := range chunks {
		size := utf8.RuneCountInString(chunk.Text)
		if size > opts.MaxChars {
			flush()
			for _, piece := range splitLong(chunk.Text, opts.MaxChars) {
				units = append(units, Unit{Numbers: []int{chunk.Number}, Speaker: chunk.Speaker, Text: piece})
			}
			continue
		}
		if pending != nil && pending.Speaker == chunk.Speaker &&
			size < opts.MinChars && utf8.RuneCountInString(pending.Text) < opts.MinChars {
			pending.Numbers = append(pending.Numbers, chunk.Number)
			pending.Text += " " + chunk.Text
			continue
		}
		flush()
		pending = &Unit{Numbers: []int{chunk.Number}, Speaker: chunk.Speaker, Text: chunk.Text}
	}
	flush()
	return units
}

// splitLong packs sentences into pieces of at most maxChars runes. A single
// sentence longer than maxChars is cut at word boundaries.
func splitLong(text string, maxChars int) []string {
	var (
		pieces  []string
		current strings.Builder
	)
	emit := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
		}
	}
	add := func(segment string) {
		if current.Len() == 0 {
			current.WriteString(segment)
			return
		}
		if utf8.RuneCountInString(current.String())+1+utf8.RuneCountInString(segment) > maxChars {
			emit()
			current.WriteString(segment)
			return
		}
		current.WriteByte(' ')
		current.WriteString(segment)
	}
	for _, sentence := range textutil.SplitSentences(text) {
		if utf8.RuneCountInString(sentence) <= maxChars {
			add(sentence)
			continue
		}
		emit()
		for _, word := range strings.Fields(sentence) {
			add(word)
		}
		emit()
	}
	emit()
	return pieces
}

// Render produces the numbered prompt text, one unit per line.
func Render(units []Unit) string {
	var b strings.Builder
	for i, unit := range units {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(unit.Line())
	}
	return b.String()
}

// Batch groups units so each batch renders to at most maxChars runes. A unit
// that alone exceeds the budget becomes its own batch.
func Batch(units []Unit, maxChars int) [][]Unit {
	if maxChars <= 0 {
		maxChars = DefaultBatchChars
	}
	var (
		batches [][]Unit
		current []Unit
		size    int
	)
	for _, unit := range units {
		lineSize := utf8.RuneCountInString(unit.Line()) + 1
		if len(current) > 0 && size+lineSize > maxChars {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, unit)
		size += lineSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// ResolveReference reports whether n is an original chunk number covered by
// any unit.
func ResolveReference(units []Unit, n int) bool {
	for _, unit := range units {
		if unit.Covers(n) {
			return true
		}
	}
	return false
}
