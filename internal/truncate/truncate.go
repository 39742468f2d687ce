// Package truncate bounds tool-result size before it reaches the LLM
// context (spec §4.12): per-tool-type character/line caps, with an opaque
// handle store for results above the file-reference threshold.
package truncate

import (
	"fmt"
	"strings"
)

// Limits is a character/line cap pair.
type Limits struct {
	MaxChars int
	MaxLines int
}

// Defaults are the per-tool-type caps from spec §4.12.
var Defaults = map[string]Limits{
	"filesystem": {MaxChars: 50000, MaxLines: 1000},
	"shell":      {MaxChars: 20000, MaxLines: 500},
	"tasklist":   {MaxChars: 10000, MaxLines: 200},
}

// DefaultLimits is used for tool types not present in Defaults.
var DefaultLimits = Limits{MaxChars: 30000, MaxLines: 750}

// FileReferenceThreshold is the size above which content is stored by
// handle instead of being truncated inline (spec §4.12).
const FileReferenceThreshold = 100000

// PreviewMaxLines and PreviewMaxChars bound the preview embedded in a
// file-reference descriptor.
const (
	PreviewMaxLines = 10
	PreviewMaxChars = 500
)

// LimitsFor returns the caps for a given plugin/tool category, falling back
// to DefaultLimits for unrecognized categories.
func LimitsFor(category string) Limits {
	if l, ok := Defaults[category]; ok {
		return l
	}
	return DefaultLimits
}

// truncMarkerPrefix opens every marker Truncate appends; its presence at the
// end of s means s is already the output of a prior Truncate call.
const truncMarkerPrefix = "\n... [truncated:"

// Truncate applies character-cap-then-line-cap truncation to s, appending a
// trailing marker describing how much was dropped. Truncation is idempotent:
// Truncate(Truncate(s, l), l) == Truncate(s, l) — a string already carrying
// a truncation marker is returned unchanged rather than re-truncated, since
// the marker itself can push the length back over MaxChars.
func Truncate(s string, limits Limits) string {
	if strings.Contains(s, truncMarkerPrefix) {
		return s
	}

	original := s
	charsDropped := 0
	if limits.MaxChars > 0 && len(s) > limits.MaxChars {
		charsDropped = len(s) - limits.MaxChars
		s = s[:limits.MaxChars]
	}

	lines := strings.Split(s, "\n")
	linesDropped := 0
	if limits.MaxLines > 0 && len(lines) > limits.MaxLines {
		linesDropped = len(lines) - limits.MaxLines
		lines = lines[:limits.MaxLines]
		s = strings.Join(lines, "\n")
	}

	if charsDropped == 0 && linesDropped == 0 {
		return original
	}
	return s + marker(charsDropped, linesDropped)
}

func marker(charsDropped, linesDropped int) string {
	switch {
	case charsDropped > 0 && linesDropped > 0:
		return fmt.Sprintf("\n... [truncated: %d chars and %d lines dropped]", charsDropped, linesDropped)
	case charsDropped > 0:
		return fmt.Sprintf("\n... [truncated: %d chars dropped]", charsDropped)
	case linesDropped > 0:
		return fmt.Sprintf("\n... [truncated: %d lines dropped]", linesDropped)
	default:
		return ""
	}
}

// Preview returns the first PreviewMaxLines lines of s, capped at
// PreviewMaxChars characters, for embedding in a file-reference descriptor.
func Preview(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) > PreviewMaxLines {
		lines = lines[:PreviewMaxLines]
	}
	p := strings.Join(lines, "\n")
	if len(p) > PreviewMaxChars {
		p = p[:PreviewMaxChars]
	}
	return p
}

// Descriptor is the structured result returned in place of inline content
// once it crosses FileReferenceThreshold (spec §8.3 scenario S5).
type Descriptor struct {
	Type    string `json:"type"`
	Size    int    `json:"size"`
	Path    string `json:"path"`
	Preview string `json:"preview"`
}
