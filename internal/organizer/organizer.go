// Package organizer implements the Organizer of spec.md §4.12: a pure
// function from (file metadata, template) to a sanitized relative
// destination path. It never touches the filesystem; its output is a plan
// consumed by the TransactionManager.
package organizer

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Metadata is the subset of tags the Organizer needs to fill a template.
// A zero value in any field falls back to "Unknown".
type Metadata struct {
	Genre  string
	Artist string
	Title  string
	Year   int
}

// Options configures Plan.
type Options struct {
	Template    string // e.g. "{genre}/{artist}/{artist} - {title}"
	ASCIIFold   bool
	MaxSegment  int // max bytes per path segment before truncation; 0 selects defaultMaxSegment
}

const defaultMaxSegment = 200

// unsafeChars is the character class spec.md §4.12 requires replacing.
var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Plan computes the relative destination path (without the output root
// prefix, without extension) for one file's metadata.
func Plan(meta Metadata, opts Options) string {
	template := opts.Template
	if template == "" {
		template = "{genre}/{artist}/{artist} - {title}"
	}

	genre := orUnknown(meta.Genre)
	artist := orUnknown(meta.Artist)
	title := orUnknown(meta.Title)
	decade := decadeFor(meta.Year)

	replacer := strings.NewReplacer(
		"{genre}", genre,
		"{artist}", artist,
		"{title}", title,
		"{decade}", decade,
		"{year}", yearOrUnknown(meta.Year),
	)
	path := replacer.Replace(template)

	segments := strings.Split(path, "/")
	maxSeg := opts.MaxSegment
	if maxSeg <= 0 {
		maxSeg = defaultMaxSegment
	}
	for i, seg := range segments {
		segments[i] = SanitizeSegment(seg, opts.ASCIIFold, maxSeg)
	}
	return filepath.Join(segments...)
}

// SanitizeSegment applies spec.md §4.12's sanitization rules to one path
// segment: replace unsafe characters, strip trailing dots/spaces, collapse
// whitespace, optionally ASCII-fold, and truncate preserving any extension.
func SanitizeSegment(segment string, asciiFold bool, maxSegmentBytes int) string {
	segment = unsafeChars.ReplaceAllString(segment, "_")
	segment = whitespaceRun.ReplaceAllString(segment, " ")
	segment = strings.TrimSpace(segment)
	segment = strings.TrimRight(segment, ". ")

	if asciiFold {
		segment = foldToASCII(segment)
	}

	if segment == "" {
		segment = "_"
	}

	if maxSegmentBytes > 0 && len(segment) > maxSegmentBytes {
		ext := filepath.Ext(segment)
		base := strings.TrimSuffix(segment, ext)
		keep := maxSegmentBytes - len(ext)
		if keep < 1 {
			keep = 1
			ext = ""
		}
		if keep > len(base) {
			keep = len(base)
		}
		segment = base[:keep] + ext
	}

	return segment
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func yearOrUnknown(year int) string {
	if year <= 0 {
		return "Unknown"
	}
	return strconv.Itoa(year)
}

// decadeFor maps a year to its decade bucket, e.g. 1994 -> "1990s".
func decadeFor(year int) string {
	if year <= 0 {
		return "Unknown"
	}
	decade := (year / 10) * 10
	return strconv.Itoa(decade) + "s"
}

// foldToASCII drops any byte outside the printable ASCII range, used only
// when explicitly configured per spec.md §4.12.
func foldToASCII(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return b.String()
}
