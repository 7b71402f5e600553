package organizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanFillsDefaultTemplate(t *testing.T) {
	path := Plan(Metadata{Genre: "Rock", Artist: "The Band", Title: "Song"}, Options{})
	assert.Equal(t, "Rock/The Band/The Band - Song", path)
}

func TestPlanFallsBackToUnknown(t *testing.T) {
	path := Plan(Metadata{}, Options{})
	assert.Equal(t, "Unknown/Unknown/Unknown - Unknown", path)
}

func TestPlanSupportsDecadeTemplate(t *testing.T) {
	path := Plan(Metadata{Artist: "A", Title: "T", Year: 1994}, Options{Template: "{decade}/{artist} - {title}"})
	assert.Equal(t, "1990s/A - T", path)
}

func TestSanitizeSegmentReplacesUnsafeCharacters(t *testing.T) {
	result := SanitizeSegment(`AC/DC: Back<in>Black?`, false, 0)
	assert.NotContains(t, result, "/")
	assert.NotContains(t, result, ":")
	assert.NotContains(t, result, "<")
	assert.NotContains(t, result, ">")
	assert.NotContains(t, result, "?")
}

func TestSanitizeSegmentStripsTrailingDotsAndSpaces(t *testing.T) {
	result := SanitizeSegment("Title.  ", false, 0)
	assert.Equal(t, "Title", result)
}

func TestSanitizeSegmentCollapsesWhitespace(t *testing.T) {
	result := SanitizeSegment("A    B   C", false, 0)
	assert.Equal(t, "A B C", result)
}

func TestSanitizeSegmentTruncatesPreservingExtension(t *testing.T) {
	long := strings.Repeat("a", 300) + ".mp3"
	result := SanitizeSegment(long, false, 50)
	assert.LessOrEqual(t, len(result), 50)
	assert.True(t, strings.HasSuffix(result, ".mp3"))
}

func TestSanitizeSegmentASCIIFold(t *testing.T) {
	result := SanitizeSegment("Café", true, 0)
	assert.Equal(t, "Caf", result)
}
