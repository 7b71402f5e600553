package duplicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrefersHighestQualityScore(t *testing.T) {
	candidates := []Candidate{
		{FileID: 1, Path: "/b.mp3", QualityScore: 80},
		{FileID: 2, Path: "/a.mp3", QualityScore: 95},
	}
	resolutions := Resolve(candidates)
	require.Len(t, resolutions, 2)
	assert.Equal(t, uint(2), resolutions[0].Candidate.FileID)
	assert.Equal(t, RoleCanonical, resolutions[0].Role)
	assert.Equal(t, RoleReject, resolutions[1].Role)
}

func TestResolvePrefersLosslessOnTie(t *testing.T) {
	candidates := []Candidate{
		{FileID: 1, Path: "/a.mp3", QualityScore: 90, Format: "mp3"},
		{FileID: 2, Path: "/b.flac", QualityScore: 90, Format: "flac"},
	}
	resolutions := Resolve(candidates)
	assert.Equal(t, uint(2), resolutions[0].Candidate.FileID)
}

func TestResolvePrefersHigherBitrateThenSize(t *testing.T) {
	candidates := []Candidate{
		{FileID: 1, Path: "/a.mp3", QualityScore: 90, Format: "mp3", Bitrate: 128, SizeBytes: 5_000_000},
		{FileID: 2, Path: "/b.mp3", QualityScore: 90, Format: "mp3", Bitrate: 320, SizeBytes: 4_000_000},
	}
	resolutions := Resolve(candidates)
	assert.Equal(t, uint(2), resolutions[0].Candidate.FileID)
}

func TestResolveBreaksFinalTieByPath(t *testing.T) {
	candidates := []Candidate{
		{FileID: 1, Path: "/z.mp3", QualityScore: 90, Format: "mp3", Bitrate: 320, SizeBytes: 5_000_000},
		{FileID: 2, Path: "/a.mp3", QualityScore: 90, Format: "mp3", Bitrate: 320, SizeBytes: 5_000_000},
	}
	resolutions := Resolve(candidates)
	assert.Equal(t, "/a.mp3", resolutions[0].Candidate.Path)
}

func TestResolveEmptyInput(t *testing.T) {
	assert.Nil(t, Resolve(nil))
}
