// Package duplicate implements the DuplicateResolver of spec.md §4.7: it
// consumes Catalog's streaming fingerprint-duplicate query restricted to the
// CorruptionFilter's healthy partition, picks a canonical File per group by
// a fixed five-step tie-break, and marks the rest as rejects.
package duplicate

import (
	"sort"
	"strings"
)

// Candidate is the minimal per-file view the tie-break needs.
type Candidate struct {
	FileID       uint
	Path         string
	QualityScore int
	Format       string // lowercase extension without the dot, e.g. "flac"
	Bitrate      int
	SizeBytes    int64
}

// Role is the closed set for a resolved group member.
type Role string

const (
	RoleCanonical Role = "canonical"
	RoleReject    Role = "reject"
)

// Resolution is one member's outcome within a group.
type Resolution struct {
	Candidate Candidate
	Role      Role
}

// losslessFormats is the set preferred over lossy formats in tie-break step 2.
var losslessFormats = map[string]bool{
	"flac": true,
	"wav":  true,
}

// Resolve applies the five-step tie-break to a fingerprint group and
// returns one Resolution per candidate, canonical first.
func Resolve(candidates []Candidate) []Resolution {
	if len(candidates) == 0 {
		return nil
	}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)

	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i], ordered[j])
	})

	resolutions := make([]Resolution, len(ordered))
	for i, c := range ordered {
		role := RoleReject
		if i == 0 {
			role = RoleCanonical
		}
		resolutions[i] = Resolution{Candidate: c, Role: role}
	}
	return resolutions
}

// rank reports whether a should sort before b under the tie-break order:
// 1. highest quality score, 2. lossless over lossy, 3. highest bitrate,
// 4. largest size, 5. lexicographically smallest path.
func rank(a, b Candidate) bool {
	if a.QualityScore != b.QualityScore {
		return a.QualityScore > b.QualityScore
	}

	aLossless := losslessFormats[strings.ToLower(a.Format)]
	bLossless := losslessFormats[strings.ToLower(b.Format)]
	if aLossless != bLossless {
		return aLossless
	}

	if a.Bitrate != b.Bitrate {
		return a.Bitrate > b.Bitrate
	}

	if a.SizeBytes != b.SizeBytes {
		return a.SizeBytes > b.SizeBytes
	}

	return a.Path < b.Path
}
