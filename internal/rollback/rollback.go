// Package rollback implements the RollbackStore of spec.md §4.9: content
// checksums and directory snapshots captured at operation, transaction, and
// session scope, with post-hoc verification and pruning by count and age.
package rollback

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Scope is the closed set from spec.md §4.9 / §3.
type Scope string

const (
	ScopeOperation   Scope = "operation"
	ScopeTransaction Scope = "transaction"
	ScopeSession     Scope = "session"
)

// FileStatus is the per-file outcome of VerifyPoint.
type FileStatus string

const (
	StatusVerified FileStatus = "verified"
	StatusMissing  FileStatus = "missing"
	StatusModified FileStatus = "modified"
)

// Point is one captured rollback point.
type Point struct {
	ID          string            `json:"id"`
	Scope       Scope             `json:"scope"`
	ReferenceID string            `json:"reference_id"`
	Checksums   map[string]string `json:"checksums"`  // path -> sha256 hex
	Structure   map[string][]string `json:"structure"` // directory -> sorted child names
	SizeBytes   int64             `json:"size_bytes"`
	CreatedAt   time.Time         `json:"created_at"`
}

// VerifyResult is returned by VerifyPoint.
type VerifyResult struct {
	PerFile        map[string]FileStatus
	IntegrityScore float64 // verified / total
}

// Store persists Points as JSON manifests under a directory, following the
// <workspace>/rollback_points/<rp-id>.json layout from spec.md §6.
type Store struct {
	dir string
}

// NewStore builds a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Capture computes checksums for the given paths and a directory-structure
// snapshot of their parent directories, then persists the resulting Point.
func (s *Store) Capture(scope Scope, referenceID string, paths []string) (*Point, error) {
	checksums := make(map[string]string, len(paths))
	structure := make(map[string][]string)
	var total int64

	for _, p := range paths {
		sum, size, err := checksumFile(p)
		if err != nil {
			continue // unreadable files are simply absent from the checksum map
		}
		checksums[p] = sum
		total += size

		dir := filepath.Dir(p)
		if _, ok := structure[dir]; !ok {
			structure[dir] = listDirChildren(dir)
		}
	}

	point := &Point{
		ID:          uuid.NewString(),
		Scope:       scope,
		ReferenceID: referenceID,
		Checksums:   checksums,
		Structure:   structure,
		SizeBytes:   total,
		CreatedAt:   time.Now(),
	}

	if err := s.save(point); err != nil {
		return nil, err
	}
	return point, nil
}

func checksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func listDirChildren(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func (s *Store) save(p *Point) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, p.ID+".json"), data, 0o644)
}

// Load reads a previously captured Point by id.
func (s *Store) Load(id string) (*Point, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, err
	}
	var p Point
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// VerifyPoint recomputes checksums for currently-present files in p and
// reports per-file status plus an integrity score = verified / total.
func (s *Store) VerifyPoint(p *Point) VerifyResult {
	result := VerifyResult{PerFile: make(map[string]FileStatus, len(p.Checksums))}
	if len(p.Checksums) == 0 {
		return result
	}

	verified := 0
	for path, expected := range p.Checksums {
		actual, _, err := checksumFile(path)
		switch {
		case err != nil:
			result.PerFile[path] = StatusMissing
		case actual == expected:
			result.PerFile[path] = StatusVerified
			verified++
		default:
			result.PerFile[path] = StatusModified
		}
	}

	result.IntegrityScore = float64(verified) / float64(len(p.Checksums))
	return result
}

// Prune removes Points older than maxAge, except that the keepCount most
// recent are always kept regardless of age.
func (s *Store) Prune(maxAge time.Duration, keepCount int) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	type fileWithTime struct {
		path string
		mod  time.Time
	}
	var files []fileWithTime
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileWithTime{path: filepath.Join(s.dir, e.Name()), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for i, f := range files {
		if i < keepCount {
			continue
		}
		if f.mod.Before(cutoff) {
			if err := os.Remove(f.path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
