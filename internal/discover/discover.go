// Package discover implements the Discoverer of spec.md §4.5: a lazy walk
// over configured source roots honoring protected-path prefixes and
// extension/size filters. Consumers pull paths one at a time; the full
// tree is never materialized.
package discover

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/musiccleanup/internal/logging"
)

// Options configures a Discoverer.
type Options struct {
	SourceRoots    []string
	ProtectedPaths []string
	AudioFormats   []string // extensions, including the leading dot
	MinSizeBytes   int64
	MaxSizeBytes   int64 // 0 means unbounded
}

// Discoverer lazily yields candidate file paths.
type Discoverer struct {
	opts Options
}

// New builds a Discoverer from the given options.
func New(opts Options) *Discoverer {
	return &Discoverer{opts: opts}
}

// Walk invokes fn once per candidate file path discovered under the
// configured source roots, in directory-walk order, stopping at the first
// error returned by fn or ctx cancellation.
func (d *Discoverer) Walk(ctx context.Context, fn func(path string, info os.FileInfo) error) error {
	log := logging.ForComponent("discover")
	formats := make(map[string]bool, len(d.opts.AudioFormats))
	for _, ext := range d.opts.AudioFormats {
		formats[strings.ToLower(ext)] = true
	}

	for _, root := range d.opts.SourceRoots {
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				log.Warn("walk error, skipping", "path", path, "error", err)
				return nil
			}
			if entry.IsDir() {
				if d.isProtected(path) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.isProtected(path) {
				return nil
			}
			if len(formats) > 0 && !formats[strings.ToLower(filepath.Ext(path))] {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				log.Warn("stat error, skipping", "path", path, "error", err)
				return nil
			}
			if d.opts.MinSizeBytes > 0 && info.Size() < d.opts.MinSizeBytes {
				return nil
			}
			if d.opts.MaxSizeBytes > 0 && info.Size() > d.opts.MaxSizeBytes {
				return nil
			}

			return fn(path, info)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// isProtected reports whether path falls under a configured protected prefix.
func (d *Discoverer) isProtected(path string) bool {
	for _, p := range d.opts.ProtectedPaths {
		if p == "" {
			continue
		}
		rel, err := filepath.Rel(p, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
