// Package corruption implements the CorruptionFilter of spec.md §4.6: the
// phase-2.5 gate that must run strictly after QualityAnalyzer and strictly
// before DuplicateResolver. It partitions analyzed files into a healthy
// stream (observed by the resolver) and a quarantine stream, so a corrupt
// copy can never be chosen as canonical and a healthy file is never deleted
// in favor of a corrupt duplicate.
package corruption

import "github.com/tphakala/musiccleanup/internal/catalog"

// AnalyzedFile is the minimal view the filter needs: identity plus the
// integrity status QualityAnalyzer assigned.
type AnalyzedFile struct {
	FileID          uint
	Path            string
	IntegrityStatus catalog.IntegrityStatus
}

// Options configures Partition.
type Options struct {
	// KeepSuspectInGrouping mirrors config.Settings.KeepSuspectInGrouping:
	// when true, suspect files are treated as healthy for duplicate
	// grouping purposes; when false, only healthy files pass.
	KeepSuspectInGrouping bool
}

// Filter partitions an analyzed-file stream.
type Filter struct {
	opts Options
}

// New builds a Filter.
func New(opts Options) *Filter {
	return &Filter{opts: opts}
}

// IsHealthy reports whether f belongs to the healthy partition under the
// configured suspect-handling policy.
func (f *Filter) IsHealthy(file AnalyzedFile) bool {
	switch file.IntegrityStatus {
	case catalog.IntegrityHealthy:
		return true
	case catalog.IntegritySuspect:
		return f.opts.KeepSuspectInGrouping
	default:
		return false
	}
}

// Partition splits files into healthy and quarantine slices, preserving
// input order within each.
func (f *Filter) Partition(files []AnalyzedFile) (healthy, quarantine []AnalyzedFile) {
	for _, file := range files {
		if f.IsHealthy(file) {
			healthy = append(healthy, file)
		} else {
			quarantine = append(quarantine, file)
		}
	}
	return healthy, quarantine
}

// Each streams files through fn, routing each into onHealthy or
// onQuarantine as it arrives, so the filter can sit between two pipeline
// stages without buffering the whole batch.
func (f *Filter) Each(files []AnalyzedFile, onHealthy, onQuarantine func(AnalyzedFile) error) error {
	for _, file := range files {
		if f.IsHealthy(file) {
			if err := onHealthy(file); err != nil {
				return err
			}
		} else {
			if err := onQuarantine(file); err != nil {
				return err
			}
		}
	}
	return nil
}
