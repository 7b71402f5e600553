// Package quality implements the QualityAnalyzer of spec.md §4.4: a health
// score in [0,100] plus an ordered defect list derived from header and
// chunk analysis, with a chunked mode for files above the large-file
// threshold.
package quality

import (
	"math"

	"github.com/tphakala/musiccleanup/internal/chunkreader"
)

// Defect is the closed set from spec.md §4.4.
type Defect string

const (
	DefectTruncatedFile          Defect = "truncated_file"
	DefectCorruptedHeader        Defect = "corrupted_header"
	DefectInvalidSync            Defect = "invalid_sync"
	DefectBitrateOutOfRange      Defect = "bitrate_out_of_range"
	DefectDurationSizeMismatch   Defect = "duration_size_mismatch"
	DefectMostlySilence          Defect = "mostly_silence"
	DefectLowEntropy             Defect = "low_entropy"
	DefectVeryLowBitrate         Defect = "very_low_bitrate"
	DefectUnusualSampleRate      Defect = "unusual_sample_rate"
	DefectMonoWhenStereoExpected Defect = "mono_when_stereo_expected"
	DefectMetadataCorruption     Defect = "metadata_corruption"
)

// criticalDefects make a file Corrupt regardless of score.
var criticalDefects = map[Defect]bool{
	DefectCorruptedHeader: true,
	DefectTruncatedFile:   true,
	DefectInvalidSync:     true,
}

// penalties is the fixed per-defect subtraction table from spec.md §4.4.
var penalties = map[Defect]int{
	DefectCorruptedHeader:        60,
	DefectTruncatedFile:          40,
	DefectInvalidSync:            35,
	DefectVeryLowBitrate:         25,
	DefectDurationSizeMismatch:   20,
	DefectBitrateOutOfRange:      15,
	DefectMostlySilence:          15,
	DefectUnusualSampleRate:      10,
	DefectLowEntropy:             10,
	DefectMonoWhenStereoExpected: 8,
	DefectMetadataCorruption:     20,
}

// Status is the closed set for the resulting integrity classification.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusSuspect Status = "suspect"
	StatusCorrupt Status = "corrupt"
)

// Report is the QualityReport entity payload, independent of storage.
type Report struct {
	HealthScore    int
	Defects        []Defect
	Status         Status
	EntropyMean    float64
	EntropyStdDev  float64
	DetectedFormat string
	HeaderFlags    []string
}

// Options configures Analyze.
type Options struct {
	MinHealthScore    int
	LargeFileBytes    int64
	SampledSeconds    int // chunked mode samples this many audio_analysis-sized chunks (default 30); the value is a chunk count, not converted from seconds of audio
	ExpectedBitrateMin int
	ExpectedBitrateMax int
	ExpectedSampleRate int
	ExpectedStereo     bool
	Bitrate            int
	SampleRate         int
	Channels           int
	DurationSeconds    float64
	FileSizeBytes      int64
}

// Analyzer computes a Report for a path using the ChunkReader.
type Analyzer struct{}

// New builds an Analyzer.
func New() *Analyzer { return &Analyzer{} }

// Analyze reads path's header and the chunks past it (every one for ordinary
// files, a sampled subset for large files) and returns the resulting Report.
func (a *Analyzer) Analyze(path string, opts Options) (Report, error) {
	var defects []Defect
	var detectedFormat string
	var headerFlags []string

	var entropies []float64
	sampledBudget := opts.SampledSeconds
	if sampledBudget <= 0 {
		sampledBudget = 30
	}

	large := opts.FileSizeBytes > opts.LargeFileBytes && opts.LargeFileBytes > 0

	headerReader := chunkreader.New(path, chunkreader.PurposeHeader)
	sawHeader := false
	err := headerReader.Each(func(c chunkreader.Chunk) error {
		if c.ID == 0 {
			detectedFormat = c.DetectedFormat
			sawHeader = true
			if detectedFormat == "unknown" {
				defects = append(defects, DefectCorruptedHeader)
			}
		}
		if c.IsHeader {
			if c.ASCIIText {
				headerFlags = append(headerFlags, "ascii_header")
			}
			return nil
		}
		if !large {
			entropies = append(entropies, c.Entropy)
			return nil
		}
		// Large files hand sampled entropy collection to a dedicated
		// audio_analysis-sized reader below; this header pass only needs
		// the header chunk itself.
		return errStop
	})
	if err != nil && err != errStop {
		return Report{}, err
	}
	if !sawHeader {
		defects = append(defects, DefectTruncatedFile)
	}

	if large {
		chunkCount := 0
		sampleReader := chunkreader.New(path, chunkreader.PurposeAudioAnalysis)
		serr := sampleReader.Each(func(c chunkreader.Chunk) error {
			if !c.IsHeader {
				entropies = append(entropies, c.Entropy)
				chunkCount++
			}
			if chunkCount >= sampledBudget {
				return errStop
			}
			return nil
		})
		if serr != nil && serr != errStop {
			return Report{}, serr
		}
	}

	entropyMean, entropyStdDev := meanStdDev(entropies)
	if entropyMean < 2.0 && len(entropies) > 0 {
		defects = append(defects, DefectMostlySilence)
	} else if entropyMean < 3.5 && len(entropies) > 0 {
		defects = append(defects, DefectLowEntropy)
	}

	if opts.ExpectedBitrateMax > 0 && (opts.Bitrate < opts.ExpectedBitrateMin || opts.Bitrate > opts.ExpectedBitrateMax) {
		if opts.Bitrate > 0 && opts.Bitrate < opts.ExpectedBitrateMin/2 {
			defects = append(defects, DefectVeryLowBitrate)
		} else {
			defects = append(defects, DefectBitrateOutOfRange)
		}
	}
	if opts.ExpectedSampleRate > 0 && opts.SampleRate != opts.ExpectedSampleRate {
		defects = append(defects, DefectUnusualSampleRate)
	}
	if opts.ExpectedStereo && opts.Channels == 1 {
		defects = append(defects, DefectMonoWhenStereoExpected)
	}
	if opts.DurationSeconds > 0 && opts.Bitrate > 0 {
		expectedSize := int64(opts.DurationSeconds * float64(opts.Bitrate) / 8)
		if expectedSize > 0 {
			ratio := float64(opts.FileSizeBytes) / float64(expectedSize)
			if ratio < 0.5 || ratio > 1.5 {
				defects = append(defects, DefectDurationSizeMismatch)
			}
		}
	}

	score := scoreFromDefects(defects)
	status := statusFromDefects(defects, score, opts.MinHealthScore)

	return Report{
		HealthScore:    score,
		Defects:        defects,
		Status:         status,
		EntropyMean:    entropyMean,
		EntropyStdDev:  entropyStdDev,
		DetectedFormat: detectedFormat,
		HeaderFlags:    headerFlags,
	}, nil
}

var errStop = chunkStopError{}

type chunkStopError struct{}

func (chunkStopError) Error() string { return "quality: sampled chunk budget reached" }

func scoreFromDefects(defects []Defect) int {
	score := 100
	for _, d := range defects {
		score -= penalties[d]
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func statusFromDefects(defects []Defect, score, minHealthScore int) Status {
	for _, d := range defects {
		if criticalDefects[d] {
			return StatusCorrupt
		}
	}
	if score < minHealthScore {
		return StatusSuspect
	}
	return StatusHealthy
}

func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}
