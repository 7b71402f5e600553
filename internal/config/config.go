// Package config defines the resolved, validated configuration record the
// core pipeline consumes (spec.md §6). CLI flag parsing and the interactive
// menu are out of scope; this package only loads and validates the record.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FingerprintAlgorithm selects which fingerprinting path(s) to use.
type FingerprintAlgorithm string

const (
	FingerprintPrimary  FingerprintAlgorithm = "primary"
	FingerprintFallback FingerprintAlgorithm = "fallback"
	FingerprintBoth     FingerprintAlgorithm = "both"
)

// DuplicateAction selects what happens to non-canonical duplicate members.
type DuplicateAction string

const (
	DuplicateActionMove        DuplicateAction = "move"
	DuplicateActionDelete      DuplicateAction = "delete"
	DuplicateActionReportOnly  DuplicateAction = "report_only"
)

// IntegrityLevel controls how deep QualityAnalyzer inspection goes.
type IntegrityLevel string

const (
	IntegrityBasic    IntegrityLevel = "basic"
	IntegrityChecksum IntegrityLevel = "checksum"
	IntegrityMetadata IntegrityLevel = "metadata"
	IntegrityDeep     IntegrityLevel = "deep"
	IntegrityParanoid IntegrityLevel = "paranoid"
)

// Settings is the resolved configuration record, one field per spec.md §6 key.
type Settings struct {
	SourceRoots           []string              `mapstructure:"source_roots"`
	OutputRoot            string                `mapstructure:"output_root"`
	WorkspaceDir          string                `mapstructure:"workspace_dir"`
	ProtectedPaths        []string              `mapstructure:"protected_paths"`
	AudioFormats          []string              `mapstructure:"audio_formats"`
	FingerprintAlgorithm  FingerprintAlgorithm  `mapstructure:"fingerprint_algorithm"`
	FingerprintLengthSec  int                   `mapstructure:"fingerprint_length_sec"`
	DuplicateAction       DuplicateAction       `mapstructure:"duplicate_action"`
	DuplicateSimilarity   float64               `mapstructure:"duplicate_similarity"`
	MinHealthScore        int                   `mapstructure:"min_health_score"`
	IntegrityLevel        IntegrityLevel        `mapstructure:"integrity_level"`
	KeepSuspectInGrouping bool                  `mapstructure:"keep_suspect_in_grouping"`
	StructureTemplate     string                `mapstructure:"structure_template"`
	BatchSize             int                   `mapstructure:"batch_size"`
	MaxWorkers            int                   `mapstructure:"max_workers"`
	MemoryLimitMB         int                   `mapstructure:"memory_limit_mb"`
	CheckpointIntervalSec int                   `mapstructure:"checkpoint_interval_sec"`
	EnableRecovery        bool                  `mapstructure:"enable_recovery"`
	DryRun                bool                  `mapstructure:"dry_run"`
	VerifyOperations      bool                  `mapstructure:"verify_operations"`
	Debug                 bool                  `mapstructure:"debug"`
}

// HardMemoryLimitMB is the hard cap enforced by MemoryMonitor: 1.5x the soft limit.
func (s *Settings) HardMemoryLimitMB() int {
	return int(float64(s.MemoryLimitMB) * 1.5)
}

// CheckpointInterval returns the configured interval as a time.Duration.
func (s *Settings) CheckpointInterval() time.Duration {
	return time.Duration(s.CheckpointIntervalSec) * time.Second
}

// FingerprintClipLength returns the configured clip length as a time.Duration.
func (s *Settings) FingerprintClipLength() time.Duration {
	return time.Duration(s.FingerprintLengthSec) * time.Second
}

// setDefaults mirrors the teacher's conf.setDefaultConfig: every key gets an
// explicit default before the file/env layers are applied.
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("source_roots", []string{})
	v.SetDefault("output_root", "organized")
	v.SetDefault("workspace_dir", ".musiccleanup")
	v.SetDefault("protected_paths", []string{})
	v.SetDefault("audio_formats", []string{".mp3", ".flac", ".wav", ".m4a", ".ogg"})
	v.SetDefault("fingerprint_algorithm", string(FingerprintBoth))
	v.SetDefault("fingerprint_length_sec", 120)
	v.SetDefault("duplicate_action", string(DuplicateActionMove))
	v.SetDefault("duplicate_similarity", 1.0)
	v.SetDefault("min_health_score", 50)
	v.SetDefault("integrity_level", string(IntegrityChecksum))
	v.SetDefault("keep_suspect_in_grouping", true)
	v.SetDefault("structure_template", "{genre}/{artist}/{artist} - {title}")
	v.SetDefault("batch_size", 500)
	v.SetDefault("max_workers", 0) // 0 => runtime.NumCPU()
	v.SetDefault("memory_limit_mb", 512)
	v.SetDefault("checkpoint_interval_sec", 300)
	v.SetDefault("enable_recovery", true)
	v.SetDefault("dry_run", false)
	v.SetDefault("verify_operations", true)
}

// Load reads a YAML config file (if path is non-empty) plus environment
// overrides prefixed MUSICCLEANUP_, unmarshals into Settings, and validates.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("musiccleanup")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if s.MaxWorkers <= 0 {
		s.MaxWorkers = defaultWorkerCount()
	}

	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ValidationError aggregates every field-level validation failure, matching
// the teacher's conf.ValidationError shape.
type ValidationError struct {
	Errors []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(ve.Errors, "; "))
}

// Validate enforces the closed-set enums and sane ranges required before any
// mutation occurs (spec.md §7 "User/config" errors terminate before mutation).
func Validate(s *Settings) error {
	ve := &ValidationError{}

	if len(s.SourceRoots) == 0 {
		ve.Errors = append(ve.Errors, "source_roots must contain at least one directory")
	}
	if s.OutputRoot == "" {
		ve.Errors = append(ve.Errors, "output_root must not be empty")
	}
	if s.WorkspaceDir == "" {
		ve.Errors = append(ve.Errors, "workspace_dir must not be empty")
	}

	switch s.FingerprintAlgorithm {
	case FingerprintPrimary, FingerprintFallback, FingerprintBoth:
	default:
		ve.Errors = append(ve.Errors, "fingerprint_algorithm must be one of primary|fallback|both, got "+string(s.FingerprintAlgorithm))
	}

	switch s.DuplicateAction {
	case DuplicateActionMove, DuplicateActionDelete, DuplicateActionReportOnly:
	default:
		ve.Errors = append(ve.Errors, "duplicate_action must be one of move|delete|report_only, got "+string(s.DuplicateAction))
	}

	if s.DuplicateSimilarity < 0.5 || s.DuplicateSimilarity > 1.0 {
		ve.Errors = append(ve.Errors, "duplicate_similarity must be within [0.5, 1.0], got "+strconv.FormatFloat(s.DuplicateSimilarity, 'f', -1, 64))
	}

	switch s.IntegrityLevel {
	case IntegrityBasic, IntegrityChecksum, IntegrityMetadata, IntegrityDeep, IntegrityParanoid:
	default:
		ve.Errors = append(ve.Errors, "integrity_level must be one of basic|checksum|metadata|deep|paranoid, got "+string(s.IntegrityLevel))
	}

	if s.MinHealthScore < 0 || s.MinHealthScore > 100 {
		ve.Errors = append(ve.Errors, "min_health_score must be within [0, 100]")
	}

	if s.BatchSize <= 0 {
		ve.Errors = append(ve.Errors, "batch_size must be positive")
	}
	if s.MaxWorkers <= 0 {
		ve.Errors = append(ve.Errors, "max_workers must be positive")
	}
	if s.MemoryLimitMB <= 0 {
		ve.Errors = append(ve.Errors, "memory_limit_mb must be positive")
	}
	if s.CheckpointIntervalSec <= 0 {
		ve.Errors = append(ve.Errors, "checkpoint_interval_sec must be positive")
	}
	if s.StructureTemplate == "" {
		ve.Errors = append(ve.Errors, "structure_template must not be empty")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}
