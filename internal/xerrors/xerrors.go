// Package xerrors provides the error taxonomy described in spec.md §7: every
// error raised by the core carries a component, a category, and a severity
// that callers can switch on instead of matching substrings.
package xerrors

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// CategorizedError lets foreign error types declare their own Category
// without depending on this package's concrete EnhancedError.
type CategorizedError interface {
	error
	ErrorCategory() Category
}

// Category groups errors for logging and reporting. Closed set.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryFileIO        Category = "file-io"
	CategoryDatabase      Category = "database"
	CategoryCorruption    Category = "corruption"
	CategoryDuplicate     Category = "duplicate"
	CategoryTransaction   Category = "transaction"
	CategoryRollback      Category = "rollback"
	CategoryCheckpoint    Category = "checkpoint"
	CategoryExternalTool  Category = "external-tool"
	CategoryMemory        Category = "memory"
	CategoryRateLimit     Category = "rate-limit"
	CategoryValidation    Category = "validation"
	CategoryIO            Category = "io"
	CategoryFatal         Category = "fatal"
	CategoryGeneric       Category = "generic"
)

// Severity classifies an error for the PipelineExecutor's retry/abort logic
// (spec.md §4.11, §7). It is set explicitly at Build() time, never inferred
// from the error message.
type Severity string

const (
	SeverityTransient Severity = "transient" // retry with backoff
	SeverityPermanent Severity = "permanent" // record and continue
	SeverityFatal     Severity = "fatal"     // halt the pipeline
)

// EnhancedError wraps an error with component/category/severity/context.
type EnhancedError struct {
	Err       error
	Component string
	Category  Category
	Severity  Severity
	Context   map[string]any
	Timestamp time.Time
}

func (e *EnhancedError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s: %s", e.Component, e.Err.Error())
	}
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// Is delegates category-aware comparisons when the target is also an EnhancedError.
func (e *EnhancedError) Is(target error) bool {
	var other *EnhancedError
	if errors.As(target, &other) {
		return e.Category == other.Category
	}
	return errors.Is(e.Err, target)
}

// Classify returns this error's severity, defaulting to permanent.
func (e *EnhancedError) Classify() Severity {
	if e.Severity == "" {
		return SeverityPermanent
	}
	return e.Severity
}

// GetContext returns a defensive copy of the context map.
func (e *EnhancedError) GetContext() map[string]any {
	if e.Context == nil {
		return nil
	}
	out := make(map[string]any, len(e.Context))
	maps.Copy(out, e.Context)
	return out
}

// Builder provides the teacher's fluent construction style.
type Builder struct {
	err       error
	component string
	category  Category
	severity  Severity
	context   map[string]any
}

// New starts building an EnhancedError from an existing error.
func New(err error) *Builder { return &Builder{err: err} }

// Newf builds from a formatted message.
func Newf(format string, args ...any) *Builder { return New(fmt.Errorf(format, args...)) }

func (b *Builder) Component(c string) *Builder    { b.component = c; return b }
func (b *Builder) Category(c Category) *Builder   { b.category = c; return b }
func (b *Builder) Severity(s Severity) *Builder   { b.severity = s; return b }
func (b *Builder) Context(k string, v any) *Builder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[k] = v
	return b
}

// Build finalizes the error, defaulting category/severity if unset.
func (b *Builder) Build() *EnhancedError {
	category := b.category
	if category == "" {
		category = CategoryGeneric
	}
	severity := b.severity
	if severity == "" {
		severity = SeverityPermanent
	}
	return &EnhancedError{
		Err:       b.err,
		Component: b.component,
		Category:  category,
		Severity:  severity,
		Context:   b.context,
		Timestamp: time.Now(),
	}
}

// Standard-library passthroughs so this package can replace "errors" at call sites.
func Is(err, target error) bool       { return errors.Is(err, target) }
func As(err error, target any) bool   { return errors.As(err, target) }
func Unwrap(err error) error          { return errors.Unwrap(err) }
func Join(errs ...error) error        { return errors.Join(errs...) }
func NewStd(text string) error        { return errors.New(text) }

// IsCategory reports whether err is an EnhancedError of the given category.
func IsCategory(err error, category Category) bool {
	var ee *EnhancedError
	return As(err, &ee) && ee.Category == category
}

// ClassifyErr extracts a Severity from any error, defaulting to permanent
// for plain (non-EnhancedError) errors.
func ClassifyErr(err error) Severity {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.Classify()
	}
	return SeverityPermanent
}
