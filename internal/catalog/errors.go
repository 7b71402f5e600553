package catalog

import (
	"fmt"

	"github.com/tphakala/musiccleanup/internal/xerrors"
)

// Kind is the closed set of Catalog failure modes from spec.md §4.1.
type Kind string

const (
	KindConflict           Kind = "Conflict"
	KindNotFound           Kind = "NotFound"
	KindIntegrityViolation Kind = "IntegrityViolation"
	KindIo                 Kind = "Io"
)

// CatalogError is the error type every Catalog operation fails with.
type CatalogError struct {
	Kind      Kind
	Operation string
	Err       error
}

func (e *CatalogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog: %s (%s): %v", e.Operation, e.Kind, e.Err)
	}
	return fmt.Sprintf("catalog: %s (%s)", e.Operation, e.Kind)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// ErrorCategory implements xerrors.CategorizedError so generic handlers can
// route Catalog failures without importing this package.
func (e *CatalogError) ErrorCategory() xerrors.Category { return xerrors.CategoryDatabase }

func newError(kind Kind, operation string, err error) *CatalogError {
	return &CatalogError{Kind: kind, Operation: operation, Err: err}
}
