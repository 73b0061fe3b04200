package crosssell

import (
	"errors"
	"fmt"
)

// ConfigError indicates the run configuration is unusable (missing store
// location or credentials, inverted window). It aborts a run before any
// collection is processed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// CatalogError indicates a collection id failed to resolve. The offending
// collection is skipped; the run continues with the others.
type CatalogError struct {
	CollectionID int64
	Err          error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog lookup for collection %d: %v", e.CollectionID, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// ScanError indicates order pagination failed mid-scan for one collection.
// Results already collected for other collections are unaffected.
type ScanError struct {
	CollectionID int64
	Err          error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("eligibility scan for collection %d: %v", e.CollectionID, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// CustomerError indicates history resolution, selection, or write-back
// failed for one customer. The customer is not counted as updated; the
// collection continues with its remaining customers.
type CustomerError struct {
	CustomerID int64
	Err        error
}

func (e *CustomerError) Error() string {
	return fmt.Sprintf("customer %d: %v", e.CustomerID, e.Err)
}

func (e *CustomerError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
