package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every *ConfigurationError.
	ErrConfiguration = errors.New("invalid clustering configuration")

	// ErrDimensionMismatch is matched by every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrLengthMismatch is matched by every *LengthMismatchError.
	ErrLengthMismatch = errors.New("records and labels length mismatch")
)

// ConfigurationError reports an unsupported or invalid engine parameter.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid clustering configuration: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// DimensionMismatchError reports an embedding whose length differs from the first one.
type DimensionMismatchError struct {
	Index    int
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch at index %d: expected %d, got %d", e.Index, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// LengthMismatchError reports that records and labels cannot be zipped by position.
type LengthMismatchError struct {
	Records int
	Labels  int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("records and labels length mismatch: %d records, %d labels", e.Records, e.Labels)
}

func (e *LengthMismatchError) Is(target error) bool { return target == ErrLengthMismatch }
