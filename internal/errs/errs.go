// Package errs defines the error taxonomy shared by the adaparse commands.
//
// Three kinds of failure are distinguished:
//   - ConfigurationError: bad CLI or config input, raised before any work starts.
//   - PartialFailureError: some items of a parallel batch failed while the rest completed.
//   - MissingInputError: a listed file disappeared before it was processed. Callers log
//     and skip these; they are never fatal on their own.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ConfigurationError reports invalid user input (flags or config file).
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Config builds a ConfigurationError for the given field.
func Config(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// MissingInputError reports a listed input that could not be opened when it was needed.
type MissingInputError struct {
	Path string
	Err  error
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing input %s: %v", e.Path, e.Err)
}

func (e *MissingInputError) Unwrap() error { return e.Err }

// Missing wraps err as a MissingInputError for path.
func Missing(path string, err error) error {
	return &MissingInputError{Path: path, Err: err}
}

// IsMissing reports whether err is or wraps a MissingInputError.
func IsMissing(err error) bool {
	var me *MissingInputError
	return errors.As(err, &me)
}

// ItemFailure is one failed item of a parallel batch.
type ItemFailure struct {
	Index int
	Name  string
	Err   error
}

// PartialFailureError is returned after a parallel batch completes with at least one
// failed item. Items that succeeded are not rolled back.
type PartialFailureError struct {
	Op       string
	Total    int
	Failures []ItemFailure
}

func (e *PartialFailureError) Error() string {
	failures := append([]ItemFailure(nil), e.Failures...)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d items failed", e.Op, len(failures), e.Total)
	for _, f := range failures {
		b.WriteString("\n  ")
		if f.Name != "" {
			fmt.Fprintf(&b, "[%d] %s: %v", f.Index, f.Name, f.Err)
		} else {
			fmt.Fprintf(&b, "[%d] %v", f.Index, f.Err)
		}
	}
	return b.String()
}

// Unwrap exposes the per-item causes to errors.Is and errors.As.
func (e *PartialFailureError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// FailedIndices returns the indices of the failed items in ascending order.
func (e *PartialFailureError) FailedIndices() []int {
	idx := make([]int, 0, len(e.Failures))
	for _, f := range e.Failures {
		idx = append(idx, f.Index)
	}
	sort.Ints(idx)
	return idx
}
