// Package experr defines the error taxonomy shared by the experiment engine.
package experr

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid experiment configuration (bad proportions,
// unknown metric type, missing fields). It is fatal and raised before any
// computation starts.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration: " + e.Msg
}

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// DataError reports a degenerate input for a single metric and group
// (zero variance, group size below two, non-positive denominator mean).
// During a seed search it only disqualifies the current candidate.
type DataError struct {
	Metric string
	Group  string
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data: metric %q group %q: %s", e.Metric, e.Group, e.Reason)
}

// Dataf builds a DataError for metric and group from a format string.
func Dataf(metric, group, format string, args ...any) *DataError {
	return &DataError{Metric: metric, Group: group, Reason: fmt.Sprintf(format, args...)}
}

// IsConfig returns true if err (or any error in its chain) is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsData returns true if err (or any error in its chain) is a DataError.
func IsData(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}
