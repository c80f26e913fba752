package aq

import (
	"fmt"
	"net/http"
	"strings"
)

// FetchError reports a non-2xx response from a vendor API. The message is
// whatever the vendor supplied in its error payload.
type FetchError struct {
	Vendor     string
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Vendor, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Vendor, e.StatusCode, e.Message)
}

// Retryable reports whether the failure is transient (rate limit or server
// error) and worth retrying at the transport layer.
func (e *FetchError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// EmptyResultError reports a successful vendor call that returned zero rows.
// Callers may treat it as non-fatal.
type EmptyResultError struct {
	Vendor string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("%s: empty result set", e.Vendor)
}

// InvalidTimeseriesError reports a timeseries build whose attached synoptic
// metadata is missing required fields.
type InvalidTimeseriesError struct {
	DeviceID string
	Missing  []string
}

func (e *InvalidTimeseriesError) Error() string {
	return fmt.Sprintf("invalid timeseries for %s: missing metadata fields: %s",
		e.DeviceID, strings.Join(e.Missing, ", "))
}

// AlignmentError reports a monitor assembly where the metadata row count and
// the data column count disagree. It indicates a logic or data defect and is
// never coerced away.
type AlignmentError struct {
	MetaRows    int
	DataColumns int
	Detail      string
}

func (e *AlignmentError) Error() string {
	msg := fmt.Sprintf("monitor alignment: %d metadata rows vs %d data columns", e.MetaRows, e.DataColumns)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// MissingFieldError names required columns absent from the input.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}
