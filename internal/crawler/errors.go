package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks network, timeout, and non-2xx failures that
	// survived every retry.
	ErrTransport = errors.New("transport failure")
	// ErrShapeDetection marks payloads that are neither a usable JSON listing
	// nor a recognizable HTML table layout.
	ErrShapeDetection = errors.New("unrecognized payload shape")
	// ErrStopped is reported when a run ends because a stop was requested.
	ErrStopped = errors.New("crawl stopped")
)

// TransportError describes the last failure of an exhausted fetch.
type TransportError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed after %d attempts (status %d): %v", e.URL, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// RecordExtractionError reports a malformed listing table or JSON item.
type RecordExtractionError struct {
	Index int
	Err   error
}

func (e *RecordExtractionError) Error() string {
	return fmt.Sprintf("extract record %d: %v", e.Index, e.Err)
}

func (e *RecordExtractionError) Unwrap() error { return e.Err }

// AttachmentResolutionError reports a link that could not be resolved.
type AttachmentResolutionError struct {
	Href string
	Err  error
}

func (e *AttachmentResolutionError) Error() string {
	return fmt.Sprintf("resolve attachment %q: %v", e.Href, e.Err)
}

func (e *AttachmentResolutionError) Unwrap() error { return e.Err }
