package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors.
var (
	ErrExhaustedRetries      = errors.New("request failed after max retries")
	ErrConnectionFailed      = errors.New("connection failed")
	ErrRateLimited           = errors.New("rate limited")
	ErrMediaKeyUnavailable   = errors.New("media key not available, user is not live")
	ErrUserNotLive           = errors.New("user has no ongoing space")
	ErrNoAnnouncedBroadcast  = errors.New("no space found in recent tweets, retry with cookies")
	ErrMalformedMetadataFile = errors.New("malformed metadata file")
	ErrRemuxToolMissing      = errors.New("ffmpeg not found in PATH")
)

// HTTPError reports a non-retryable (or retry-exhausted) HTTP status.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d from %s", e.Status, e.URL)
}

// DecodeError reports a response body that was not the expected shape.
// The raw body is carried for debug logging only, never printed by Error.
type DecodeError struct {
	URL  string
	Body []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PlaylistUnavailableError is terminal: the stream locators can no longer
// be resolved and no manual override was supplied.
type PlaylistUnavailableError struct {
	Reason string
}

func (e *PlaylistUnavailableError) Error() string {
	return "playlist unavailable: " + e.Reason
}

// ExternalToolError reports a failed remux invocation, carrying the exact
// command for operator diagnosis.
type ExternalToolError struct {
	Cmd []string
	Err error
}

func (e *ExternalToolError) Error() string {
	return fmt.Sprintf("external tool failed: %s: %v", strings.Join(e.Cmd, " "), e.Err)
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// CoverArtError is raised after an otherwise successful download when the
// cover embedding post-step fails. Callers may treat it as non-fatal.
type CoverArtError struct {
	Err error
}

func (e *CoverArtError) Error() string {
	return fmt.Sprintf("cover art embedding failed: %v", e.Err)
}

func (e *CoverArtError) Unwrap() error { return e.Err }

// ArchiveError is raised after an otherwise successful download when the
// S3 archive post-step fails. Callers may treat it as non-fatal.
type ArchiveError struct {
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive upload failed: %v", e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }
