// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrMissingRepo  = errors.New("missing repository ID")
	ErrInvalidRepo  = errors.New("invalid repository ID: expected owner/name format")
	ErrUnauthorized = errors.New("unauthorized: this repository requires authentication")
	ErrNotFound     = errors.New("repository or revision not found")
	// ErrRateLimited matches a 429 answer. StatusError.RetryAfter carries the
	// wait the Hub asked for, when it sent one.
	ErrRateLimited = errors.New("rate limited: too many requests")
)

// statusSentinels maps Hub status codes to the errors callers branch on.
var statusSentinels = map[int]error{
	http.StatusUnauthorized:    ErrUnauthorized,
	http.StatusForbidden:       ErrUnauthorized,
	http.StatusNotFound:        ErrNotFound,
	http.StatusTooManyRequests: ErrRateLimited,
}

// StatusError is a non-200 answer from the Hub tree API.
type StatusError struct {
	Repo       string
	URL        string
	StatusCode int
	// Hint tells the user what to do about it, if anything.
	Hint       string
	RetryAfter time.Duration
}

func newStatusError(repo Repo, reqURL string, resp *http.Response, hint string) *StatusError {
	e := &StatusError{Repo: repo.ID, URL: reqURL, StatusCode: resp.StatusCode, Hint: hint}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("list %s: HTTP %d %s", e.Repo, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

func (e *StatusError) Is(target error) bool {
	s, ok := statusSentinels[e.StatusCode]
	return ok && s == target
}

// FileError wraps a failure for one repository file.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
