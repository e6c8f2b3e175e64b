// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"errors"
	"fmt"
	"io/fs"
)

// Kind classifies a failure so callers can branch without parsing messages.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors not produced by this package.
	KindUnknown Kind = iota
	// KindNetwork covers connection failures, timeouts and bad HTTP statuses.
	KindNetwork
	// KindIO covers local read/write failures other than permission problems.
	KindIO
	// KindFormat covers corrupt, truncated or unsupported archives.
	KindFormat
	// KindNotFound means the archive to extract does not exist.
	KindNotFound
	// KindPermission means a directory or file could not be created due to permissions.
	KindPermission
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// Sentinel errors matched by *Error.Is.
var (
	// ErrNetwork is matched by network failures (connection, timeout, bad status).
	ErrNetwork = errors.New("network failure")

	// ErrLocalIO is matched by local write or read failures.
	ErrLocalIO = errors.New("local i/o failure")

	// ErrCorruptArchive is matched when an archive fails format validation.
	ErrCorruptArchive = errors.New("corrupt or invalid archive")

	// ErrArchiveNotFound is matched when the archive file does not exist.
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrPermission is matched when the filesystem denies access.
	ErrPermission = errors.New("permission denied")

	// ErrInvalidResource is returned when a Resource cannot be placed in a Layout.
	ErrInvalidResource = errors.New("invalid resource")
)

// Error is the error type returned by Fetcher, Extractor and Layout.
type Error struct {
	Kind       Kind
	Op         string // "fetch", "extract", "mkdir", "marker"
	Path       string
	URL        string
	StatusCode int // HTTP status, 0 for non-HTTP failures
	Err        error
}

func (e *Error) Error() string {
	target := e.Path
	if e.URL != "" {
		target = e.URL
	}
	msg := fmt.Sprintf("%s %s: %s", e.Op, target, e.Kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for the package sentinels.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindNetwork:
		return target == ErrNetwork
	case KindIO:
		return target == ErrLocalIO
	case KindFormat:
		return target == ErrCorruptArchive
	case KindNotFound:
		return target == ErrArchiveNotFound
	case KindPermission:
		return target == ErrPermission
	default:
		return false
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// ioKind maps a filesystem error to KindPermission or KindIO.
func ioKind(err error) Kind {
	if errors.Is(err, fs.ErrPermission) {
		return KindPermission
	}
	return KindIO
}
