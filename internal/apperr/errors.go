// Package apperr defines the error vocabulary shared by the notation core.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrJournal marks write-ahead journal failures. Journaling is disabled
	// for the rest of the session when one is reported.
	ErrJournal = errors.New("journal unavailable")
	// ErrDirectory marks a missing, unreadable or relocated note directory.
	ErrDirectory = errors.New("note directory unavailable")
	// ErrPartialFlush is matched by flush errors where only some notes failed.
	ErrPartialFlush = errors.New("some notes were not written")
	ErrCorrupt      = errors.New("corrupt data")
)

// Kind classifies a StatusError.
type Kind int

const (
	KindRecord Kind = iota
	KindJournal
	KindDirectory
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindJournal:
		return "journal"
	case KindDirectory:
		return "directory"
	case KindConflict:
		return "conflict"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// StatusError is the structured status surfaced to callers when an operation
// is aborted by a journal or directory condition.
type StatusError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Is lets errors.Is match a StatusError against the sentinel of its kind.
func (e *StatusError) Is(target error) bool {
	switch e.Kind {
	case KindJournal:
		return target == ErrJournal
	case KindDirectory:
		return target == ErrDirectory
	case KindConflict:
		return target == ErrConflict
	}
	return false
}

// Directory wraps err as a directory-level status.
func Directory(op string, err error) error {
	return &StatusError{Kind: KindDirectory, Op: op, Err: err}
}

// Journal wraps err as a journal-level status.
func Journal(op string, err error) error {
	return &StatusError{Kind: KindJournal, Op: op, Err: err}
}
