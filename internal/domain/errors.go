package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateArticle is returned by storage when the article URL is
	// already stored. The task manager counts it as a duplicate.
	ErrDuplicateArticle = errors.New("article already stored")

	// ErrAccountNotFound is returned when the platform has no account
	// matching the requested name. It ends a crawl immediately.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidTransition is returned when a task cannot move to the
	// requested state from its current one.
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// ConflictError reports that an account already has an active task.
type ConflictError struct {
	Account string
	TaskID  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("account %q already has active task %s", e.Account, e.TaskID)
}

// NotFoundError reports an unknown (or no longer addressable) resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// FetchErrorKind classifies network failures.
type FetchErrorKind string

const (
	FetchTimeout    FetchErrorKind = "timeout"
	FetchStatus     FetchErrorKind = "status"
	FetchConnection FetchErrorKind = "connection"
)

// FetchError is a failed network fetch of a single page.
type FetchError struct {
	URL        string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == FetchStatus:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is a page that was fetched but could not be turned into a record.
type ParseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError is a persistence failure. It is fatal to the task.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigError is an invalid option or configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
