package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidProject      = errors.New("invalid_project")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrProjectNotFound     = errors.New("project_not_found")
	ErrSnapshotNotFound    = errors.New("invoice_basis_not_found")
	ErrRefreshInProgress   = errors.New("invoice_basis_refresh_in_progress")
	ErrInvalidLockedBy     = errors.New("invalid_locked_by")
)

// Snapshot writer operations named in persistence errors.
const (
	OpLookup = "lookup"
	OpUpdate = "update"
	OpInsert = "insert"
	OpReread = "reread"
	OpLock   = "lock"
)

// PersistenceError names the snapshot operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("invoice basis %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SourceReadError names the source whose read aborted a refresh.
type SourceReadError struct {
	Source string
	Err    error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Source, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }
