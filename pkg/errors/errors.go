// Package errors defines the sentinel errors shared by the replication
// pipeline and a StageError wrapper that records where in a cycle a failure
// happened.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNoChanges signals that a table has no rows newer than its
	// watermark. It is control flow, not a failure.
	ErrNoChanges = errors.New("no changes")
	// ErrTransient marks connectivity failures that qualify for backoff.
	ErrTransient = errors.New("transient i/o error")
	// ErrStorageUnavailable is returned when the checkpoint store cannot be
	// reached or its contents cannot be decoded.
	ErrStorageUnavailable = errors.New("checkpoint storage unavailable")
	ErrInvalidInput       = errors.New("invalid input")
	ErrFatal              = errors.New("fatal error")
)

// Stage names the phase of a replication cycle.
type Stage string

const (
	StageProduce   Stage = "produce"
	StageEnrich    Stage = "enrich"
	StageMerge     Stage = "merge"
	StageTransform Stage = "transform"
	StagePublish   Stage = "publish"
	StageCommit    Stage = "commit"
)

type StageError struct {
	Stage Stage
	Table string
	Err   error
}

func (e *StageError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Err.Error())
	}
	return fmt.Sprintf("%s %s: %s", e.Stage, e.Table, e.Err.Error())
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func Wrap(stage Stage, table string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Table: table, Err: err}
}

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func Newf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsNoChanges(err error) bool {
	return errors.Is(err, ErrNoChanges)
}

// StageOf returns the stage recorded on err, or "unknown" if none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "unknown"
}
