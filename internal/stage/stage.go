package stage

import (
	"errors"
	"fmt"
)

// Name identifies a pipeline stage.
type Name string

const (
	Sort    Name = "sort"
	Compose Name = "compose"
	Archive Name = "archive"
	Animate Name = "animate"
)

// Error is a fatal failure of one stage, tied to the path it concerns.
type Error struct {
	Stage Name
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as a stage error unless it already is one.
func Wrap(name Name, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Stage: name, Path: path, Err: err}
}

// Of returns the stage an error belongs to, or "" if err is not a stage error.
func Of(err error) Name {
	var se *Error
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
