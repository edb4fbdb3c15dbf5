// Package checkpoint decorates errors with the location they passed through, which results in
// something similar to a stacktrace without the cost of capturing one.
//
// Every error attached to a checkpoint stays reachable by errors.Is and errors.As, so callers of the
// FAT engine can test for the domain sentinels (for example govfat.ErrDiskFull) while the message
// still tells where the failure surfaced.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// From wraps err in a checkpoint which only adds the caller location.
// It returns nil if err == nil.
func From(err error) error {
	// io.EOF must be returned as io.EOF directly
	// https://github.com/golang/go/issues/39155
	if err == io.EOF || err == io.ErrUnexpectedEOF || err == nil {
		return err
	}

	return newCheckpoint(err, nil)
}

// Wrap adds a checkpoint to prev and attaches err as the description of the checkpoint.
// This allows to predefine sentinel errors and use them later:
//  var ErrDiskFull = errors.New("disk full")
//
//  func allocate() error {
//  	err := scan()
//  	return checkpoint.Wrap(err, ErrDiskFull)
//  }
// errors.Is(err, ErrDiskFull) and errors.Is(err, <whatever scan returned>) both hold afterwards.
// Returns nil if prev == nil.
func Wrap(prev, err error) error {
	// io.EOF must be returned as io.EOF directly
	// https://github.com/golang/go/issues/39155
	if prev == io.EOF {
		return io.EOF
	}

	if prev == nil {
		return nil
	}

	return newCheckpoint(prev, err)
}

// Wrapf creates a checkpoint for the sentinel err with a formatted detail message as cause.
// In contrast to Wrap it never returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return newCheckpoint(fmt.Errorf(format, args...), err)
}

func newCheckpoint(prev, err error) *checkpoint {
	// Skip newCheckpoint and the exported function calling it.
	_, file, line, ok := runtime.Caller(2)

	return &checkpoint{
		err:  err,
		prev: prev,

		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

type checkpoint struct {
	err  error
	prev error

	callerOk bool
	file     string
	line     int
}

func (e *checkpoint) location() string {
	if e.callerOk {
		return fmt.Sprintf("%s:%d", e.file, e.line)
	}
	return "unknown"
}

func (e *checkpoint) Error() string {
	// Use different formatting for the prev error if it was not also a checkpoint.
	prevErrString := e.prev.Error()
	if _, ok := e.prev.(*checkpoint); !ok {
		prevErrString = "File: unknown\n\t" + strings.ReplaceAll(prevErrString, "\n", "\n\t")
	}

	if e.err == nil {
		return fmt.Sprintf("File: %s\n%v", e.location(), prevErrString)
	}
	return fmt.Sprintf("File: %s\n\t%v\n%v", e.location(), e.err, prevErrString)
}

func (e *checkpoint) Unwrap() error {
	return e.prev
}

func (e *checkpoint) Is(target error) bool {
	if e.err == nil {
		return false
	}
	return errors.Is(e.err, target)
}

func (e *checkpoint) As(target interface{}) bool {
	if e.err == nil {
		return false
	}
	return errors.As(e.err, target)
}
