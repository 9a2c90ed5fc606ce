// Package errors provides error types and translation for SFTP filesystem
// operations. Remote failures are mapped onto stable sentinel errors that
// consumers can check with errors.Is(), independent of the wire-level
// status codes the server happened to send.
package errors

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/sftp"
)

// Error wraps a failure with the operation and remote path it concerns.
type Error struct {
	// Op is the operation that failed (e.g., "stat", "readdir", "rename").
	Op string

	// Path is the remote path involved, when applicable.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("sshfs.%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("sshfs.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithPath adds remote path context to an existing error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// New creates a new Error with the given operation and underlying error.
func New(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// Sentinel errors for common SFTP operation failures.
// These can be used with errors.Is() for error checking.
var (
	// ErrNotExist indicates the remote path does not exist.
	ErrNotExist = os.ErrNotExist

	// ErrExist indicates the remote path already exists.
	ErrExist = os.ErrExist

	// ErrPermission indicates the server denied access to the path.
	ErrPermission = os.ErrPermission

	// ErrUnsupported indicates the server does not implement the
	// requested protocol operation.
	ErrUnsupported = errors.New("sshfs: operation unsupported by server")

	// ErrInvalidInput indicates the provided input is invalid.
	ErrInvalidInput = errors.New("sshfs: invalid input")

	// ErrClosed indicates the filesystem or file handle has been closed.
	ErrClosed = errors.New("sshfs: closed")
)

// Translate maps SFTP status failures onto the package sentinels. The sftp
// client already normalises no-such-file and permission-denied statuses to
// os.ErrNotExist and os.ErrPermission; the remaining interesting statuses
// arrive as *sftp.StatusError and are mapped by code. Errors that carry no
// recognisable status are returned unchanged.
func Translate(err error) error {
	if err == nil {
		return nil
	}

	var status *sftp.StatusError
	if errors.As(err, &status) {
		switch status.Code {
		case uint32(sftp.ErrSSHFxOpUnsupported):
			return fmt.Errorf("%w: %v", ErrUnsupported, err)
		case uint32(sftp.ErrSSHFxFailure):
			// The generic failure status is all many servers send for
			// an existing target; recognise it from the message the
			// way OpenSSH phrases it.
			if strings.Contains(strings.ToLower(err.Error()), "already exists") {
				return fmt.Errorf("%w: %v", ErrExist, err)
			}
		}
	}
	return err
}

// IsNotExist checks if an error indicates a missing remote path.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsExist checks if an error indicates the remote path already exists.
func IsExist(err error) bool {
	return errors.Is(err, ErrExist)
}

// IsPermission checks if an error indicates the server denied access.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsUnsupported checks if an error indicates the server lacks the
// requested protocol operation.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
