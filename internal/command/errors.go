package command

import (
	"errors"
	"fmt"

	"sxs-link/internal/protocol"
)

var (
	// ErrTransport marks failures where the proxy could not be reached or
	// answered with something that is not a response document.
	ErrTransport = errors.New("command: transport failure")
	// ErrRejected marks well-formed responses with isSuccess=false.
	ErrRejected = errors.New("command: rejected")
)

// TransportError is a connection-level failure on a command.
type TransportError struct {
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// RejectionError carries the server-supplied message of a rejected command.
type RejectionError struct {
	Command string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Command, e.Message)
}

func (e *RejectionError) Is(target error) bool { return target == ErrRejected }

// Rejection returns a RejectionError for an unsuccessful response, or nil.
func Rejection(command string, resp *protocol.Response) error {
	if resp != nil && resp.IsSuccess {
		return nil
	}
	return &RejectionError{Command: command, Message: resp.ErrorMessage()}
}

// IsFatal reports whether err means the proxy is gone rather than a request
// being refused.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransport)
}
