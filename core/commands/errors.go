package commands

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyBuilt is returned by Build once the registry has been built.
	ErrAlreadyBuilt = errors.New("commands: registry can only be built once")
	// ErrDuplicateCallname matches any DuplicateCallnameError via errors.Is.
	ErrDuplicateCallname = errors.New("commands: duplicate callname")
	// ErrNilHandler is returned when a source yields a nil handler.
	ErrNilHandler = errors.New("commands: nil handler")
	// ErrNilSource is returned when Build receives no source.
	ErrNilSource = errors.New("commands: nil source")
)

// DuplicateCallnameError names the registered command that already owns a callname.
type DuplicateCallnameError struct {
	// Command is the name of the command already holding the callname.
	Command string
	// Callname is the shared name or alias.
	Callname string
	// Rejected is the name of the command whose registration failed.
	Rejected string
}

func (e *DuplicateCallnameError) Error() string {
	return fmt.Sprintf("commands: registry already contains command %q using callname %q (rejected %q)",
		e.Command, e.Callname, e.Rejected)
}

// Is makes errors.Is(err, ErrDuplicateCallname) succeed.
func (e *DuplicateCallnameError) Is(target error) bool {
	return target == ErrDuplicateCallname
}

// Code identifies the error in structured logs.
func (e *DuplicateCallnameError) Code() string { return "duplicate_callname" }

// InvalidDescriptorError reports a descriptor that cannot be registered.
type InvalidDescriptorError struct {
	Command string
	Reason  string
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("commands: invalid descriptor %q: %s", e.Command, e.Reason)
}

// Code identifies the error in structured logs.
func (e *InvalidDescriptorError) Code() string { return "invalid_descriptor" }
