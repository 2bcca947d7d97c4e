// Package errs provides the error taxonomy shared by every build stage.
//
// Each stage wraps its native errors into *errs.Error before returning them.
// The sequencer and the CLI use the Is* predicates to report which stage
// failed without importing stage-specific packages.
//
// Usage:
//
//	// In the migration applier, attach the offending version:
//	return errs.MigrationFailure("2", err)
//
//	// In the CLI, check which stage failed:
//	if errs.IsMigrationFailure(err) {
//	    ...
//	}
package errs

import (
	"errors"
	"fmt"
)

// Kind categorises a failure by the stage that produced it.
type Kind int

const (
	KindUnknown       Kind = iota
	KindProvision          // container could not be started or reached
	KindMigration          // a migration script could not be applied
	KindIntrospection      // catalog unreadable or code could not be generated
	KindTeardown           // container could not be removed
	KindInvalidInput       // bad configuration or script set
)

func (k Kind) String() string {
	switch k {
	case KindProvision:
		return "provision_failure"
	case KindMigration:
		return "migration_failure"
	case KindIntrospection:
		return "introspection_failure"
	case KindTeardown:
		return "teardown_failure"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Sentinel causes. They are wrapped as the Cause of an *Error so callers can
// use errors.Is on the full chain.
var (
	ErrPortInUse        = errors.New("host port already in use")
	ErrStartupTimeout   = errors.New("database did not become ready before the startup deadline")
	ErrLocked           = errors.New("another migration run holds the ledger lock")
	ErrChecksumMismatch = errors.New("applied migration checksum differs from local script")
	ErrMissingScript    = errors.New("applied migration has no local script")
	ErrDuplicateVersion = errors.New("duplicate migration version")
	ErrSchemaNotFound   = errors.New("schema not found")
	ErrUnmappedType     = errors.New("column type has no remapping rule and no built-in mapping")
)

// Error is the single error type returned by the build stages.
type Error struct {
	Kind    Kind
	Message string
	Version string // migration version, set for KindMigration
	Schema  string // schema name, set for KindIntrospection
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// ProvisionFailure reports that the ephemeral database could not be started.
func ProvisionFailure(msg string, cause error) *Error {
	return Wrap(KindProvision, msg, cause)
}

// MigrationFailure reports that the script with the given version failed.
func MigrationFailure(version string, cause error) *Error {
	return &Error{
		Kind:    KindMigration,
		Message: fmt.Sprintf("migration %s", version),
		Version: version,
		Cause:   cause,
	}
}

// IntrospectionFailure reports that schema could not be read or generated.
func IntrospectionFailure(schema string, cause error) *Error {
	return &Error{
		Kind:    KindIntrospection,
		Message: fmt.Sprintf("schema %q", schema),
		Schema:  schema,
		Cause:   cause,
	}
}

// TeardownFailure reports that the ephemeral database could not be removed.
func TeardownFailure(cause error) *Error {
	return Wrap(KindTeardown, "teardown", cause)
}

// Invalid reports bad input from the caller.
func Invalid(msg string) *Error {
	return New(KindInvalidInput, msg)
}

// --- Predicates ---

// IsProvisionFailure reports whether err came from the provisioner.
func IsProvisionFailure(err error) bool {
	return KindOf(err) == KindProvision
}

// IsMigrationFailure reports whether err came from the migration applier.
func IsMigrationFailure(err error) bool {
	return KindOf(err) == KindMigration
}

// IsIntrospectionFailure reports whether err came from introspection or code generation.
func IsIntrospectionFailure(err error) bool {
	return KindOf(err) == KindIntrospection
}

// IsTeardownFailure reports whether err came from container teardown.
func IsTeardownFailure(err error) bool {
	return KindOf(err) == KindTeardown
}

// IsInvalidInput reports whether err was caused by bad input.
func IsInvalidInput(err error) bool {
	return KindOf(err) == KindInvalidInput
}

// KindOf extracts the Kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
