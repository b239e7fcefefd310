package domain

import (
	"errors"
	"fmt"
)

// NotFoundError reports a registry lookup miss.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

// Error describes the missing record.
func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// ValidationError reports an unusable field on a record submitted by a caller.
type ValidationError struct {
	Field  string
	Reason string
}

// Error names the offending field.
func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConfigurationError reports configuration the process cannot start with,
// such as an unknown storage driver or a missing DSN.
type ConfigurationError struct {
	Key    string
	Reason string
}

// Error names the offending configuration key.
func (e ConfigurationError) Error() string {
	if e.Key == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

// AuditError reports a failure to append to or verify the audit chain.
type AuditError struct {
	Op  string
	Err error
}

// Error describes the failed audit operation.
func (e AuditError) Error() string {
	return fmt.Sprintf("audit %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e AuditError) Unwrap() error { return e.Err }

// ModuleExecutionError wraps an error raised while running a module operation.
type ModuleExecutionError struct {
	Module    string
	Operation string
	Err       error
}

// Error names the module operation that failed.
func (e ModuleExecutionError) Error() string {
	return fmt.Sprintf("module %s operation %s: %v", e.Module, e.Operation, e.Err)
}

// Unwrap exposes the underlying cause.
func (e ModuleExecutionError) Unwrap() error { return e.Err }
