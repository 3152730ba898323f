// Package errors defines the typed error taxonomy surfaced by the store.
//
// Three policies apply to these types: WriteConflictError is
// caught and retried internally by the transaction manager and should never
// reach an application caller; UniquenessViolationError and SchemaError
// propagate to the caller after the owning transaction aborts;
// CorruptMetadataError arises only while opening a database's persisted
// state and is always paired with a warning log, never a silent failure.
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// UniquenessViolationError reports that a write would have produced two
// live rows under the same primary key or unique secondary key.
type UniquenessViolationError struct {
	Table string
	Index string // "" for the primary key
	Key   string
}

func (e *UniquenessViolationError) Error() string {
	if e.Index == "" {
		return fmt.Sprintf("uniqueness violation: table %q primary key %s already has a live row", e.Table, e.Key)
	}
	return fmt.Sprintf("uniqueness violation: table %q unique index %q already maps key %s to a live row", e.Table, e.Index, e.Key)
}

// WriteConflictError signals that a transaction's write raced with a
// newer writer or reader on the same row. It never escapes the framework:
// the transaction manager catches it, aborts, and retries with a fresh id.
type WriteConflictError struct {
	Table string
	Key   string
	Cause string
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict on table %q key %s: %s", e.Table, e.Key, e.Cause)
}

// IsWriteConflict reports whether err is, or wraps, a WriteConflictError.
func IsWriteConflict(err error) bool {
	var wc *WriteConflictError
	return cockroacherrors.As(err, &wc)
}

// SchemaError reports an invalid schema string, an unknown key path, or an
// unrepresentable index combination (e.g. compound + multi-entry).
type SchemaError struct {
	Table  string
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("schema error: %s", e.Detail)
	}
	return fmt.Sprintf("schema error in table %q: %s", e.Table, e.Detail)
}

// CorruptMetadataError reports that a database's persisted metadata cannot
// be used: either the metadata blob does not parse (the durability manager
// then reinitializes an empty database), or the schema version it records
// does not match the newest declared one (DatabaseBuilder.Build then
// refuses to load).
type CorruptMetadataError struct {
	Database string
	Detail   string
}

func (e *CorruptMetadataError) Error() string {
	return fmt.Sprintf("corrupt metadata for database %q: %s", e.Database, e.Detail)
}

// TableNotFoundError reports a reference to an undeclared table id.
type TableNotFoundError struct {
	Name string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Name)
}

// TableAlreadyExistsError reports a duplicate table declaration.
type TableAlreadyExistsError struct {
	Name string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already declared", e.Name)
}

// IndexNotFoundError reports a reference to an undeclared index.
type IndexNotFoundError struct {
	Table string
	Name  string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q not found on table %q", e.Name, e.Table)
}

// Wrap attaches a cockroachdb/errors stack frame and message to err,
// used at package boundaries where we want provenance without inventing a
// new typed error.
func Wrap(err error, msg string) error {
	return cockroacherrors.Wrap(err, msg)
}

// Newf builds a plain stack-carrying error, used for conditions that do not
// warrant their own typed struct.
func Newf(format string, args ...interface{}) error {
	return cockroacherrors.Newf(format, args...)
}
