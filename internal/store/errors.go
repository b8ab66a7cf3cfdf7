package store

import "strings"

// IsBusyError reports SQLITE_BUSY and "database is locked" failures.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsSchemaMismatchError reports errors caused by a database whose schema
// does not match the queries, such as a missing column.
func IsSchemaMismatchError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") || strings.Contains(msg, "no such table")
}

// IsUniqueError reports a UNIQUE constraint violation.
func IsUniqueError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
