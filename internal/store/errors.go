package store

import (
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrorKind classifies storage failures
type ErrorKind string

const (
	// KindOpenFailed means the database could not be opened or migrated
	KindOpenFailed ErrorKind = "open_failed"

	// KindTransactionFailed means a transaction could not be completed
	KindTransactionFailed ErrorKind = "transaction_failed"

	// KindQuotaExceeded means the host denied the write for lack of space
	KindQuotaExceeded ErrorKind = "quota_exceeded"
)

// StorageError is the tagged error returned by every store operation.
// Operations always surface it to the caller; data is never silently dropped.
type StorageError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr wraps err with the operation name, classifying quota failures
// reported by sqlite as KindQuotaExceeded
func storageErr(kind ErrorKind, op string, err error) *StorageError {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		kind = KindQuotaExceeded
	}
	return &StorageError{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err is a StorageError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == kind
}
