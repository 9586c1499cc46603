package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures for the notification channel.
type ErrorKind string

// Error kinds.
const (
	KindFileAccess  ErrorKind = "FILE_ACCESS_ERROR"
	KindCompression ErrorKind = "COMPRESSION_ERROR"
	KindCipher      ErrorKind = "CIPHER_ERROR"
	KindIntegrity   ErrorKind = "INTEGRITY_ERROR"
	KindTempStorage ErrorKind = "TEMP_STORAGE_ERROR"
	KindPersistence ErrorKind = "PERSISTENCE_ERROR"
	KindCanceled    ErrorKind = "CANCELED"
)

// Code returns the numeric exit code used by existing front-ends.
// -5 is held by the retired extension-type check.
func (k ErrorKind) Code() int {
	switch k {
	case KindFileAccess:
		return -1
	case KindCompression:
		return -2
	case KindCipher:
		return -3
	case KindIntegrity:
		return -4
	case KindTempStorage:
		return -6
	case KindPersistence:
		return -7
	case KindCanceled:
		return -8
	default:
		return -99
	}
}

// Sentinel errors
var (
	ErrIntegrityCheckFail = errors.New("checksum failed")
	ErrInvalidJob         = errors.New("invalid job")
	ErrJobNotFound        = errors.New("job not found")
)

// PipelineError is the single failure reported for a job.
type PipelineError struct {
	JobID   string
	Kind    ErrorKind
	Stage   string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job %s %s [%s]: %s: %v", e.JobID, e.Stage, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("job %s %s [%s]: %s", e.JobID, e.Stage, e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from a pipeline error chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a pipeline error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
