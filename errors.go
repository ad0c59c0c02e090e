package archivist

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("archivist: no store configured")
	ErrStoreClosed     = errors.New("archivist: store closed")
	ErrMigrationFailed = errors.New("archivist: migration failed")

	// Not found errors.
	ErrTaskNotFound      = errors.New("archivist: task not found")
	ErrJobNotFound       = errors.New("archivist: job not found")
	ErrAnalystNotFound   = errors.New("archivist: analyst not found")
	ErrTaskErrorNotFound = errors.New("archivist: task error not found")
	ErrCronNotFound      = errors.New("archivist: cron entry not found")

	// Conflict errors.
	ErrTaskAlreadyExists = errors.New("archivist: task already exists")
	ErrJobAlreadyExists  = errors.New("archivist: job already exists")
	ErrAnalystExists     = errors.New("archivist: analyst already exists")
	ErrDuplicateCron     = errors.New("archivist: duplicate cron entry")

	// State errors.
	ErrInvalidState = errors.New("archivist: invalid state transition")

	// Cluster lock errors.
	ErrNoLockFlow     = errors.New("archivist: no lock flow in context")
	ErrNotCombineLock = errors.New("archivist: lock is not a combine lock")

	// Credential errors.
	ErrInvalidCredential = errors.New("archivist: invalid credential")
	ErrCredentialExpired = errors.New("archivist: credential expired")

	// Worker pool errors.
	ErrPoolStopped = errors.New("archivist: worker pool stopped")
)
