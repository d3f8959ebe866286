package journal

// ============================================================================
// Journal Error Definitions
// Purpose: Define all journal-related error types
// ============================================================================

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrCorruptedJournal indicates the journal file cannot be parsed.
	ErrCorruptedJournal = errors.New("journal: file is corrupted")

	// ErrChecksumMismatch indicates a record failed checksum verification.
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")

	// ErrUpdateKindNotSet indicates a record with no recognized update kind.
	// This is fatal to replay/application: it implies a producer bug or
	// log corruption, never a condition to skip over.
	ErrUpdateKindNotSet = errors.New("journal: update kind not set")

	// ErrJournalClosed indicates the journal is closed.
	ErrJournalClosed = errors.New("journal: already closed")
)

// ChecksumError carries the detail of a failed verification.
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("journal: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)",
		e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// CorruptionError wraps a parse failure with its position.
type CorruptionError struct {
	Seq   uint64 // last successfully read seq, if any
	Cause error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupted after seq=%d: %v", e.Seq, e.Cause)
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorruptedJournal
}
