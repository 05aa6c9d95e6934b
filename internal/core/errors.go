package core

import "errors"

// Error taxonomy surfaced to callers. Context assembly and deviation math
// are pure, so their failures are always permanent; only generation and
// storage I/O are ever retried.
var (
	// ErrNotFound: unknown chunk, anchor, or session. Permanent.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange: anchor ordering or chapter mismatch. Permanent.
	ErrInvalidRange = errors.New("invalid anchor range")

	// ErrAlreadyProcessing: a turn is already in flight for the session.
	ErrAlreadyProcessing = errors.New("session is already processing a turn")

	// ErrGenerationFailed: provider error after retries were exhausted.
	// Session state is left untouched.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrSchemaViolation: provider returned a malformed script. The
	// orchestrator degrades to a fallback script instead of failing the turn.
	ErrSchemaViolation = errors.New("script schema violation")
)
