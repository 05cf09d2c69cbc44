package domain

import "fmt"

// DataPreparationError aborts a whole run: history is missing, too short or malformed
type DataPreparationError struct {
	Reason string
	Err    error
}

func (e *DataPreparationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data preparation failed: %s: %v", e.Reason, e.Err)
	}
	return "data preparation failed: " + e.Reason
}

func (e *DataPreparationError) Unwrap() error { return e.Err }

// InsufficientDataError reports a series too short for the requested operation
type InsufficientDataError struct {
	What string
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need %d, have %d", e.What, e.Need, e.Have)
}

// ChunkForecastError is one chunk's failed model call; the run continues without it
type ChunkForecastError struct {
	Chunk int
	Err   error
}

func (e *ChunkForecastError) Error() string {
	return fmt.Sprintf("forecast failed for chunk %d: %v", e.Chunk, e.Err)
}

func (e *ChunkForecastError) Unwrap() error { return e.Err }

// PersistenceUnavailableError is a network or remote failure after retries were exhausted
type PersistenceUnavailableError struct {
	Op  string
	Err error
}

func (e *PersistenceUnavailableError) Error() string {
	return fmt.Sprintf("persistence unavailable during %s: %v", e.Op, e.Err)
}

func (e *PersistenceUnavailableError) Unwrap() error { return e.Err }

// ReferentialPreconditionError is a dependent write attempted without a confirmed best record.
// Err holds the lookup failure when the parent could not be checked at all.
type ReferentialPreconditionError struct {
	UniqueKey string
	Op        string
	Err       error
}

func (e *ReferentialPreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s skipped: best record for %q could not be confirmed: %v", e.Op, e.UniqueKey, e.Err)
	}
	return fmt.Sprintf("%s skipped: no confirmed best record for %q", e.Op, e.UniqueKey)
}

func (e *ReferentialPreconditionError) Unwrap() error { return e.Err }
