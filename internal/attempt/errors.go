package attempt

import "errors"

// Initialization errors. Initialize wraps them with the offending detail.
var (
	ErrMissingAttemptID  = errors.New("attempt id is required")
	ErrNoSections        = errors.New("exam has no sections")
	ErrEmptySection      = errors.New("section has no questions")
	ErrDuplicateQuestion = errors.New("duplicate question id")
	ErrDuplicateSection  = errors.New("duplicate section id")
	ErrCursorOutOfRange  = errors.New("cursor out of range")
	ErrNegativeTime      = errors.New("time remaining is negative")
	ErrUnknownLanguage   = errors.New("unknown language")
)
