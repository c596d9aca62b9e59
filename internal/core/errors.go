package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad or missing request input.
	ErrValidation = errors.New("validation failed")
	// ErrNotReady is returned while the retriever corpus is still being built.
	ErrNotReady = errors.New("service not ready")
	// ErrRetrievalUnavailable wraps embedding failures during retrieval.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrGenerationUnavailable wraps generation failures and timeouts.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrTranslationUnavailable wraps failures of the translation backend.
	ErrTranslationUnavailable = errors.New("translation unavailable")
	// ErrPersistence wraps store failures on a primary path.
	ErrPersistence = errors.New("persistence failed")
)

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
