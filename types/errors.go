package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced across the registry boundary. Every error returned by
// the registry wraps exactly one of them.
var (
	// ErrValidation marks bad input: wrong file type, mismatched
	// chunk/embedding counts, empty questions.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown document id.
	ErrNotFound = errors.New("not found")

	// ErrProvider marks an embedding or generation provider failure,
	// including provider-side timeouts.
	ErrProvider = errors.New("provider error")

	// ErrStorage marks index I/O failure. A missing index is not a storage
	// error.
	ErrStorage = errors.New("storage error")

	// ErrConfig marks invalid configuration detected at construction time.
	ErrConfig = errors.New("configuration error")
)

var kinds = []error{ErrValidation, ErrNotFound, ErrProvider, ErrStorage, ErrConfig}

// KindOf returns the error kind wrapped by err, or nil if err carries none.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Classify guarantees err carries a kind. Unclassified errors are treated
// as storage failures.
func Classify(err error) error {
	if err == nil || KindOf(err) != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// ProviderErr wraps a provider failure with the operation that caused it.
func ProviderErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}

// StorageErr wraps an index I/O failure with the operation that caused it.
func StorageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
