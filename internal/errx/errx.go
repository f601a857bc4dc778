package errx

import "fmt"

// Wrap chains a cause onto a sentinel error. Both remain matchable
// with errors.Is.
func Wrap(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With appends detail text to a sentinel error. The sentinel remains
// matchable with errors.Is.
func With(sentinel error, detail string) error {
	return fmt.Errorf("%w%s", sentinel, detail)
}
