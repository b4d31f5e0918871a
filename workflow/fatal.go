package workflow

import "errors"

// fatalError wraps a step error that retries cannot fix (malformed
// payload, permanent provider rejection). A fatal failure moves the run
// to StatusFailed after a single attempt.
type fatalError struct {
	err error
}

func (f *fatalError) Error() string { return f.err.Error() }

func (f *fatalError) Unwrap() error { return f.err }

// Fatal marks an error as non-retryable. Step bodies return Fatal(err)
// to skip the retry policy; plain errors are treated as transient.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
