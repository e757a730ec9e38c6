package evidence

import (
	"errors"
	"fmt"
)

// Sentinel errors for evidence collection.
var (
	// ErrManifestMissing indicates no sample manifest could be located.
	ErrManifestMissing = errors.New("sample manifest not found")

	// ErrManifestMalformed indicates the manifest was found but could not be
	// parsed, failed a structural check, or yielded no trackable samples.
	ErrManifestMalformed = errors.New("sample manifest malformed")

	// ErrNotReady indicates the run directory exists but the instrument has not
	// written enough metadata to identify it yet.
	ErrNotReady = errors.New("run not ready")
)

// EvidenceError wraps collection errors with run context.
type EvidenceError struct {
	// Op is the collection step that failed (e.g., "run_parameters", "samplesheet").
	Op string

	// Brand is the instrument brand of the run.
	Brand Brand

	// Run is the run directory name.
	Run string

	// Path is the file involved, if any.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *EvidenceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s: %s: %v", e.Brand, e.Op, e.Run, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Brand, e.Op, e.Run, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EvidenceError) Unwrap() error {
	return e.Err
}

// IsMissing returns true if err indicates a missing manifest.
func IsMissing(err error) bool {
	return errors.Is(err, ErrManifestMissing)
}

// IsMalformed returns true if err indicates an unusable manifest.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrManifestMalformed)
}

// IsNotReady returns true if err indicates a run that cannot be identified yet.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

func missing(b Brand, op, run, path string, cause error) error {
	err := ErrManifestMissing
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrManifestMissing, cause)
	}
	return &EvidenceError{Op: op, Brand: b, Run: run, Path: path, Err: err}
}

func malformed(b Brand, op, run, path string, cause error) error {
	err := ErrManifestMalformed
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrManifestMalformed, cause)
	}
	return &EvidenceError{Op: op, Brand: b, Run: run, Path: path, Err: err}
}
