package exception

import "errors"

// Recorder and dump errors
var (
	ErrRecordCorrupted = errors.New("recorder: corrupted record")
	ErrDumpVersion     = errors.New("state: unsupported dump version")
	ErrDumpMismatch    = errors.New("state: dump mismatch")
)
