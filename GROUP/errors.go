package group

import "golang.org/x/xerrors"

var (
	// ErrProtocolViolation marks malformed input: bad encodings, length
	// mismatches, queries longer than l. It is never retried.
	ErrProtocolViolation = xerrors.New("protocol violation")

	// ErrFatalSetup marks RNG or curve initialisation failures.
	ErrFatalSetup = xerrors.New("fatal setup error")
)

// Violation wraps a formatted message with ErrProtocolViolation.
func Violation(format string, args ...interface{}) error {
	return xerrors.Errorf(format+": %w", append(args, ErrProtocolViolation)...)
}
