package updater

import "errors"

var (
	// ErrNetwork is returned for transport failures and non-success HTTP statuses.
	ErrNetwork = errors.New("network error")
	// ErrReleaseNotFound is returned when no endpoint produced a parsable manifest.
	ErrReleaseNotFound = errors.New("could not fetch a valid release from any endpoint")
	// ErrFailedToDetermineExtractPath is returned when the installed artifact cannot be located.
	ErrFailedToDetermineExtractPath = errors.New("failed to determine the extract path")
	// errInvalidCurrentVersion is returned when the running version is not semver.
	errInvalidCurrentVersion = errors.New("invalid current version")
)
