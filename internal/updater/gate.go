package updater

import (
	"github.com/Masterminds/semver/v3"

	"github.com/oshokin/bundle-updater/internal/domain/release"
)

// Comparator decides whether the remote release should replace the running version.
type Comparator func(current *semver.Version, remote *release.RemoteRelease) bool

// DefaultComparator proposes releases strictly newer than the current version,
// pre-releases ordered per semver.
func DefaultComparator(current *semver.Version, remote *release.RemoteRelease) bool {
	return remote.Version.GreaterThan(current)
}
