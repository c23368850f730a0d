// Package updater finds, downloads and installs signed releases.
//
// An Updater probes the configured endpoints in order until one returns a
// manifest, asks its Comparator whether the release supersedes the running
// version and resolves the artifact for the current target. The resulting
// Update downloads the artifact into memory, verifies its signature and only
// then hands it to the installer for its format.
package updater
