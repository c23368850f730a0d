// Package updater implements the bundle-updater workflow.
//
// It loads the YAML settings, asks the configured endpoints for a newer
// release and, when installing, downloads the artifact with progress logging,
// verifies its signature and replaces the installed application. A marker
// file keeps two runs from installing over the same artifact at once.
package updater
