// Package packager prepares the release manifest consumed by the updater.
//
// It collects signed artifacts per target, builds a static latest.json that
// points at the upload folder, validates it against the manifest schema and can
// write a matching client configuration. The resulting files are uploaded to the
// folder served to clients.
package packager
