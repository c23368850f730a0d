// Package integration holds end-to-end tests of the release pipeline:
// key generation, signing, manifest publishing, update checks and installs.
package integration
