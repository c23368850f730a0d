// Package version exposes build metadata for the bundle binaries.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Version doubles as the running application version the updater
// compares releases against, and feeds the download User-Agent.
package version
