// Package installer replaces the running application with a verified update.
//
// Each release format has its own strategy: NSIS and MSI payloads are handed
// to the Windows installer before the process exits, AppImages are swapped in
// place with go-update, and macOS bundles are extracted over a backup that is
// restored if anything fails.
package installer
