// Package config defines the updater settings used by bundle-updater and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the ordered manifest endpoints, the publisher public
// key, network timeout and headers, and Windows installer options.
package config
