// Package release models the update manifest served to clients.
//
// A manifest comes in two shapes: a static one listing artifacts per
// "<os>-<arch>" target under "platforms", and a dynamic one describing a
// single artifact at the top level. RemoteRelease decodes both into an
// explicit tagged union; when both shapes are present the static one wins.
package release
