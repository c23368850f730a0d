// Package signer implements the key generation and artifact signing workflows
// of bundle-signer.
package signer
