// Package signing creates and checks detached artifact signatures.
//
// Keys and signatures use the minisign box formats, transported as base64 of
// the box text: GenerateKey and SaveKeyPair manage Ed25519 keypairs (the
// secret key optionally scrypt-encrypted), SignFile writes <artifact>.sig with
// a trusted comment, and Verify checks downloaded bytes with go-minisign
// before anything is installed.
package signing
