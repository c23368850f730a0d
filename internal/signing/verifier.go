package signing

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/jedisct1/go-minisign"
)

// signatureBoxLines is the number of lines in a signature box: untrusted
// comment, signature, trusted comment, global signature.
const signatureBoxLines = 4

// ErrSignatureInvalid is returned for any verification failure.
var ErrSignatureInvalid = errors.New("signature verification failed")

// Verify checks data against a base64 encoded signature box and public key box.
// Wrong keys, tampered data and malformed encodings all return ErrSignatureInvalid.
func Verify(data []byte, signatureB64, publicKeyB64 string) error {
	publicKey, err := decodeMinisignPublicKey(publicKeyB64)
	if err != nil {
		return fmt.Errorf("%w: public key: %w", ErrSignatureInvalid, err)
	}

	signature, err := decodeMinisignSignature(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: signature: %w", ErrSignatureInvalid, err)
	}

	valid, err := publicKey.Verify(data, signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}

	if !valid {
		return ErrSignatureInvalid
	}

	return nil
}

// decodeMinisignPublicKey accepts the base64 encoded box used in configs, its
// raw text form, or a bare minisign key line.
func decodeMinisignPublicKey(encoded string) (minisign.PublicKey, error) {
	trimmed := strings.TrimSpace(encoded)

	if raw, err := base64.StdEncoding.DecodeString(trimmed); err == nil && len(raw) == publicKeyBoxSize {
		return minisign.NewPublicKey(trimmed)
	}

	text, err := boxText(trimmed)
	if err != nil {
		return minisign.PublicKey{}, err
	}

	lines := boxLines(text)
	if len(lines) < 2 {
		return minisign.PublicKey{}, fmt.Errorf("%w: incomplete public key box", ErrDecodeKey)
	}

	return minisign.NewPublicKey(lines[1])
}

// decodeMinisignSignature normalises line endings before handing the box to minisign.
func decodeMinisignSignature(encoded string) (minisign.Signature, error) {
	text, err := boxText(encoded)
	if err != nil {
		return minisign.Signature{}, err
	}

	lines := boxLines(text)
	if len(lines) != signatureBoxLines {
		return minisign.Signature{}, fmt.Errorf("%w: signature box has %d lines", ErrDecodeKey, len(lines))
	}

	return minisign.DecodeSignature(strings.Join(lines, "\n"))
}
