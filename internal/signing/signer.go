package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	// SignatureSuffix is appended to an artifact path to name its signature file.
	SignatureSuffix = ".sig"

	signatureFileMode = 0o644
)

// SigningConfig carries the secret key for one signing operation.
type SigningConfig struct {
	// PrivateKey is the secret key box, either base64 encoded or in raw text form.
	PrivateKey string
	// Password decrypts the secret key. Empty for unencrypted keys.
	Password string
}

// SignatureFilePath returns where the signature of an artifact is written.
func SignatureFilePath(artifactPath string) string {
	return artifactPath + SignatureSuffix
}

// SignFile signs the file at path and writes the base64 encoded signature box
// to path.sig, returning that path. The signed file is only read.
func SignFile(cfg SigningConfig, path string) (string, error) {
	key, err := decodeSecretKey(cfg.PrivateKey, cfg.Password)
	if err != nil {
		return "", err
	}

	defer key.wipe()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	signature := signBytes(key, data, trustedComment(time.Now(), filepath.Base(path)))
	signaturePath := SignatureFilePath(path)

	if err = os.WriteFile(signaturePath, []byte(signature), signatureFileMode); err != nil {
		return "", fmt.Errorf("write signature: %w", err)
	}

	return signaturePath, nil
}

// SignBytes signs data in memory and returns the base64 encoded signature box.
// fileName only feeds the trusted comment.
func SignBytes(cfg SigningConfig, data []byte, fileName string) (string, error) {
	key, err := decodeSecretKey(cfg.PrivateKey, cfg.Password)
	if err != nil {
		return "", err
	}

	defer key.wipe()

	return signBytes(key, data, trustedComment(time.Now(), fileName)), nil
}

func trustedComment(now time.Time, fileName string) string {
	return "timestamp:" + strconv.FormatInt(now.Unix(), 10) + "\tfile:" + fileName
}

// signBytes produces a prehashed signature: the artifact is hashed with BLAKE2b-512
// and the global signature covers the signature and the trusted comment.
func signBytes(key *secretKey, data []byte, comment string) string {
	digest := blake2b.Sum512(data)
	signature := ed25519.Sign(key.key, digest[:])

	signed := make([]byte, 0, len(signature)+len(comment))
	signed = append(signed, signature...)
	signed = append(signed, comment...)
	globalSignature := ed25519.Sign(key.key, signed)

	box := make([]byte, 0, 2+keyIDSize+ed25519.SignatureSize)
	box = append(box, algPrehashed[:]...)
	box = append(box, key.id[:]...)
	box = append(box, signature...)

	text := untrustedCommentPrefix + "signature from bundle-signer secret key\n" +
		base64.StdEncoding.EncodeToString(box) + "\n" +
		trustedCommentPrefix + comment + "\n" +
		base64.StdEncoding.EncodeToString(globalSignature) + "\n"

	return base64.StdEncoding.EncodeToString([]byte(text))
}
