package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// PublicKeySuffix is appended to the secret key path to name the public key file.
	PublicKeySuffix = ".pub"

	secretKeyFileMode = 0o600
	publicKeyFileMode = 0o644
	keyDirMode        = 0o755
)

// ErrKeyAlreadyExists is returned when SaveKeyPair would overwrite a secret key without force.
var ErrKeyAlreadyExists = errors.New("key already exists")

// KeyPair holds a public and a secret key, both as base64 encoded boxes.
// The caller owns the secret key string and should drop it as soon as it is stored.
type KeyPair struct {
	PublicKey string
	SecretKey string
}

type keyOptions struct {
	limits kdfLimits
}

// KeyOption configures key generation.
type KeyOption func(*keyOptions)

// WithKDFLimits overrides the scrypt limits used to encrypt the secret key.
// Lower limits make encrypted keys cheaper to brute force; use only for tests.
func WithKDFLimits(ops, mem uint64) KeyOption {
	return func(o *keyOptions) {
		o.limits = kdfLimits{ops: ops, mem: mem}
	}
}

// GenerateKey creates an Ed25519 keypair. A non-empty password encrypts the secret key.
func GenerateKey(password string, opts ...KeyOption) (*KeyPair, error) {
	options := keyOptions{
		limits: kdfLimits{ops: DefaultOpsLimit, mem: DefaultMemLimit},
	}

	for _, opt := range opts {
		opt(&options)
	}

	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	key := &secretKey{key: private}
	defer key.wipe()

	if _, err = rand.Read(key.id[:]); err != nil {
		return nil, fmt.Errorf("generate key id: %w", err)
	}

	secret, err := encodeSecretKey(key, password, options.limits)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		PublicKey: encodePublicKey(key.id, public),
		SecretKey: secret,
	}, nil
}

// PublicKeyPath returns the path of the public key stored next to a secret key.
func PublicKeyPath(secretKeyPath string) string {
	return secretKeyPath + PublicKeySuffix
}

// SaveKeyPair writes the secret key to path and the public key to path.pub.
// An existing secret key is only replaced when force is set; an existing
// public key file is always removed first.
func SaveKeyPair(pair *KeyPair, path string, force bool) error {
	if pair == nil {
		return fmt.Errorf("%w: empty keypair", ErrDecodeKey)
	}

	path = filepath.Clean(path)
	publicPath := PublicKeyPath(path)

	if _, err := os.Stat(path); err == nil {
		if !force {
			return fmt.Errorf("%w: %s (use force to overwrite)", ErrKeyAlreadyExists, path)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.Remove(publicPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old public key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), keyDirMode); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(pair.SecretKey), secretKeyFileMode); err != nil {
		return fmt.Errorf("write secret key: %w", err)
	}

	if err := os.WriteFile(publicPath, []byte(pair.PublicKey), publicKeyFileMode); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	return nil
}
