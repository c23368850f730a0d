package signer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/bundle-updater/internal/logger"
	"github.com/oshokin/bundle-updater/internal/signing"
)

const (
	// PrivateKeyEnv holds the private key (literal box or file path) when no flag is given.
	PrivateKeyEnv = "BUNDLE_SIGNER_PRIVATE_KEY"
	// PrivateKeyPasswordEnv holds the private key password when no flag is given.
	PrivateKeyPasswordEnv = "BUNDLE_SIGNER_PRIVATE_KEY_PASSWORD"
)

var (
	errNoPrivateKey = errors.New("a private key is required: pass --private-key, --private-key-path or set " +
		PrivateKeyEnv)
	errNoFiles = errors.New("at least one file to sign is required")
)

// GenerateOptions are inputs of the generate workflow.
type GenerateOptions struct {
	// KeyPath is where the secret key is written; the public key goes to KeyPath.pub.
	// When empty both keys are only logged.
	KeyPath string
	// Password encrypts the secret key. Empty means unencrypted.
	Password string
	// Force overwrites an existing key.
	Force bool
	// keyOptions tune key generation, for tests.
	keyOptions []signing.KeyOption
}

// SignOptions are inputs of the sign workflow.
type SignOptions struct {
	// PrivateKey is the secret key box, base64 or raw text.
	PrivateKey string
	// PrivateKeyPath is a file holding the secret key box.
	PrivateKeyPath string
	// Password decrypts the secret key.
	Password string
	// Files are the artifacts to sign.
	Files []string
	// getenv reads the environment fallbacks.
	getenv func(string) string
}

// Generate creates a keypair and stores or prints it.
func Generate(ctx context.Context, opts *GenerateOptions) error {
	ctx = logger.WithName(ctx, "bundle-signer")

	logger.Info(ctx, "Generating a new signing keypair")

	pair, err := signing.GenerateKey(opts.Password, opts.keyOptions...)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	if opts.KeyPath == "" {
		logger.InfoKV(ctx, "Generated keypair, store the private key securely",
			"private_key", pair.SecretKey, "public_key", pair.PublicKey)

		return nil
	}

	if err = signing.SaveKeyPair(pair, opts.KeyPath, opts.Force); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Saved keypair",
		"private_key_path", opts.KeyPath,
		"public_key_path", signing.PublicKeyPath(opts.KeyPath),
		"public_key", pair.PublicKey)

	if opts.Password == "" {
		logger.WarnKV(ctx, "The private key is not password protected")
	}

	return nil
}

// Sign writes a .sig file next to every artifact.
func Sign(ctx context.Context, opts *SignOptions) error {
	ctx = logger.WithName(ctx, "bundle-signer")

	if len(opts.Files) == 0 {
		return errNoFiles
	}

	cfg, err := resolveSigningConfig(opts)
	if err != nil {
		return err
	}

	for _, file := range opts.Files {
		signaturePath, err := signing.SignFile(cfg, file)
		if err != nil {
			return fmt.Errorf("sign %s: %w", file, err)
		}

		signature, err := os.ReadFile(signaturePath)
		if err != nil {
			return err
		}

		logger.InfoKV(ctx, "Signed artifact", "file", file, "signature_path", signaturePath)
		logger.DebugKV(ctx, "Signature", "value", string(signature))
	}

	return nil
}

// resolveSigningConfig applies flag, file and environment precedence.
func resolveSigningConfig(opts *SignOptions) (signing.SigningConfig, error) {
	getenv := opts.getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	key := opts.PrivateKey

	switch {
	case key != "":
	case opts.PrivateKeyPath != "":
		contents, err := os.ReadFile(filepath.Clean(opts.PrivateKeyPath))
		if err != nil {
			return signing.SigningConfig{}, fmt.Errorf("read private key: %w", err)
		}

		key = string(contents)
	default:
		fromEnv, err := readKeyValue(getenv(PrivateKeyEnv))
		if err != nil {
			return signing.SigningConfig{}, err
		}

		key = fromEnv
	}

	if strings.TrimSpace(key) == "" {
		return signing.SigningConfig{}, errNoPrivateKey
	}

	password := opts.Password
	if password == "" {
		password = getenv(PrivateKeyPasswordEnv)
	}

	return signing.SigningConfig{PrivateKey: key, Password: password}, nil
}

// readKeyValue treats value as a file path when such a file exists, as the key itself otherwise.
func readKeyValue(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	info, err := os.Stat(value)
	if err != nil || info.IsDir() {
		return value, nil //nolint:nilerr // Not a file: the value is the key.
	}

	contents, err := os.ReadFile(filepath.Clean(value))
	if err != nil {
		return "", fmt.Errorf("read private key: %w", err)
	}

	return string(contents), nil
}
