package signing

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Cheap scrypt limits for tests (N=1024).
const (
	testOpsLimit = 32768
	testMemLimit = 16777216
)

func generateTestKey(t *testing.T, password string) *KeyPair {
	t.Helper()

	pair, err := GenerateKey(password, WithKDFLimits(testOpsLimit, testMemLimit))
	require.NoError(t, err)

	return pair
}

func writeArtifact(t *testing.T, name string, contents []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, contents, 0o755))

	return path
}

// TestSignFile_VerifyRoundTrip covers sign/verify for unencrypted and encrypted keys.
func TestSignFile_VerifyRoundTrip(t *testing.T) {
	t.Parallel()

	for _, password := range []string{"", "correct horse battery staple"} {
		pair := generateTestKey(t, password)
		artifact := []byte("#!/bin/sh\necho new release\n")
		path := writeArtifact(t, "app_1.0.1_amd64.AppImage", artifact)

		signaturePath, err := SignFile(SigningConfig{PrivateKey: pair.SecretKey, Password: password}, path)
		require.NoError(t, err)
		require.Equal(t, path+".sig", signaturePath)

		signature, err := os.ReadFile(signaturePath)
		require.NoError(t, err)

		require.NoError(t, Verify(artifact, string(signature), pair.PublicKey))

		// The signed file is untouched.
		unchanged, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, artifact, unchanged)
	}
}

// TestVerify_RejectsTamperedData flips each byte position in turn.
func TestVerify_RejectsTamperedData(t *testing.T) {
	t.Parallel()

	pair := generateTestKey(t, "")
	artifact := []byte("release payload")

	signature, err := SignBytes(SigningConfig{PrivateKey: pair.SecretKey}, artifact, "payload.bin")
	require.NoError(t, err)

	for i := range artifact {
		tampered := append([]byte(nil), artifact...)
		tampered[i] ^= 0x01

		require.ErrorIs(t, Verify(tampered, signature, pair.PublicKey), ErrSignatureInvalid)
	}
}

// TestVerify_RejectsOtherKey ensures another keypair's public key does not verify.
func TestVerify_RejectsOtherKey(t *testing.T) {
	t.Parallel()

	signer := generateTestKey(t, "")
	other := generateTestKey(t, "")
	artifact := []byte("release payload")

	signature, err := SignBytes(SigningConfig{PrivateKey: signer.SecretKey}, artifact, "payload.bin")
	require.NoError(t, err)

	require.ErrorIs(t, Verify(artifact, signature, other.PublicKey), ErrSignatureInvalid)
}

// TestVerify_RejectsMalformedInput makes sure garbage never panics and never verifies.
func TestVerify_RejectsMalformedInput(t *testing.T) {
	t.Parallel()

	pair := generateTestKey(t, "")
	artifact := []byte("release payload")

	signature, err := SignBytes(SigningConfig{PrivateKey: pair.SecretKey}, artifact, "payload.bin")
	require.NoError(t, err)

	cases := map[string][2]string{
		"signature not base64":  {"%%%", pair.PublicKey},
		"signature empty":       {"", pair.PublicKey},
		"signature truncated":   {signature[:len(signature)/2], pair.PublicKey},
		"public key not base64": {signature, "%%%"},
		"public key empty":      {signature, ""},
		"swapped":               {pair.PublicKey, signature},
	}

	for name, inputs := range cases {
		require.ErrorIs(t, Verify(artifact, inputs[0], inputs[1]), ErrSignatureInvalid, name)
	}
}

// TestSignature_TrustedComment checks the trusted comment layout.
func TestSignature_TrustedComment(t *testing.T) {
	t.Parallel()

	pair := generateTestKey(t, "")
	path := writeArtifact(t, "App.app.tar.gz", []byte("bundle"))

	signaturePath, err := SignFile(SigningConfig{PrivateKey: pair.SecretKey}, path)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(signaturePath, "App.app.tar.gz.sig"))

	encoded, err := os.ReadFile(signaturePath)
	require.NoError(t, err)

	text, err := base64.StdEncoding.DecodeString(string(encoded))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(text)), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "untrusted comment: "))
	require.Regexp(t, `^trusted comment: timestamp:\d+\tfile:App\.app\.tar\.gz$`, lines[2])
}

// TestDecodeSecretKey_WrongPassword distinguishes a wrong password from a broken key.
func TestDecodeSecretKey_WrongPassword(t *testing.T) {
	t.Parallel()

	pair := generateTestKey(t, "secret")
	path := writeArtifact(t, "app.exe", []byte("setup"))

	_, err := SignFile(SigningConfig{PrivateKey: pair.SecretKey, Password: "not the secret"}, path)
	require.ErrorIs(t, err, ErrWrongPassword)

	_, err = SignFile(SigningConfig{PrivateKey: pair.SecretKey}, path)
	require.ErrorIs(t, err, ErrWrongPassword)

	_, err = SignFile(SigningConfig{PrivateKey: "bm90IGEga2V5"}, path)
	require.ErrorIs(t, err, ErrDecodeKey)

	_, err = os.Stat(SignatureFilePath(path))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestDecodeSecretKey_AcceptsRawText accepts the key text without the base64 wrapper.
func TestDecodeSecretKey_AcceptsRawText(t *testing.T) {
	t.Parallel()

	pair := generateTestKey(t, "")

	raw, err := base64.StdEncoding.DecodeString(pair.SecretKey)
	require.NoError(t, err)

	artifact := []byte("payload")

	signature, err := SignBytes(SigningConfig{PrivateKey: string(raw)}, artifact, "payload")
	require.NoError(t, err)
	require.NoError(t, Verify(artifact, signature, pair.PublicKey))
}

// TestSaveKeyPair covers AlreadyExists, force and stale public key removal.
func TestSaveKeyPair(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "bundle.key")

	first := generateTestKey(t, "")
	require.NoError(t, SaveKeyPair(first, path, false))

	secret, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, first.SecretKey, string(secret))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	public, err := os.ReadFile(PublicKeyPath(path))
	require.NoError(t, err)
	require.Equal(t, first.PublicKey, string(public))

	second := generateTestKey(t, "")
	require.ErrorIs(t, SaveKeyPair(second, path, false), ErrKeyAlreadyExists)

	// Nothing changed on failure.
	secret, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, first.SecretKey, string(secret))

	require.NoError(t, SaveKeyPair(second, path, true))

	public, err = os.ReadFile(PublicKeyPath(path))
	require.NoError(t, err)
	require.Equal(t, second.PublicKey, string(public))
}

// TestScryptParams matches libsodium's parameter selection.
func TestScryptParams(t *testing.T) {
	t.Parallel()

	n, r, p := scryptParams(kdfLimits{ops: DefaultOpsLimit, mem: DefaultMemLimit})
	require.Equal(t, 1<<20, n)
	require.Equal(t, 8, r)
	require.Equal(t, 1, p)

	n, r, p = scryptParams(kdfLimits{ops: testOpsLimit, mem: testMemLimit})
	require.Equal(t, 1<<10, n)
	require.Equal(t, 8, r)
	require.Equal(t, 1, p)
}
