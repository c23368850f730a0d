package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/scrypt"
)

// Box layouts follow the minisign key and signature formats, so keys and
// signatures interoperate with the minisign and rsign tools.
const (
	keyIDSize    = 8
	saltSize     = 32
	checksumSize = 32

	// keynum: key id, ed25519 secret key, checksum.
	keynumSize = keyIDSize + ed25519.PrivateKeySize + checksumSize
	// algorithm, kdf, checksum algorithm, salt, opslimit, memlimit, keynum.
	secretKeyBoxSize = 2 + 2 + 2 + saltSize + 8 + 8 + keynumSize
	// algorithm, key id, ed25519 public key.
	publicKeyBoxSize = 2 + keyIDSize + ed25519.PublicKeySize

	untrustedCommentPrefix = "untrusted comment: "
	trustedCommentPrefix   = "trusted comment: "

	// DefaultOpsLimit and DefaultMemLimit are the scrypt limits used for new keys
	// (N=2^20, r=8, p=1).
	DefaultOpsLimit uint64 = 33554432
	DefaultMemLimit uint64 = 1073741824
)

var (
	algEd25519      = [2]byte{'E', 'd'}
	algPrehashed    = [2]byte{'E', 'D'}
	kdfScrypt       = [2]byte{'S', 'c'}
	kdfNone         = [2]byte{0, 0}
	checksumBlake2b = [2]byte{'B', '2'}
)

var (
	// ErrDecodeKey is returned for keys and signatures that are not valid boxes.
	ErrDecodeKey = errors.New("unable to decode box")
	// ErrWrongPassword is returned when an encrypted secret key does not decrypt with the given password.
	ErrWrongPassword = errors.New("wrong password for secret key")
)

// secretKey is a decoded, decrypted secret key box.
type secretKey struct {
	id  [keyIDSize]byte
	key ed25519.PrivateKey
}

// wipe zeroes the secret key material.
func (k *secretKey) wipe() {
	clear(k.key)
}

// kdfLimits are the scrypt cost limits stored in a secret key box.
type kdfLimits struct {
	ops uint64
	mem uint64
}

// encodeText wraps a box payload into the two-line text form and base64 encodes the text.
func encodeText(comment string, payload []byte) string {
	text := untrustedCommentPrefix + comment + "\n" + base64.StdEncoding.EncodeToString(payload) + "\n"

	return base64.StdEncoding.EncodeToString([]byte(text))
}

// boxText accepts either the raw text form or its base64 encoding and returns the text.
func boxText(encoded string) (string, error) {
	trimmed := strings.TrimSpace(encoded)
	if strings.HasPrefix(trimmed, untrustedCommentPrefix) {
		return trimmed, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecodeKey, err)
	}

	return strings.TrimSpace(string(decoded)), nil
}

// boxLines splits the text form into non-empty lines.
func boxLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))

	for _, line := range raw {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimRight(line, "\r"))
		}
	}

	return lines
}

// boxPayload returns the base64-decoded second line of a key box.
func boxPayload(encoded string) ([]byte, error) {
	text, err := boxText(encoded)
	if err != nil {
		return nil, err
	}

	lines := boxLines(text)
	if len(lines) < 2 || !strings.HasPrefix(lines[0], strings.TrimSpace(untrustedCommentPrefix)) {
		return nil, fmt.Errorf("%w: incomplete box", ErrDecodeKey)
	}

	payload, err := base64.StdEncoding.DecodeString(lines[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeKey, err)
	}

	return payload, nil
}

func encodePublicKey(id [keyIDSize]byte, key ed25519.PublicKey) string {
	payload := make([]byte, 0, publicKeyBoxSize)
	payload = append(payload, algEd25519[:]...)
	payload = append(payload, id[:]...)
	payload = append(payload, key...)

	return encodeText("minisign public key: "+keyIDString(id), payload)
}

func encodeSecretKey(key *secretKey, password string, limits kdfLimits) (string, error) {
	keynum := make([]byte, 0, keynumSize)
	keynum = append(keynum, key.id[:]...)
	keynum = append(keynum, key.key...)
	sum := keyChecksum(key.id, key.key)
	keynum = append(keynum, sum[:]...)

	defer clear(keynum)

	kdf := kdfNone
	salt := make([]byte, saltSize)

	var stored kdfLimits

	if password != "" {
		kdf = kdfScrypt
		stored = limits

		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("generate salt: %w", err)
		}

		if err := xorKeystream(keynum, password, salt, stored); err != nil {
			return "", err
		}
	}

	payload := make([]byte, 0, secretKeyBoxSize)
	payload = append(payload, algEd25519[:]...)
	payload = append(payload, kdf[:]...)
	payload = append(payload, checksumBlake2b[:]...)
	payload = append(payload, salt...)
	payload = binary.LittleEndian.AppendUint64(payload, stored.ops)
	payload = binary.LittleEndian.AppendUint64(payload, stored.mem)
	payload = append(payload, keynum...)

	comment := "rsign secret key"
	if password != "" {
		comment = "rsign encrypted secret key"
	}

	return encodeText(comment, payload), nil
}

// decodeSecretKey decodes a secret key box, decrypting it with password when needed.
func decodeSecretKey(encoded, password string) (*secretKey, error) {
	payload, err := boxPayload(encoded)
	if err != nil {
		return nil, err
	}

	if len(payload) != secretKeyBoxSize {
		return nil, fmt.Errorf("%w: secret key box has %d bytes", ErrDecodeKey, len(payload))
	}

	var alg, kdf, checksumAlg [2]byte

	copy(alg[:], payload[0:2])
	copy(kdf[:], payload[2:4])
	copy(checksumAlg[:], payload[4:6])

	if alg != algEd25519 || checksumAlg != checksumBlake2b {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrDecodeKey)
	}

	salt := payload[6 : 6+saltSize]
	limits := kdfLimits{
		ops: binary.LittleEndian.Uint64(payload[6+saltSize:]),
		mem: binary.LittleEndian.Uint64(payload[6+saltSize+8:]),
	}
	keynum := bytes.Clone(payload[secretKeyBoxSize-keynumSize:])

	defer clear(keynum)

	switch kdf {
	case kdfScrypt:
		if err = xorKeystream(keynum, password, salt, limits); err != nil {
			return nil, err
		}
	case kdfNone:
	default:
		return nil, fmt.Errorf("%w: unsupported key derivation", ErrDecodeKey)
	}

	key := &secretKey{key: make(ed25519.PrivateKey, ed25519.PrivateKeySize)}
	copy(key.id[:], keynum[:keyIDSize])
	copy(key.key, keynum[keyIDSize:keyIDSize+ed25519.PrivateKeySize])

	want := keynum[keyIDSize+ed25519.PrivateKeySize:]
	got := keyChecksum(key.id, key.key)

	if subtle.ConstantTimeCompare(want, got[:]) != 1 {
		key.wipe()

		if kdf == kdfScrypt {
			return nil, ErrWrongPassword
		}

		return nil, fmt.Errorf("%w: checksum mismatch", ErrDecodeKey)
	}

	return key, nil
}

// keyChecksum is BLAKE2b-256 over the algorithm, key id and secret key.
func keyChecksum(id [keyIDSize]byte, key ed25519.PrivateKey) [checksumSize]byte {
	buf := make([]byte, 0, 2+keyIDSize+ed25519.PrivateKeySize)
	buf = append(buf, algEd25519[:]...)
	buf = append(buf, id[:]...)
	buf = append(buf, key...)

	defer clear(buf)

	return blake2b.Sum256(buf)
}

// xorKeystream encrypts or decrypts keynum in place with an scrypt-derived stream.
func xorKeystream(keynum []byte, password string, salt []byte, limits kdfLimits) error {
	n, r, p := scryptParams(limits)

	stream, err := scrypt.Key([]byte(password), salt, n, r, p, len(keynum))
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}

	defer clear(stream)

	subtle.XORBytes(keynum, keynum, stream)

	return nil
}

// scryptParams converts opslimit/memlimit into scrypt N, r, p the same way
// libsodium's crypto_pwhash_scryptsalsa208sha256 does.
func scryptParams(limits kdfLimits) (n, r, p int) {
	const minOps = 32768

	ops := max(limits.ops, minOps)
	r = 8

	var logN uint

	if ops < limits.mem/32 {
		p = 1
		maxN := ops / uint64(r*4)
		logN = pickLogN(maxN)
	} else {
		maxN := limits.mem / uint64(r*128)
		logN = pickLogN(maxN)

		maxRP := (ops / 4) / (uint64(1) << logN)
		if maxRP > 0x3fffffff {
			maxRP = 0x3fffffff
		}

		p = int(maxRP) / r
	}

	return 1 << logN, r, max(p, 1)
}

func pickLogN(maxN uint64) uint {
	logN := uint(1)
	for ; logN < 63; logN++ {
		if uint64(1)<<logN > maxN/2 {
			break
		}
	}

	return logN
}

func keyIDString(id [keyIDSize]byte) string {
	return fmt.Sprintf("%016X", binary.LittleEndian.Uint64(id[:]))
}
