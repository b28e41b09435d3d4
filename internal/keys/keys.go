// Package keys generates API key material and computes the peppered
// one-way digests stored in place of key secrets.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Hash algorithm constants.
const (
	AlgorithmSHA256   = "sha256"
	AlgorithmArgon2id = "argon2id"
)

// DefaultPrefix is the recognizable prefix carried by every generated key.
const DefaultPrefix = "ars_"

const (
	// secretLength is the number of random bytes behind each key secret.
	// 32 bytes gives 256 bits of entropy.
	secretLength = 32

	// MinPepperLength is the minimum accepted pepper length in bytes.
	MinPepperLength = 16

	// displayLength is how many secret characters DisplayPrefix keeps.
	displayLength = 6
)

// Argon2id parameters, fixed so digests stay deterministic across restarts.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// argon2idMarker prefixes argon2id digests so they never collide with the
// bare-hex sha256 form in the unique digest index.
const argon2idMarker = "argon2id$"

// Common errors for key material handling.
var (
	// ErrUnsupportedAlgorithm indicates an unknown hash algorithm.
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

	// ErrPepperTooShort indicates the pepper does not meet the minimum length.
	ErrPepperTooShort = errors.New("pepper too short")
)

// Generator produces new API key secrets.
type Generator struct {
	prefix string
}

// NewGenerator creates a key generator. An empty prefix falls back to
// DefaultPrefix.
func NewGenerator(prefix string) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{prefix: prefix}
}

// Prefix returns the configured key prefix.
func (g *Generator) Prefix() string {
	return g.prefix
}

// Generate returns a new plaintext API key: the configured prefix followed
// by a URL-safe base64 encoding of 256 random bits.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, secretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return g.prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// DisplayPrefix returns the non-sensitive leading fragment of a plaintext
// key, suitable for listings ("ars_3fKx9p").
func (g *Generator) DisplayPrefix(plaintext string) string {
	secret := strings.TrimPrefix(plaintext, g.prefix)
	if len(secret) > displayLength {
		secret = secret[:displayLength]
	}
	return g.prefix + secret
}

// Hasher computes deterministic peppered digests of key secrets. The same
// plaintext always maps to the same digest, which is what makes digest
// lookup possible.
type Hasher struct {
	algorithm string
	pepper    []byte
}

// NewHasher creates a hasher bound to an algorithm and pepper.
func NewHasher(algorithm, pepper string) (*Hasher, error) {
	if len(pepper) < MinPepperLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrPepperTooShort, MinPepperLength, len(pepper))
	}

	switch algorithm {
	case AlgorithmSHA256, AlgorithmArgon2id:
	case "":
		algorithm = AlgorithmSHA256
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	return &Hasher{
		algorithm: algorithm,
		pepper:    []byte(pepper),
	}, nil
}

// Algorithm returns the hash algorithm in use.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Hash returns the digest of a plaintext key.
func (h *Hasher) Hash(plaintext string) string {
	switch h.algorithm {
	case AlgorithmArgon2id:
		return h.hashArgon2id(plaintext)
	default:
		return h.hashSHA256(plaintext)
	}
}

// hashSHA256 returns hex(sha256(plaintext || pepper)).
func (h *Hasher) hashSHA256(plaintext string) string {
	input := make([]byte, 0, len(plaintext)+len(h.pepper))
	input = append(input, plaintext...)
	input = append(input, h.pepper...)
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// hashArgon2id returns a marked argon2id digest. The salt is derived from
// the pepper so the function stays deterministic per deployment.
func (h *Hasher) hashArgon2id(plaintext string) string {
	salt := sha256.Sum256(h.pepper)
	digest := argon2.IDKey([]byte(plaintext), salt[:16], argonTime, argonMemory, argonThreads, argonKeyLen)
	return argon2idMarker + hex.EncodeToString(digest)
}

// Compare reports whether plaintext hashes to digest, in constant time.
func (h *Hasher) Compare(plaintext, digest string) bool {
	computed := h.Hash(plaintext)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
